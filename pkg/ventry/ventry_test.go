// Copyright 2025 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ventry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelvfs/vfscore/pkg/errno"
	"github.com/kernelvfs/vfscore/pkg/ventry"
	"github.com/kernelvfs/vfscore/pkg/vnode"
)

func newLinkedVnode(typ vnode.Type) *vnode.Vnode {
	vn := vnode.New(1, nil, typ, nil, nil)
	vn.Lock()
	vn.SetState(vnode.StateAlive)
	vn.Unlock()
	return vn
}

func TestHashNameIsStableAndSensitiveToContent(t *testing.T) {
	h1 := ventry.HashName("foo")
	h2 := ventry.HashName("foo")
	h3 := ventry.HashName("bar")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestAllocLinkedSetsNlinkAndParentEdge(t *testing.T) {
	rootVn := newLinkedVnode(vnode.TypeDir)
	root, err := ventry.AllocLinked("/", nil, rootVn.Ref(), 1, nil)
	require.NoError(t, err)
	assert.True(t, root.IsNamespaceRoot())

	childVn := newLinkedVnode(vnode.TypeRegular)
	child, err := ventry.AllocLinked("a.txt", root, childVn.Ref(), 1, nil)
	require.NoError(t, err)

	childVn.Lock()
	assert.EqualValues(t, 1, childVn.Nlink())
	childVn.Unlock()

	root.Lock()
	assert.Equal(t, 1, root.ChildCount())
	found, err := root.Lookup("a.txt")
	root.Unlock()
	require.NoError(t, err)
	assert.Same(t, child, found)
}

func TestAllocLinkedRejectsNameTooLong(t *testing.T) {
	vn := newLinkedVnode(vnode.TypeRegular)
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	_, err := ventry.AllocLinked(string(long), nil, vn.Ref(), 1, nil)
	assert.ErrorIs(t, err, errno.NAMETOOLONG)
}

func TestAddChildRejectsDuplicateName(t *testing.T) {
	rootVn := newLinkedVnode(vnode.TypeDir)
	root, err := ventry.AllocLinked("/", nil, rootVn.Ref(), 1, nil)
	require.NoError(t, err)

	v1 := newLinkedVnode(vnode.TypeRegular)
	_, err = ventry.AllocLinked("a", root, v1.Ref(), 1, nil)
	require.NoError(t, err)

	v2 := newLinkedVnode(vnode.TypeRegular)
	_, err = ventry.AllocLinked("a", root, v2.Ref(), 1, nil)
	assert.ErrorIs(t, err, errno.EXIST)
}

func TestRemoveChildTransitionsToUnlinked(t *testing.T) {
	rootVn := newLinkedVnode(vnode.TypeDir)
	root, err := ventry.AllocLinked("/", nil, rootVn.Ref(), 1, nil)
	require.NoError(t, err)

	childVn := newLinkedVnode(vnode.TypeRegular)
	child, err := ventry.AllocLinked("a", root, childVn.Ref(), 1, nil)
	require.NoError(t, err)

	root.Lock()
	removed, err := root.RemoveChild("a")
	root.Unlock()
	require.NoError(t, err)
	assert.Same(t, child, removed)

	removed.Lock()
	assert.Equal(t, ventry.StateUnlinked, removed.State())
	assert.Nil(t, removed.Parent())
	removed.Unlock()

	root.Lock()
	assert.Equal(t, 0, root.ChildCount())
	root.Unlock()
}

func TestRemoveChildMissingNameIsNoent(t *testing.T) {
	rootVn := newLinkedVnode(vnode.TypeDir)
	root, err := ventry.AllocLinked("/", nil, rootVn.Ref(), 1, nil)
	require.NoError(t, err)

	root.Lock()
	_, err = root.RemoveChild("missing")
	root.Unlock()
	assert.ErrorIs(t, err, errno.NOENT)
}

func TestShadowMountRejectsNonEmptyDirectory(t *testing.T) {
	rootVn := newLinkedVnode(vnode.TypeDir)
	root, err := ventry.AllocLinked("/", nil, rootVn.Ref(), 1, nil)
	require.NoError(t, err)
	childVn := newLinkedVnode(vnode.TypeRegular)
	_, err = ventry.AllocLinked("a", root, childVn.Ref(), 1, nil)
	require.NoError(t, err)

	mountVn := newLinkedVnode(vnode.TypeDir)
	mountRoot, err := ventry.AllocLinked("/", nil, mountVn.Ref(), 2, nil)
	require.NoError(t, err)

	root.Lock()
	err = root.ShadowMount(mountRoot)
	root.Unlock()
	assert.ErrorIs(t, err, errno.BUSY)
}

func TestShadowAndUnshadowMountRoundTrips(t *testing.T) {
	mountpointVn := newLinkedVnode(vnode.TypeDir)
	mountpoint, err := ventry.AllocLinked("mnt", nil, mountpointVn.Ref(), 1, nil)
	require.NoError(t, err)

	mountRootVn := newLinkedVnode(vnode.TypeDir)
	mountRoot, err := ventry.AllocLinked("/", nil, mountRootVn.Ref(), 2, nil)
	require.NoError(t, err)

	mountpoint.Lock()
	require.NoError(t, mountpoint.ShadowMount(mountRoot))
	assert.Same(t, mountRoot, mountpoint.MountTarget)
	mountpoint.Unlock()

	mountRoot.Lock()
	assert.Same(t, mountpoint, mountRoot.MountedOn)
	mountRootVnode := mountRoot.Vnode()
	mountRoot.Unlock()

	mountRootVnode.Lock()
	assert.Same(t, mountpointVn, mountRootVnode.Shadow)
	mountRootVnode.Unlock()

	mountpoint.Lock()
	unshadowed, err := mountpoint.UnshadowMount()
	mountpoint.Unlock()
	require.NoError(t, err)
	assert.Same(t, mountRoot, unshadowed)

	mountRoot.Lock()
	assert.Nil(t, mountRoot.MountedOn)
	mountRoot.Unlock()
}

func TestShadowMountStacksOntoMountedVentryAndPopsInReverse(t *testing.T) {
	mountpointVn := newLinkedVnode(vnode.TypeDir)
	mountpoint, err := ventry.AllocLinked("mnt", nil, mountpointVn.Ref(), 1, nil)
	require.NoError(t, err)

	firstVn := newLinkedVnode(vnode.TypeDir)
	first, err := ventry.AllocLinked("/", nil, firstVn.Ref(), 2, nil)
	require.NoError(t, err)

	secondVn := newLinkedVnode(vnode.TypeDir)
	second, err := ventry.AllocLinked("/", nil, secondVn.Ref(), 3, nil)
	require.NoError(t, err)

	mountpoint.Lock()
	require.NoError(t, mountpoint.ShadowMount(first))
	require.NoError(t, mountpoint.ShadowMount(second))
	assert.Same(t, second, mountpoint.MountTarget)
	mountpoint.Unlock()

	// The second mount's shadow chain covers the first mount's root,
	// which in turn covers the original mountpoint vnode.
	secondVn.Lock()
	assert.Same(t, firstVn, secondVn.Shadow)
	secondVn.Unlock()
	firstVn.Lock()
	assert.Same(t, mountpointVn, firstVn.Shadow)
	firstVn.Unlock()

	second.Lock()
	assert.Same(t, mountpoint, second.MountedOn)
	second.Unlock()
	first.Lock()
	assert.Nil(t, first.MountedOn)
	first.Unlock()

	mountpoint.Lock()
	popped, err := mountpoint.UnshadowMount()
	mountpoint.Unlock()
	require.NoError(t, err)
	assert.Same(t, second, popped)

	mountpoint.Lock()
	assert.Same(t, first, mountpoint.MountTarget)
	mountpoint.Unlock()
	first.Lock()
	assert.Same(t, mountpoint, first.MountedOn)
	first.Unlock()

	mountpoint.Lock()
	popped, err = mountpoint.UnshadowMount()
	mountpoint.Unlock()
	require.NoError(t, err)
	assert.Same(t, first, popped)

	mountpoint.Lock()
	assert.Nil(t, mountpoint.MountTarget)
	mountpoint.Unlock()
}

func TestUnshadowMountRejectsBusyMountedRoot(t *testing.T) {
	mountpointVn := newLinkedVnode(vnode.TypeDir)
	mountpoint, err := ventry.AllocLinked("mnt", nil, mountpointVn.Ref(), 1, nil)
	require.NoError(t, err)

	mountRootVn := newLinkedVnode(vnode.TypeDir)
	mountRoot, err := ventry.AllocLinked("/", nil, mountRootVn.Ref(), 2, nil)
	require.NoError(t, err)

	mountpoint.Lock()
	require.NoError(t, mountpoint.ShadowMount(mountRoot))
	mountpoint.Unlock()

	childVn := newLinkedVnode(vnode.TypeRegular)
	_, err = ventry.AllocLinked("a", mountRoot, childVn.Ref(), 2, nil)
	require.NoError(t, err)

	mountpoint.Lock()
	_, err = mountpoint.UnshadowMount()
	mountpoint.Unlock()
	assert.ErrorIs(t, err, errno.BUSY)
}

func TestSyncVnDrainsBottomUpOnceAllUnlinkedAndChildless(t *testing.T) {
	rootVn := newLinkedVnode(vnode.TypeDir)
	root, err := ventry.AllocLinked("/", nil, rootVn.Ref(), 1, nil)
	require.NoError(t, err)

	dirVn := newLinkedVnode(vnode.TypeDir)
	dir, err := ventry.AllocLinked("d", root, dirVn.Ref(), 1, nil)
	require.NoError(t, err)

	fileVn := newLinkedVnode(vnode.TypeRegular)
	file, err := ventry.AllocLinked("f", dir, fileVn.Ref(), 1, nil)
	require.NoError(t, err)

	dir.Lock()
	removedFile, err := dir.RemoveChild("f")
	dir.Unlock()
	require.NoError(t, err)
	assert.Same(t, file, removedFile)

	// RemoveChild detaches the entry from its parent's map immediately;
	// draining it is the caller's job, done by calling SyncVn on the
	// removed entry itself, the same way pkg/fdtable's Close does.
	removedFile.SyncVn()
	file.Lock()
	assert.Equal(t, ventry.StateDead, file.State())
	file.Unlock()

	root.Lock()
	removedDir, err := root.RemoveChild("d")
	root.Unlock()
	require.NoError(t, err)

	removedDir.SyncVn()
	dir.Lock()
	assert.Equal(t, ventry.StateDead, dir.State())
	dir.Unlock()
}
