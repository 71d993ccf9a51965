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

package vfs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelvfs/vfscore/pkg/errno"
	"github.com/kernelvfs/vfscore/pkg/ventry"
	"github.com/kernelvfs/vfscore/pkg/vfs"
	"github.com/kernelvfs/vfscore/pkg/vnode"
)

type stubDriver struct {
	mountErr error
}

func (d *stubDriver) Mount(ctx context.Context, opts vfs.MountOptions, state *vnode.VfsState) (*vnode.Vnode, error) {
	if d.mountErr != nil {
		return nil, d.mountErr
	}
	root := vnode.New(1, state, vnode.TypeDir, nil, nil)
	root.Lock()
	root.SetState(vnode.StateAlive)
	root.Unlock()
	return root, nil
}

func newRegistry(t *testing.T, name string, d vfs.Driver) *vfs.Registry {
	t.Helper()
	r := vfs.NewRegistry()
	require.NoError(t, r.Register(name, d))
	return r
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := vfs.NewRegistry()
	require.NoError(t, r.Register("memfs", &stubDriver{}))
	err := r.Register("memfs", &stubDriver{})
	assert.ErrorIs(t, err, errno.EXIST)
}

func TestNewUnknownDriverIsNotsup(t *testing.T) {
	r := vfs.NewRegistry()
	_, err := vfs.New(context.Background(), 1, r, "nope", vfs.MountOptions{})
	assert.ErrorIs(t, err, errno.NOTSUP)
}

func TestNewWiresRootStateFromOptions(t *testing.T) {
	r := newRegistry(t, "stub", &stubDriver{})
	v, err := vfs.New(context.Background(), 7, r, "stub", vfs.MountOptions{ReadOnly: true})
	require.NoError(t, err)
	assert.EqualValues(t, 7, v.State().ID)
	assert.True(t, v.State().ReadOnly)

	root := v.Root()
	root.Lock()
	assert.True(t, root.IsNamespaceRoot())
	root.Unlock()
}

func TestBeginReadOpFailsAfterUnmount(t *testing.T) {
	r := newRegistry(t, "stub", &stubDriver{})
	v, err := vfs.New(context.Background(), 1, r, "stub", vfs.MountOptions{})
	require.NoError(t, err)

	require.NoError(t, v.Unmount(context.Background()))
	assert.ErrorIs(t, v.BeginReadOp(), errno.IO)
}

func TestUnmountWaitsForInFlightReadOp(t *testing.T) {
	r := newRegistry(t, "stub", &stubDriver{})
	v, err := vfs.New(context.Background(), 1, r, "stub", vfs.MountOptions{})
	require.NoError(t, err)

	require.NoError(t, v.BeginReadOp())

	done := make(chan error, 1)
	go func() { done <- v.Unmount(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Unmount completed while a read op was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	v.EndReadOp()
	require.NoError(t, <-done)
	assert.ErrorIs(t, v.BeginReadOp(), errno.IO)
}

func TestUnmountFailsWhenRootHasChildren(t *testing.T) {
	r := newRegistry(t, "stub", &stubDriver{})
	v, err := vfs.New(context.Background(), 1, r, "stub", vfs.MountOptions{})
	require.NoError(t, err)

	childVn := vnode.New(2, v.State(), vnode.TypeRegular, nil, nil)
	childVn.Lock()
	childVn.SetState(vnode.StateAlive)
	childVn.Unlock()

	root := v.Root()
	root.Lock()
	_, err = ventry.AllocLinked("child", root, childVn.Ref(), v.State().ID, nil)
	root.Unlock()
	require.NoError(t, err)

	err = v.Unmount(context.Background())
	assert.ErrorIs(t, err, errno.BUSY)
}

func TestAllocVnodeIDIsMonotonic(t *testing.T) {
	r := newRegistry(t, "stub", &stubDriver{})
	v, err := vfs.New(context.Background(), 1, r, "stub", vfs.MountOptions{})
	require.NoError(t, err)

	a := v.AllocVnodeID()
	b := v.AllocVnodeID()
	assert.Less(t, a, b)
}
