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

package resolver

import (
	"context"
	"time"

	"github.com/kernelvfs/vfscore/pkg/bytestr"
	"github.com/kernelvfs/vfscore/pkg/errno"
	"github.com/kernelvfs/vfscore/pkg/vfs"
	"github.com/kernelvfs/vfscore/pkg/ventry"
	"github.com/kernelvfs/vfscore/pkg/vnode"
)

// Attr is a point-in-time snapshot of a vnode's attributes, returned by
// Stat and Lstat.
type Attr struct {
	Type   vnode.Type
	Size   int64
	Blocks int64
	Nlink  uint32
	Dev    uint64
	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time
	Btime  time.Time
}

// Snapshot captures the attributes of vn. Exported for callers, such as
// pkg/fdtable, that reach a vnode other than through a resolved path.
func Snapshot(vn *vnode.Vnode) Attr { return snapshotAttr(vn) }

func snapshotAttr(vn *vnode.Vnode) Attr {
	vn.Lock()
	defer vn.Unlock()
	return Attr{
		Type:   vn.Type(),
		Size:   vn.Size(),
		Blocks: vn.Blocks(),
		Nlink:  vn.Nlink(),
		Dev:    vn.Dev,
		Atime:  vn.Atime(),
		Mtime:  vn.Mtime(),
		Ctime:  vn.Ctime(),
		Btime:  vn.Btime(),
	}
}

// Lookup resolves path to a ventry, following symlinks and mounts.
func (r *Resolver) Lookup(ctx context.Context, cwd *ventry.Ventry, path string) (*ventry.Ventry, error) {
	return r.Resolve(ctx, cwd, path, ResolveOptions{})
}

// Stat resolves path, following a trailing symlink, and snapshots its
// attributes.
func (r *Resolver) Stat(ctx context.Context, cwd *ventry.Ventry, path string) (Attr, error) {
	ve, err := r.Resolve(ctx, cwd, path, ResolveOptions{})
	if err != nil {
		return Attr{}, err
	}
	return snapshotAttr(ve.Vnode()), nil
}

// Lstat resolves path without following a final symlink.
func (r *Resolver) Lstat(ctx context.Context, cwd *ventry.Ventry, path string) (Attr, error) {
	ve, err := r.Resolve(ctx, cwd, path, ResolveOptions{NoFollowLast: true})
	if err != nil {
		return Attr{}, err
	}
	return snapshotAttr(ve.Vnode()), nil
}

// Readlink resolves path without following the final symlink and
// returns its target text.
func (r *Resolver) Readlink(ctx context.Context, cwd *ventry.Ventry, path string) (string, error) {
	ve, err := r.Resolve(ctx, cwd, path, ResolveOptions{NoFollowLast: true})
	if err != nil {
		return "", err
	}
	return ve.Vnode().Readlink(ctx)
}

func (r *Resolver) beginWrite(dirVe *ventry.Ventry) (*vfs.Vfs, error) {
	dirVe.Lock()
	vfsID := dirVe.VfsID
	dirVe.Unlock()
	v, err := r.vfsFor(vfsID)
	if err != nil {
		return nil, err
	}
	if err := v.BeginReadOp(); err != nil {
		return nil, err
	}
	return v, nil
}

// create is the shared body of Create/Mknod/Symlink/Mkdir: resolve the
// parent directory, invoke the vnode-level driver op, and cache the
// result as a new linked ventry.
func (r *Resolver) create(ctx context.Context, cwd *ventry.Ventry, path string, mk func(dir *vnode.Vnode, name string) (*vnode.Vnode, error)) (*ventry.Ventry, error) {
	dirVe, name, err := r.ResolveParent(ctx, cwd, path)
	if err != nil {
		return nil, err
	}
	dirVe = followMounts(dirVe)

	v, err := r.beginWrite(dirVe)
	if err != nil {
		return nil, err
	}
	defer v.EndReadOp()

	dirVe.Lock()
	if _, err := dirVe.Lookup(name); err == nil {
		dirVe.Unlock()
		return nil, errno.EXIST
	}
	dirVn := dirVe.Vnode()
	vfsID := dirVe.VfsID
	dirVe.Unlock()

	childVn, err := mk(dirVn, name)
	if err != nil {
		return nil, err
	}
	childRef := childVn.Ref().Get()

	dirVe.Lock()
	defer dirVe.Unlock()
	return ventry.AllocLinked(name, dirVe, childRef, vfsID, nil)
}

// Create makes a new regular file named path.
func (r *Resolver) Create(ctx context.Context, cwd *ventry.Ventry, path string, mode uint32) (*ventry.Ventry, error) {
	return r.create(ctx, cwd, path, func(dir *vnode.Vnode, name string) (*vnode.Vnode, error) {
		return dir.Create(ctx, name, mode)
	})
}

// Mknod makes a new device node named path.
func (r *Resolver) Mknod(ctx context.Context, cwd *ventry.Ventry, path string, mode uint32, dev uint64) (*ventry.Ventry, error) {
	return r.create(ctx, cwd, path, func(dir *vnode.Vnode, name string) (*vnode.Vnode, error) {
		return dir.Mknod(ctx, name, mode, dev)
	})
}

// Symlink creates a new symlink named path pointing at target.
func (r *Resolver) Symlink(ctx context.Context, cwd *ventry.Ventry, path string, target string) (*ventry.Ventry, error) {
	return r.create(ctx, cwd, path, func(dir *vnode.Vnode, name string) (*vnode.Vnode, error) {
		return dir.Symlink(ctx, name, target)
	})
}

// Mkdir creates a new directory named path.
func (r *Resolver) Mkdir(ctx context.Context, cwd *ventry.Ventry, path string, mode uint32) (*ventry.Ventry, error) {
	return r.create(ctx, cwd, path, func(dir *vnode.Vnode, name string) (*vnode.Vnode, error) {
		return dir.Mkdir(ctx, name, mode)
	})
}

// Hardlink creates a new name, path, linking the existing file named by
// targetPath. Both paths must resolve within the same vfs instance;
// crossing instances is rejected with errno.XDEV.
func (r *Resolver) Hardlink(ctx context.Context, cwd *ventry.Ventry, path string, targetPath string) error {
	targetVe, err := r.Resolve(ctx, cwd, targetPath, ResolveOptions{NoFollowLast: true})
	if err != nil {
		return err
	}

	dirVe, name, err := r.ResolveParent(ctx, cwd, path)
	if err != nil {
		return err
	}
	dirVe = followMounts(dirVe)

	dirVe.Lock()
	dirVfsID := dirVe.VfsID
	dirVe.Unlock()
	targetVe.Lock()
	targetVfsID := targetVe.VfsID
	targetVe.Unlock()
	if dirVfsID != targetVfsID {
		return errno.XDEV
	}

	v, err := r.beginWrite(dirVe)
	if err != nil {
		return err
	}
	defer v.EndReadOp()

	dirVe.Lock()
	if _, err := dirVe.Lookup(name); err == nil {
		dirVe.Unlock()
		return errno.EXIST
	}
	dirVn := dirVe.Vnode()
	vfsID := dirVe.VfsID
	dirVe.Unlock()

	targetVn := targetVe.Vnode()
	if err := dirVn.Hardlink(ctx, name, targetVn); err != nil {
		return err
	}

	targetRef := targetVn.Ref().Get()
	dirVe.Lock()
	defer dirVe.Unlock()
	_, err = ventry.AllocLinked(name, dirVe, targetRef, vfsID, nil)
	return err
}

// unlinkLike is the shared body of Unlink/Rmdir: resolve the parent,
// invoke the driver op, and drop the ventry from its parent's cache.
func (r *Resolver) unlinkLike(ctx context.Context, cwd *ventry.Ventry, path string, rm func(dir *vnode.Vnode, name string) error) error {
	dirVe, name, err := r.ResolveParent(ctx, cwd, path)
	if err != nil {
		return err
	}
	dirVe = followMounts(dirVe)

	v, err := r.beginWrite(dirVe)
	if err != nil {
		return err
	}
	defer v.EndReadOp()

	dirVe.Lock()
	dirVn := dirVe.Vnode()
	dirVe.Unlock()

	if err := rm(dirVn, name); err != nil {
		return err
	}

	dirVe.Lock()
	defer dirVe.Unlock()
	removed, err := dirVe.RemoveChild(name)
	if err != nil {
		return err
	}

	vn := removed.Vnode()
	vn.Lock()
	vn.DecNlink()
	nlink := vn.Nlink()
	vn.Unlock()

	// removed stays StateUnlinked and keeps its vnode reference even
	// once nlink reaches zero here, so a descriptor already open on it
	// can still reach the vnode; pkg/fdtable's Close drains it with
	// SyncVn. An entry that no descriptor refers to is not drained.
	_ = nlink
	return nil
}

// Unlink removes the non-directory entry named path.
func (r *Resolver) Unlink(ctx context.Context, cwd *ventry.Ventry, path string) error {
	return r.unlinkLike(ctx, cwd, path, func(dir *vnode.Vnode, name string) error {
		return dir.Unlink(ctx, name)
	})
}

// Rmdir removes the empty directory named path.
func (r *Resolver) Rmdir(ctx context.Context, cwd *ventry.Ventry, path string) error {
	return r.unlinkLike(ctx, cwd, path, func(dir *vnode.Vnode, name string) error {
		return dir.Rmdir(ctx, name)
	})
}

// Readdir lists the directory named path starting at offset.
func (r *Resolver) Readdir(ctx context.Context, cwd *ventry.Ventry, path string, offset int64) ([]vnode.Dirent, error) {
	ve, err := r.Resolve(ctx, cwd, path, ResolveOptions{WantDir: true})
	if err != nil {
		return nil, err
	}
	return ve.Vnode().Readdir(ctx, offset)
}

// Rename moves the entry named oldPath to newPath, both resolved
// relative to cwd. Cross-vfs renames are rejected with EXDEV.
func (r *Resolver) Rename(ctx context.Context, cwd *ventry.Ventry, oldPath, newPath string) error {
	oldDirVe, oldName, err := r.ResolveParent(ctx, cwd, oldPath)
	if err != nil {
		return err
	}
	newDirVe, newName, err := r.ResolveParent(ctx, cwd, newPath)
	if err != nil {
		return err
	}
	oldDirVe = followMounts(oldDirVe)
	newDirVe = followMounts(newDirVe)

	oldDirVe.Lock()
	oldVfsID := oldDirVe.VfsID
	oldDirVe.Unlock()
	newDirVe.Lock()
	newVfsID := newDirVe.VfsID
	newDirVe.Unlock()
	if oldVfsID != newVfsID {
		return errno.XDEV
	}

	v, err := r.beginWrite(oldDirVe)
	if err != nil {
		return err
	}
	defer v.EndReadOp()

	oldDirVe.Lock()
	movedVe, err := oldDirVe.Lookup(oldName)
	oldDirVe.Unlock()
	if err != nil {
		return err
	}
	movedVn := movedVe.Vnode()

	if newDirVe == movedVe || isAncestor(movedVe, newDirVe) {
		return errno.INVAL
	}

	newDirVe.Lock()
	if _, err := newDirVe.Lookup(newName); err == nil {
		newDirVe.Unlock()
		return errno.EXIST
	}
	newDirVn := newDirVe.Vnode()
	newDirVe.Unlock()

	if err := newDirVn.Hardlink(ctx, newName, movedVn); err != nil {
		return err
	}

	oldDirVe.Lock()
	oldDirVn := oldDirVe.Vnode()
	oldDirVe.Unlock()
	if err := oldDirVn.Unlink(ctx, oldName); err != nil {
		return err
	}

	oldDirVe.Lock()
	_, err = oldDirVe.RemoveChild(oldName)
	oldDirVe.Unlock()
	if err != nil {
		return err
	}

	movedVn.Lock()
	movedVn.DecNlink()
	movedVn.Unlock()

	movedRef := movedVn.Ref().Get()
	newDirVe.Lock()
	_, err = ventry.AllocLinked(newName, newDirVe, movedRef, newVfsID, nil)
	newDirVe.Unlock()
	if err != nil {
		movedRef.Put()
		return err
	}

	movedVe.SyncVn()
	return nil
}

func isAncestor(candidate, ve *ventry.Ventry) bool {
	for cur := ve; cur != nil; cur = parentOf(cur) {
		if cur == candidate {
			return true
		}
		cur.Lock()
		root := cur.IsNamespaceRoot()
		cur.Unlock()
		if root {
			break
		}
	}
	return false
}

// Chdir resolves path and returns it as a directory ventry suitable
// for use as a new current-working-directory handle.
func (r *Resolver) Chdir(ctx context.Context, cwd *ventry.Ventry, path string) (*ventry.Ventry, error) {
	return r.Resolve(ctx, cwd, path, ResolveOptions{WantDir: true})
}

// Mount creates a new vfs instance using driverName and grafts its
// root onto the ventry named by mountPoint. Any ventries already
// cached under mountPoint are evicted from the cache first: they name
// real entries in the filesystem mountPoint belongs to, not the newly
// mounted one, and become resolvable again once the mount is undone.
func (r *Resolver) Mount(ctx context.Context, cwd *ventry.Ventry, mountPoint string, driverName string, opts vfs.MountOptions) error {
	ve, err := r.Resolve(ctx, cwd, mountPoint, ResolveOptions{WantDir: true, NoCrossMount: true})
	if err != nil {
		return err
	}

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.mu.Unlock()

	newVfs, err := vfs.New(ctx, id, r.registry, driverName, opts)
	if err != nil {
		return err
	}

	ve.Lock()
	ve.EvictCache()
	err = ve.ShadowMount(newVfs.Root())
	ve.Unlock()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.vfsByID[id] = newVfs
	r.mu.Unlock()
	return nil
}

// Unmount drains and detaches the filesystem mounted at mountPoint.
func (r *Resolver) Unmount(ctx context.Context, cwd *ventry.Ventry, mountPoint string) error {
	ve, err := r.Resolve(ctx, cwd, mountPoint, ResolveOptions{WantDir: true, NoCrossMount: true})
	if err != nil {
		return err
	}

	ve.Lock()
	mountedRoot, err := ve.UnshadowMount()
	ve.Unlock()
	if err != nil {
		return err
	}

	mountedRoot.Lock()
	vfsID := mountedRoot.VfsID
	mountedRoot.Unlock()

	v, err := r.vfsFor(vfsID)
	if err != nil {
		return err
	}
	if err := v.Unmount(ctx); err != nil {
		ve.Lock()
		ve.ShadowMount(mountedRoot)
		ve.Unlock()
		return err
	}

	r.mu.Lock()
	delete(r.vfsByID, vfsID)
	r.mu.Unlock()
	return nil
}

// ReplaceRoot promotes the filesystem mounted at path to be the
// namespace root. Entries cached under the promoted filesystem's root
// are evicted first, as Mount evicts a mountpoint's cache, and
// re-resolve through its driver afterwards. It composes an unshadow of
// path's own mount with an
// unshadow of whatever the fixed root ventry currently shadows (if a
// previous ReplaceRoot has run), a graft of the displaced root as a
// plain child named "old" of the promoted filesystem, and a reshadow
// of the fixed root ventry onto it. The fixed root ventry's own
// identity never changes -- only what it shadows -- so a *Ventry held
// from before the call is stale but not dangling, and the previous
// root's content remains reachable at "/old" rather than discarded.
func (r *Resolver) ReplaceRoot(ctx context.Context, cwd *ventry.Ventry, path string) error {
	mp, err := r.Resolve(ctx, cwd, path, ResolveOptions{WantDir: true, NoCrossMount: true})
	if err != nil {
		return err
	}

	mp.Lock()
	if target := mp.MountTarget; target != nil {
		target.Lock()
		target.EvictCache()
		target.Unlock()
	}
	newRootVe, err := mp.UnshadowMount()
	mp.Unlock()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	root := r.rootVE

	root.Lock()
	hadMount := root.MountTarget != nil
	root.Unlock()

	// oldRootVe names whatever root currently stands for, so it can be
	// grafted under the promoted root as "old". If a previous
	// ReplaceRoot already shadowed root, that shadowed ventry is reused
	// directly; otherwise root still names its vnode directly and a
	// fresh ventry is minted to hold a second link to that same vnode,
	// the same way Hardlink mints a second name for an existing vnode.
	var oldRootVe *ventry.Ventry
	if hadMount {
		root.Lock()
		oldRootVe, err = root.UnshadowMount()
		root.Unlock()
		if err != nil {
			mp.Lock()
			mp.ShadowMount(newRootVe)
			mp.Unlock()
			return err
		}
	} else {
		root.Lock()
		vnRef := root.Vnode().Ref().Get()
		vfsID := root.VfsID
		root.Unlock()
		oldRootVe, err = ventry.AllocLinked("old", nil, vnRef, vfsID, nil)
		if err != nil {
			vnRef.Put()
			mp.Lock()
			mp.ShadowMount(newRootVe)
			mp.Unlock()
			return err
		}
	}

	oldRootVe.Lock()
	oldRootVe.Name = bytestr.NewName("old")
	oldRootVe.Unlock()

	newRootVe.Lock()
	addErr := newRootVe.AddChild(oldRootVe)
	newRootVe.Unlock()
	if addErr != nil {
		if hadMount {
			root.Lock()
			root.ShadowMount(oldRootVe)
			root.Unlock()
		}
		mp.Lock()
		mp.ShadowMount(newRootVe)
		mp.Unlock()
		return addErr
	}

	root.Lock()
	root.EvictCache()
	err = root.ShadowMount(newRootVe)
	root.Unlock()
	return err
}
