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

package vnode

import (
	"context"

	"github.com/kernelvfs/vfscore/pkg/errno"
)

// Load ensures the vnode's driver-side state has been populated,
// calling the Load op at most once per vnode.
//
// LOCKS_EXCLUDED(vn)
func (vn *Vnode) Load(ctx context.Context) error {
	vn.Lock()
	if vn.HasFlag(FlagLoaded) {
		vn.Unlock()
		return nil
	}
	op := vn.Ops().Load
	vn.Unlock()

	if op == nil {
		return nil
	}
	if err := op(ctx, vn); err != nil {
		return err
	}

	vn.Lock()
	vn.SetFlag(FlagLoaded)
	vn.Unlock()
	return nil
}

// Save flushes driver-side state if the vnode is dirty, clearing the
// dirty flag on success.
//
// LOCKS_EXCLUDED(vn)
func (vn *Vnode) Save(ctx context.Context) error {
	vn.Lock()
	if !vn.HasFlag(FlagDirty) {
		vn.Unlock()
		return nil
	}
	op := vn.Ops().Save
	vn.Unlock()

	if op == nil {
		return errno.NOTSUP
	}
	if err := op(ctx, vn); err != nil {
		return err
	}

	vn.Lock()
	vn.ClearFlag(FlagDirty)
	vn.Unlock()
	return nil
}

// Read validates offset against the vnode's content and delegates to
// the driver's Read op under the content read lock. Offset strictly
// greater than the vnode's size is rejected with EOVERFLOW; offset ==
// size is allowed and yields a zero-length read.
//
// LOCKS_EXCLUDED(vn)
func (vn *Vnode) Read(ctx context.Context, offset int64, p []byte) (int, error) {
	if offset < 0 {
		return 0, errno.INVAL
	}
	op := vn.Ops().Read
	if op == nil {
		return 0, errno.NOTSUP
	}

	vn.content.RLock()
	defer vn.content.RUnlock()

	vn.Lock()
	size := vn.size
	vn.Unlock()
	if offset > size {
		return 0, errno.OVERFLOW
	}

	vn.Lock()
	vn.touchAccess()
	vn.Unlock()

	return op(ctx, vn, offset, p)
}

// Write validates offset and the vfs's writability, then delegates to
// the driver's Write op under the content write lock. Offset strictly
// greater than the vnode's current size is rejected with EOVERFLOW, the
// same boundary as Read's; a write starting exactly at the current end
// may extend the file by any length.
//
// LOCKS_EXCLUDED(vn)
func (vn *Vnode) Write(ctx context.Context, offset int64, p []byte) (int, error) {
	if offset < 0 {
		return 0, errno.INVAL
	}
	if vn.Vfs != nil && vn.Vfs.ReadOnly {
		return 0, errno.ROFS
	}
	op := vn.Ops().Write
	if op == nil {
		return 0, errno.NOTSUP
	}

	vn.Lock()
	size := vn.size
	vn.Unlock()
	if offset > size {
		return 0, errno.OVERFLOW
	}

	vn.content.Lock()
	defer vn.content.Unlock()

	n, err := op(ctx, vn, offset, p)
	if err == nil && n > 0 {
		vn.Lock()
		if offset+int64(n) > vn.size {
			vn.size = offset + int64(n)
		}
		vn.SetFlag(FlagDirty)
		vn.touchModify()
		vn.Unlock()
	}
	return n, err
}

// Map validates offset against size and delegates to the driver's Map
// op, used by the fdtable layer's get_page/get_vm_file operations.
//
// LOCKS_EXCLUDED(vn)
func (vn *Vnode) Map(ctx context.Context, offset int64, length int) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, errno.INVAL
	}
	vn.Lock()
	size := vn.size
	vn.Unlock()
	if offset > size {
		return nil, errno.OVERFLOW
	}
	op := vn.Ops().Map
	if op == nil {
		return nil, errno.NOTSUP
	}

	vn.content.RLock()
	defer vn.content.RUnlock()
	return op(ctx, vn, offset, length)
}

// Lookup delegates to the driver's Lookup op; dir must be a directory.
//
// LOCKS_EXCLUDED(dir)
func (dir *Vnode) Lookup(ctx context.Context, name string) (*Vnode, error) {
	dir.Lock()
	typ := dir.typ
	op := dir.Ops().Lookup
	dir.Unlock()

	if typ != TypeDir {
		return nil, errno.NOTDIR
	}
	if op == nil {
		return nil, errno.NOTSUP
	}
	return op(ctx, dir, name)
}

// Create, Mknod, Symlink, and Mkdir share the write-creating
// preconditions: dir must be a directory, the name must fit, and the
// owning vfs must be writable.
//
// LOCKS_EXCLUDED(dir)
func (dir *Vnode) Create(ctx context.Context, name string, mode uint32) (*Vnode, error) {
	dir.Lock()
	err := checkWriteTarget(dir, name)
	op := dir.Ops().Create
	dir.Unlock()
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, errno.NOTSUP
	}
	return op(ctx, dir, name, mode)
}

// Mknod creates a device node named name inside dir. mode must encode
// a block or character device type (S_IFBLK/S_IFCHR); anything else is
// rejected with EINVAL before the driver is ever called.
//
// LOCKS_EXCLUDED(dir)
func (dir *Vnode) Mknod(ctx context.Context, name string, mode uint32, dev uint64) (*Vnode, error) {
	if _, ok := ModeToType(mode); !ok {
		return nil, errno.INVAL
	}
	dir.Lock()
	err := checkWriteTarget(dir, name)
	op := dir.Ops().Mknod
	dir.Unlock()
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, errno.NOTSUP
	}
	return op(ctx, dir, name, mode, dev)
}

// LOCKS_EXCLUDED(dir)
func (dir *Vnode) Symlink(ctx context.Context, name string, target string) (*Vnode, error) {
	dir.Lock()
	err := checkWriteTarget(dir, name)
	op := dir.Ops().Symlink
	dir.Unlock()
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, errno.NOTSUP
	}
	return op(ctx, dir, name, target)
}

// LOCKS_EXCLUDED(dir)
func (dir *Vnode) Mkdir(ctx context.Context, name string, mode uint32) (*Vnode, error) {
	dir.Lock()
	err := checkWriteTarget(dir, name)
	op := dir.Ops().Mkdir
	dir.Unlock()
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, errno.NOTSUP
	}
	return op(ctx, dir, name, mode)
}

// Hardlink links the existing vnode target under name inside dir.
// target must not be a directory: hardlinking a directory is always
// rejected. Cross-device hardlinks are rejected by the resolver, which
// is the only layer that can see both vfs ids.
//
// LOCKS_EXCLUDED(dir)
func (dir *Vnode) Hardlink(ctx context.Context, name string, target *Vnode) error {
	dir.Lock()
	err := checkWriteTarget(dir, name)
	op := dir.Ops().Hardlink
	dir.Unlock()
	if err != nil {
		return err
	}

	target.Lock()
	isDir := target.typ == TypeDir
	target.Unlock()
	if isDir {
		return errno.ISDIR
	}

	if op == nil {
		return errno.NOTSUP
	}
	return op(ctx, dir, name, target)
}

// Unlink removes a non-directory entry named name from dir.
//
// LOCKS_EXCLUDED(dir)
func (dir *Vnode) Unlink(ctx context.Context, name string) error {
	dir.Lock()
	typ := dir.typ
	ro := dir.Vfs != nil && dir.Vfs.ReadOnly
	op := dir.Ops().Unlink
	dir.Unlock()
	if typ != TypeDir {
		return errno.NOTDIR
	}
	if ro {
		return errno.ROFS
	}
	if op == nil {
		return errno.NOTSUP
	}
	return op(ctx, dir, name)
}

// Rmdir removes the empty subdirectory named name from dir.
//
// LOCKS_EXCLUDED(dir)
func (dir *Vnode) Rmdir(ctx context.Context, name string) error {
	dir.Lock()
	typ := dir.typ
	ro := dir.Vfs != nil && dir.Vfs.ReadOnly
	op := dir.Ops().Rmdir
	dir.Unlock()
	if typ != TypeDir {
		return errno.NOTDIR
	}
	if ro {
		return errno.ROFS
	}
	if op == nil {
		return errno.NOTSUP
	}
	return op(ctx, dir, name)
}

// Readdir lists entries of dir starting at offset, an opaque
// nonnegative cursor interpreted only by the driver.
//
// LOCKS_EXCLUDED(dir)
func (dir *Vnode) Readdir(ctx context.Context, offset int64) ([]Dirent, error) {
	if offset < 0 {
		return nil, errno.INVAL
	}
	dir.Lock()
	typ := dir.typ
	op := dir.Ops().Readdir
	dir.Unlock()
	if typ != TypeDir {
		return nil, errno.NOTDIR
	}
	if op == nil {
		return nil, errno.NOTSUP
	}
	return op(ctx, dir, offset)
}

// Readlink returns the symlink target, memoizing it on the vnode after
// the first successful call so repeated resolutions of the same
// symlink do not re-enter the driver.
//
// LOCKS_EXCLUDED(vn)
func (vn *Vnode) Readlink(ctx context.Context) (string, error) {
	vn.Lock()
	if vn.typ != TypeSymlink {
		vn.Unlock()
		return "", errno.INVAL
	}
	if vn.symlinkTargetSet {
		target := *vn.symlinkTarget
		vn.Unlock()
		return target, nil
	}
	op := vn.Ops().Readlink
	vn.Unlock()

	if op == nil {
		return "", errno.NOTSUP
	}
	target, err := op(ctx, vn)
	if err != nil {
		return "", err
	}

	vn.Lock()
	if !vn.symlinkTargetSet {
		vn.symlinkTarget = &target
		vn.symlinkTargetSet = true
	}
	vn.Unlock()
	return target, nil
}
