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

// Package memfs is an in-memory filesystem driver: every file's
// content lives in a byte slice and every directory's entries in a Go
// map, with nothing persisted to disk. It exists to exercise the VFS
// core in tests and the vfsctl demo CLI. Vnodes are minted directly
// from pkg/vnode, with directory entries kept in a map rather than a
// slice since the ventry cache, not this driver, is what keeps lookups
// fast.
package memfs

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kernelvfs/vfscore/pkg/errno"
	"github.com/kernelvfs/vfscore/pkg/vfs"
	"github.com/kernelvfs/vfscore/pkg/vnode"
)

// node is the driver-private state behind every vnode this package
// mints, installed via vnode.SetPrivate.
type node struct {
	mu sync.Mutex

	mode uint32
	dev  uint64

	content []byte // TypeRegular
	symlink string // TypeSymlink

	children map[string]*vnode.Vnode // TypeDir, name -> child vnode
}

// FS is a mountable in-memory filesystem. Each Mount call builds a
// fresh, empty tree whose vnodes carry the VfsState passed to that
// Mount, so one FS value can back any number of mounts.
type FS struct {
	state  *vnode.VfsState
	nextID atomic.Uint64
}

// New constructs an unmounted in-memory filesystem.
func New() *FS {
	return &FS{}
}

var _ vfs.Driver = (*FS)(nil)

// Mount implements vfs.Driver, producing the filesystem's root
// directory vnode.
func (fs *FS) Mount(ctx context.Context, opts vfs.MountOptions, state *vnode.VfsState) (*vnode.Vnode, error) {
	m := &FS{state: state}
	root := m.newVnode(vnode.TypeDir, 0755)
	root.Lock()
	root.SetState(vnode.StateAlive)
	root.SetFlag(vnode.FlagLoaded)
	root.Unlock()
	return root, nil
}

func (fs *FS) newVnode(typ vnode.Type, mode uint32) *vnode.Vnode {
	id := fs.nextID.Add(1)
	n := &node{mode: mode}
	if typ == vnode.TypeDir {
		n.children = make(map[string]*vnode.Vnode)
	}
	vn := vnode.New(id, fs.state, typ, fs.ops(), nil)
	vn.SetPrivate(n)
	return vn
}

func privateOf(vn *vnode.Vnode) *node {
	return vn.Private().(*node)
}

func (fs *FS) ops() *vnode.Ops {
	return &vnode.Ops{
		Open:    func(ctx context.Context, vn *vnode.Vnode) error { return nil },
		Close:   func(ctx context.Context, vn *vnode.Vnode) error { return nil },
		Load:    func(ctx context.Context, vn *vnode.Vnode) error { return nil },
		Save:    func(ctx context.Context, vn *vnode.Vnode) error { return nil },
		Cleanup: func(vn *vnode.Vnode) error { return nil },

		Read:  fs.read,
		Write: fs.write,
		Map:   fs.mmap,

		Lookup:   fs.lookup,
		Create:   fs.create,
		Mknod:    fs.mknod,
		Symlink:  fs.symlink,
		Hardlink: fs.hardlink,
		Unlink:   fs.unlink,

		Mkdir:   fs.mkdir,
		Rmdir:   fs.rmdir,
		Readdir: fs.readdir,

		Readlink: fs.readlink,
	}
}

func (fs *FS) read(ctx context.Context, vn *vnode.Vnode, offset int64, p []byte) (int, error) {
	n := privateOf(vn)
	n.mu.Lock()
	defer n.mu.Unlock()
	if offset >= int64(len(n.content)) {
		return 0, nil
	}
	return copy(p, n.content[offset:]), nil
}

func (fs *FS) write(ctx context.Context, vn *vnode.Vnode, offset int64, p []byte) (int, error) {
	n := privateOf(vn)
	n.mu.Lock()
	defer n.mu.Unlock()
	end := offset + int64(len(p))
	if end > int64(len(n.content)) {
		grown := make([]byte, end)
		copy(grown, n.content)
		n.content = grown
	}
	copy(n.content[offset:end], p)
	return len(p), nil
}

func (fs *FS) mmap(ctx context.Context, vn *vnode.Vnode, offset int64, length int) ([]byte, error) {
	n := privateOf(vn)
	n.mu.Lock()
	defer n.mu.Unlock()
	end := offset + int64(length)
	if end > int64(len(n.content)) {
		end = int64(len(n.content))
	}
	if offset >= end {
		return nil, nil
	}
	out := make([]byte, end-offset)
	copy(out, n.content[offset:end])
	return out, nil
}

func (fs *FS) lookup(ctx context.Context, dir *vnode.Vnode, name string) (*vnode.Vnode, error) {
	n := privateOf(dir)
	n.mu.Lock()
	defer n.mu.Unlock()
	child, ok := n.children[name]
	if !ok {
		return nil, errno.NOENT
	}
	return child, nil
}

func (fs *FS) create(ctx context.Context, dir *vnode.Vnode, name string, mode uint32) (*vnode.Vnode, error) {
	n := privateOf(dir)
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.children[name]; exists {
		return nil, errno.EXIST
	}
	child := fs.newVnode(vnode.TypeRegular, mode)
	child.Lock()
	child.SetState(vnode.StateAlive)
	child.SetFlag(vnode.FlagLoaded)
	child.Unlock()
	n.children[name] = child
	return child, nil
}

func (fs *FS) mknod(ctx context.Context, dir *vnode.Vnode, name string, mode uint32, dev uint64) (*vnode.Vnode, error) {
	n := privateOf(dir)
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.children[name]; exists {
		return nil, errno.EXIST
	}
	typ, ok := vnode.ModeToType(mode)
	if !ok {
		return nil, errno.INVAL
	}
	child := fs.newVnode(typ, mode)
	privateOf(child).dev = dev
	child.Dev = dev
	child.Lock()
	child.SetState(vnode.StateAlive)
	child.SetFlag(vnode.FlagLoaded)
	child.Unlock()
	n.children[name] = child
	return child, nil
}

func (fs *FS) symlink(ctx context.Context, dir *vnode.Vnode, name string, target string) (*vnode.Vnode, error) {
	n := privateOf(dir)
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.children[name]; exists {
		return nil, errno.EXIST
	}
	child := fs.newVnode(vnode.TypeSymlink, 0777)
	privateOf(child).symlink = target
	child.Lock()
	child.SetState(vnode.StateAlive)
	child.SetFlag(vnode.FlagLoaded)
	child.SetSize(int64(len(target)))
	child.Unlock()
	n.children[name] = child
	return child, nil
}

func (fs *FS) hardlink(ctx context.Context, dir *vnode.Vnode, name string, target *vnode.Vnode) error {
	n := privateOf(dir)
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.children[name]; exists {
		return errno.EXIST
	}
	n.children[name] = target
	return nil
}

func (fs *FS) unlink(ctx context.Context, dir *vnode.Vnode, name string) error {
	n := privateOf(dir)
	n.mu.Lock()
	defer n.mu.Unlock()
	child, ok := n.children[name]
	if !ok {
		return errno.NOENT
	}
	child.Lock()
	isDir := child.Type() == vnode.TypeDir
	child.Unlock()
	if isDir {
		return errno.ISDIR
	}
	delete(n.children, name)
	return nil
}

func (fs *FS) mkdir(ctx context.Context, dir *vnode.Vnode, name string, mode uint32) (*vnode.Vnode, error) {
	n := privateOf(dir)
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.children[name]; exists {
		return nil, errno.EXIST
	}
	child := fs.newVnode(vnode.TypeDir, mode)
	child.Lock()
	child.SetState(vnode.StateAlive)
	child.SetFlag(vnode.FlagLoaded)
	child.Unlock()
	n.children[name] = child
	return child, nil
}

func (fs *FS) rmdir(ctx context.Context, dir *vnode.Vnode, name string) error {
	n := privateOf(dir)
	n.mu.Lock()
	defer n.mu.Unlock()
	child, ok := n.children[name]
	if !ok {
		return errno.NOENT
	}
	child.Lock()
	isDir := child.Type() == vnode.TypeDir
	child.Unlock()
	if !isDir {
		return errno.NOTDIR
	}
	childNode := privateOf(child)
	childNode.mu.Lock()
	empty := len(childNode.children) == 0
	childNode.mu.Unlock()
	// POSIX allows either EEXIST or ENOTEMPTY here; EEXIST is the one
	// in the core's error set.
	if !empty {
		return errno.EXIST
	}
	delete(n.children, name)
	return nil
}

func (fs *FS) readdir(ctx context.Context, dir *vnode.Vnode, offset int64) ([]vnode.Dirent, error) {
	n := privateOf(dir)
	n.mu.Lock()
	defer n.mu.Unlock()
	entries := make([]vnode.Dirent, 0, len(n.children))
	for name, child := range n.children {
		child.Lock()
		typ := child.Type()
		child.Unlock()
		entries = append(entries, vnode.Dirent{Name: name, Type: typ})
	}
	if offset >= int64(len(entries)) {
		return nil, nil
	}
	return entries[offset:], nil
}

func (fs *FS) readlink(ctx context.Context, vn *vnode.Vnode) (string, error) {
	n := privateOf(vn)
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.symlink, nil
}
