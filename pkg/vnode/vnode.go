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

// Package vnode implements the filesystem-backed object layer of the
// VFS core: a Vnode is the in-memory handle to a file, directory,
// symlink, or device node, analogous to an inode. Read/Write/Map and
// the create-family ops follow a precondition-then-delegate wrapper
// style: check preconditions, call into the per-object method,
// translate the error.
package vnode

import (
	"context"
	"sync"
	"time"

	"github.com/kernelvfs/vfscore/pkg/bytestr"
	"github.com/kernelvfs/vfscore/pkg/clock"
	"github.com/kernelvfs/vfscore/pkg/errno"
	"github.com/kernelvfs/vfscore/pkg/refcount"
)

// Type identifies what kind of filesystem object a Vnode represents.
type Type int

const (
	TypeRegular Type = iota
	TypeDir
	TypeSymlink
	TypeBlock
	TypeChar
	TypeFifo
	TypeSocket
)

// Mode bits select a type for Mknod, matching the layout syscall.Mknod
// expects on Linux (S_IFMT/S_IFBLK/S_IFCHR).
const (
	ModeTypeMask uint32 = 0170000
	ModeBlock    uint32 = 0060000
	ModeChar     uint32 = 0020000
)

// ModeToType derives the vnode Type a Mknod mode names, reporting false
// if mode names anything other than a block or character device.
func ModeToType(mode uint32) (Type, bool) {
	switch mode & ModeTypeMask {
	case ModeBlock:
		return TypeBlock, true
	case ModeChar:
		return TypeChar, true
	default:
		return 0, false
	}
}

// State is the vnode lifecycle state machine.
type State int

const (
	StateEmpty State = iota
	StateAlive
	StateDead
)

// Flags are bits tracked on a Vnode.
type Flags uint32

const (
	FlagLoaded Flags = 1 << iota
	FlagDirty
)

// VfsState is the small, shared piece of state a Vfs exposes to the
// vnodes it owns: an identity and a read-only flag. Vnode holds this by
// borrowed pointer; the full Vfs type (registry, mount state, op
// fences) lives in package vfs, which imports this package, so the
// dependency cannot point back here.
type VfsState struct {
	ID       uint64
	ReadOnly bool
}

// Dirent is a single directory entry returned by Readdir.
type Dirent struct {
	Name string
	Type Type
}

// Ops is the per-filesystem vnode operations vtable. Any field may be
// nil, meaning the operation is not supported by this filesystem; core
// wrappers translate a nil op into ENOTSUP. This is deliberately a
// struct of function fields rather than a Go interface, so that a
// driver can support an arbitrary subset of operations without a
// NotImplemented-style embedding shim.
type Ops struct {
	Open    func(ctx context.Context, vn *Vnode) error
	Close   func(ctx context.Context, vn *Vnode) error
	Load    func(ctx context.Context, vn *Vnode) error
	Save    func(ctx context.Context, vn *Vnode) error
	Cleanup func(vn *Vnode) error

	Read  func(ctx context.Context, vn *Vnode, offset int64, p []byte) (int, error)
	Write func(ctx context.Context, vn *Vnode, offset int64, p []byte) (int, error)
	Map   func(ctx context.Context, vn *Vnode, offset int64, length int) ([]byte, error)

	Lookup   func(ctx context.Context, dir *Vnode, name string) (*Vnode, error)
	Create   func(ctx context.Context, dir *Vnode, name string, mode uint32) (*Vnode, error)
	Mknod    func(ctx context.Context, dir *Vnode, name string, mode uint32, dev uint64) (*Vnode, error)
	Symlink  func(ctx context.Context, dir *Vnode, name string, target string) (*Vnode, error)
	Hardlink func(ctx context.Context, dir *Vnode, name string, target *Vnode) error
	Unlink   func(ctx context.Context, dir *Vnode, name string) error

	Mkdir   func(ctx context.Context, dir *Vnode, name string, mode uint32) (*Vnode, error)
	Rmdir   func(ctx context.Context, dir *Vnode, name string) error
	Readdir func(ctx context.Context, dir *Vnode, offset int64) ([]Dirent, error)

	Readlink func(ctx context.Context, vn *Vnode) (string, error)
}

// Vnode is the in-memory handle to a filesystem object.
type Vnode struct {
	// Constant for the life of the vnode.
	ID  uint64
	Vfs *VfsState // borrowed, not counted

	// lifecycle holds flags/ops/link-count/type/state; content is a
	// separate rwlock guarding Read/Write/Map.
	lifecycle sync.Mutex
	content   sync.RWMutex

	typ   Type
	state State
	flags Flags

	size   int64
	blocks int64
	nlink  uint32

	// Device number, meaningful only for TypeBlock/TypeChar.
	Dev uint64

	// Memoized symlink target; populated on first successful Readlink.
	symlinkTarget    *string
	symlinkTargetSet bool

	// Shadow points at the vnode this one displaced when it became a
	// mount root. nil unless this vnode is currently the root of a
	// stacked mount.
	Shadow *Vnode

	ops *Ops

	// private is a driver-owned pointer to whatever per-object state
	// the filesystem implementation needs (content buffer, directory
	// entry map, ...), an opaque slot so the core need not know the
	// shape of driver state.
	private any

	clk                        clock.Clock
	atime, mtime, ctime, btime time.Time

	ref *refcount.Ref[*Vnode]
}

// Private returns the driver-owned state previously installed with
// SetPrivate.
func (vn *Vnode) Private() any { return vn.private }

// SetPrivate installs driver-owned state on the vnode. Intended to be
// called once, by the driver, immediately after New.
func (vn *Vnode) SetPrivate(p any) { vn.private = p }

// New creates a vnode in StateEmpty, stamping its birth/access/modify/
// change times from clock.RealClock. The caller is responsible for
// transitioning it to StateAlive once it has been fully populated and
// registered with its owning vfs.
func New(id uint64, vfs *VfsState, typ Type, ops *Ops, cleanup func(*Vnode)) *Vnode {
	return NewWithClock(id, vfs, typ, ops, cleanup, clock.RealClock{})
}

// NewWithClock is New with an explicit time source, for drivers under
// deterministic test control.
func NewWithClock(id uint64, vfs *VfsState, typ Type, ops *Ops, cleanup func(*Vnode), clk clock.Clock) *Vnode {
	now := clk.Now()
	vn := &Vnode{
		ID:    id,
		Vfs:   vfs,
		typ:   typ,
		state: StateEmpty,
		ops:   ops,
		clk:   clk,
		atime: now,
		mtime: now,
		ctime: now,
		btime: now,
	}
	vn.ref = refcount.New(vn, func(v *Vnode) {
		if cleanup != nil {
			cleanup(v)
		}
	})
	return vn
}

// LOCKS_REQUIRED(vn)
func (vn *Vnode) Atime() time.Time { return vn.atime }

// LOCKS_REQUIRED(vn)
func (vn *Vnode) Mtime() time.Time { return vn.mtime }

// LOCKS_REQUIRED(vn)
func (vn *Vnode) Ctime() time.Time { return vn.ctime }

// LOCKS_REQUIRED(vn)
func (vn *Vnode) Btime() time.Time { return vn.btime }

// touchAccess records a read. LOCKS_REQUIRED(vn)
func (vn *Vnode) touchAccess() { vn.atime = vn.clk.Now() }

// touchModify records a content change, which also counts as a
// metadata change. LOCKS_REQUIRED(vn)
func (vn *Vnode) touchModify() {
	now := vn.clk.Now()
	vn.mtime = now
	vn.ctime = now
}

// touchChange records a metadata-only change (nlink, mode, ...).
// LOCKS_REQUIRED(vn)
func (vn *Vnode) touchChange() { vn.ctime = vn.clk.Now() }

// Ref returns the vnode's own counted-reference handle, for callers
// that mint the first reference at construction time.
func (vn *Vnode) Ref() *refcount.Ref[*Vnode] { return vn.ref }

// Lock acquires the vnode's lifecycle lock.
func (vn *Vnode) Lock() { vn.lifecycle.Lock() }

// Unlock releases the vnode's lifecycle lock.
func (vn *Vnode) Unlock() { vn.lifecycle.Unlock() }

// LOCKS_REQUIRED(vn)
func (vn *Vnode) Type() Type { return vn.typ }

// LOCKS_REQUIRED(vn)
func (vn *Vnode) SetState(s State) { vn.state = s }

// LOCKS_REQUIRED(vn)
func (vn *Vnode) State() State { return vn.state }

// LOCKS_REQUIRED(vn)
func (vn *Vnode) Flags() Flags { return vn.flags }

// LOCKS_REQUIRED(vn)
func (vn *Vnode) SetFlag(f Flags) { vn.flags |= f }

// LOCKS_REQUIRED(vn)
func (vn *Vnode) ClearFlag(f Flags) { vn.flags &^= f }

// LOCKS_REQUIRED(vn)
func (vn *Vnode) HasFlag(f Flags) bool { return vn.flags&f != 0 }

// LOCKS_REQUIRED(vn)
func (vn *Vnode) Size() int64 { return vn.size }

// LOCKS_REQUIRED(vn)
func (vn *Vnode) SetSize(n int64) { vn.size = n }

// LOCKS_REQUIRED(vn)
func (vn *Vnode) Blocks() int64 { return vn.blocks }

// LOCKS_REQUIRED(vn)
func (vn *Vnode) Nlink() uint32 { return vn.nlink }

// IncNlink and DecNlink mirror the count of ventries currently LINKED
// to this vnode.
//
// LOCKS_REQUIRED(vn)
func (vn *Vnode) IncNlink() {
	vn.nlink++
	vn.flags |= FlagDirty
	vn.touchChange()
}

// LOCKS_REQUIRED(vn)
func (vn *Vnode) DecNlink() {
	if vn.nlink == 0 {
		panic("vnode: DecNlink on a vnode with zero nlink")
	}
	vn.nlink--
	vn.flags |= FlagDirty
	vn.touchChange()
}

// Ops returns the vnode's operations vtable. Never nil: a vtable with
// all-nil fields is used for objects with no driver support at all.
func (vn *Vnode) Ops() *Ops {
	if vn.ops == nil {
		return &Ops{}
	}
	return vn.ops
}

// checkWriteTarget enforces the shared preconditions for all
// write-creating ops: target must be a directory, the name must not
// exceed the maximum length, and the vfs must be writable.
//
// LOCKS_REQUIRED(dir)
func checkWriteTarget(dir *Vnode, name string) error {
	if dir.typ != TypeDir {
		return errno.NOTDIR
	}
	if bytestr.Name(name).TooLong() {
		return errno.NAMETOOLONG
	}
	if dir.Vfs != nil && dir.Vfs.ReadOnly {
		return errno.ROFS
	}
	return nil
}
