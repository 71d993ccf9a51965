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

// Package ventry implements the path-cache entry layer of the VFS
// core: a Ventry binds a name to a vnode within a single parent
// directory, and forms the tree (and, at mount points, forest-of-
// trees) that the resolver walks.
package ventry

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/kernelvfs/vfscore/pkg/bytestr"
	"github.com/kernelvfs/vfscore/pkg/errno"
	"github.com/kernelvfs/vfscore/pkg/refcount"
	"github.com/kernelvfs/vfscore/pkg/vnode"
)

// hashSeedA and hashSeedB key two independent xxhash lanes to build a
// 128-bit name digest. xxhash/v2 exposes only a 64-bit sum; running it
// twice with distinct seeds over the same bytes gives two lanes
// cheaply, without pulling in a dedicated 128-bit hash library.
const (
	hashSeedA uint64 = 0x9e3779b97f4a7c15
	hashSeedB uint64 = 0xc2b2ae3d27d4eb4f
)

// Hash128 is a two-lane name digest. Each ventry stores the digest of
// its name; Lookup does not consult it and matches names with the Cmp
// op alone.
type Hash128 struct {
	Lo uint64
	Hi uint64
}

// HashName computes the default 128-bit digest of a path component.
func HashName(name string) Hash128 {
	da := xxhash.NewWithSeed(hashSeedA)
	da.WriteString(name)
	db := xxhash.NewWithSeed(hashSeedB)
	db.WriteString(name)
	return Hash128{Lo: da.Sum64(), Hi: db.Sum64()}
}

// State is the ventry lifecycle state machine.
type State int

const (
	// StateEmpty: allocated, not yet linked into any parent.
	StateEmpty State = iota
	// StateLinked: present in its parent's child list and counted
	// toward its vnode's nlink.
	StateLinked
	// StateUnlinked: removed from the namespace (unlink/rmdir) but
	// still referenced by an open descriptor; its vnode is freed only
	// once the last such reference drops.
	StateUnlinked
	// StateDead: fully torn down, no outstanding references expected.
	StateDead
)

// Ops is the per-filesystem ventry operations vtable. Hash and Cmp may
// be left nil, in which case HashName and a byte-exact compare are
// used.
type Ops struct {
	Hash func(name string) Hash128
	Cmp  func(a, b string) bool
}

// Ventry is a named edge between a parent directory and the vnode (or,
// at a mount point, the child vfs) it names.
type Ventry struct {
	Name bytestr.Name
	hash Hash128

	// lock guards everything below. It is not reentrant: methods marked
	// LOCKS_REQUIRED expect the caller to already hold it and never take
	// it themselves.
	lock sync.Mutex

	state State
	ops   *Ops

	// VfsID is the id of the vfs instance this ventry's parent edge
	// lives in. A mountpoint ventry keeps the id of the vfs it lives in
	// here, while MountTarget below points at the mount's new root
	// ventry, which carries the mounted vfs's id.
	VfsID uint64

	parent   *Ventry // borrowed; nil for a vfs root and for a removed entry
	children map[string]*Ventry
	childCnt int

	vn *refcount.Ref[*vnode.Vnode] // counted; nil unless StateLinked/StateUnlinked

	// MountTarget is set when a filesystem has been mounted on this
	// ventry: lookups that land here are redirected to MountTarget's
	// vfs instead of continuing in this ventry's children.
	MountTarget *Ventry

	// MountedOn is set on a mount's root ventry, pointing back at the
	// ventry MountTarget was hung off of, so ".." resolution can cross
	// back out of a stacked mount.
	MountedOn *Ventry

	// shadowed is the mount target this mount displaced when it was
	// stacked onto an already-mounted ventry; UnshadowMount restores it
	// as the mountpoint's target, popping one layer of the stack.
	shadowed *Ventry

	ref *refcount.Ref[*Ventry]
}

// IsNamespaceRoot reports whether ve is the root of the entire
// namespace: no parent, and not itself the root of a stacked mount.
//
// LOCKS_REQUIRED(ve)
func (ve *Ventry) IsNamespaceRoot() bool {
	return ve.parent == nil && ve.MountedOn == nil
}

func defaultOps() *Ops {
	return &Ops{
		Hash: HashName,
		Cmp:  func(a, b string) bool { return a == b },
	}
}

// AllocLinked allocates a new ventry in StateLinked, holding one
// counted reference to vn, as a child of parent. With a nil parent the
// ventry is left unattached, as for a vfs root. The new ventry takes
// ownership of the vnode reference passed in vnRef: the caller must
// not use it again.
//
// LOCKS_REQUIRED(parent), when parent is non-nil: the caller is
// expected to already hold it locked across the lookup-miss-then-alloc
// sequence (see pkg/resolver's lookupOne and create), so AllocLinked
// must not lock it again itself.
func AllocLinked(name string, parent *Ventry, vnRef *refcount.Ref[*vnode.Vnode], vfsID uint64, ops *Ops) (*Ventry, error) {
	if bytestr.Name(name).TooLong() {
		return nil, errno.NAMETOOLONG
	}
	if ops == nil {
		ops = defaultOps()
	}
	hashFn := ops.Hash
	if hashFn == nil {
		hashFn = HashName
	}

	ve := &Ventry{
		Name:  bytestr.NewName(name),
		hash:  hashFn(name),
		state: StateLinked,
		ops:   ops,
		VfsID: vfsID,
		vn:    vnRef,
	}
	ve.ref = refcount.New(ve, func(*Ventry) {})

	vn := vnRef.Value()
	vn.Lock()
	vn.IncNlink()
	vn.Unlock()

	if parent != nil {
		// Callers resolving a name under a lock (lookupOne, create,
		// Hardlink, Rename) already hold parent locked across the
		// lookup-miss-then-alloc sequence to avoid a duplicate race;
		// AllocLinked relies on that and does not re-lock it here.
		if err := parent.AddChild(ve); err != nil {
			vn.Lock()
			vn.DecNlink()
			vn.Unlock()
			return nil, err
		}
	}
	return ve, nil
}

// Lock and Unlock expose the ventry's lifecycle lock to the resolver,
// which must hold a parent locked across a lookup-or-create sequence.
func (ve *Ventry) Lock()   { ve.lock.Lock() }
func (ve *Ventry) Unlock() { ve.lock.Unlock() }

// LOCKS_REQUIRED(ve)
func (ve *Ventry) State() State { return ve.state }

// LOCKS_REQUIRED(ve)
func (ve *Ventry) Parent() *Ventry { return ve.parent }

// LOCKS_REQUIRED(ve)
func (ve *Ventry) ChildCount() int { return ve.childCnt }

// LOCKS_REQUIRED(ve)
func (ve *Ventry) Vnode() *vnode.Vnode {
	if ve.vn == nil {
		return nil
	}
	return ve.vn.Value()
}

// Ref returns the ventry's own counted-reference handle.
func (ve *Ventry) Ref() *refcount.Ref[*Ventry] { return ve.ref }

// AddChild links child under ve by name, which must not already be
// present: a parent never holds two children with the same name.
// Mount-root ventries never gain children directly; lookups past a
// mount point are redirected via MountTarget instead.
//
// LOCKS_REQUIRED(ve)
func (ve *Ventry) AddChild(child *Ventry) error {
	if ve.MountTarget != nil {
		return errno.INVAL
	}
	if ve.children == nil {
		ve.children = make(map[string]*Ventry)
	}
	if _, exists := ve.children[string(child.Name)]; exists {
		return errno.EXIST
	}
	ve.children[string(child.Name)] = child
	ve.childCnt++
	child.parent = ve
	return nil
}

// RemoveChild unlinks the child named name from ve, removing it from
// the parent's child list and transitioning it to StateUnlinked rather
// than StateDead, since an open descriptor may still reference it.
//
// LOCKS_REQUIRED(ve)
func (ve *Ventry) RemoveChild(name string) (*Ventry, error) {
	child, ok := ve.children[name]
	if !ok {
		return nil, errno.NOENT
	}
	delete(ve.children, name)
	ve.childCnt--

	child.Lock()
	child.state = StateUnlinked
	child.parent = nil
	child.Unlock()

	return child, nil
}

// Lookup finds the child named name, applying the ventry's compare op.
// Returns errno.NOENT if absent.
//
// LOCKS_REQUIRED(ve)
func (ve *Ventry) Lookup(name string) (*Ventry, error) {
	cmp := ve.ops.Cmp
	if cmp == nil {
		cmp = func(a, b string) bool { return a == b }
	}
	if child, ok := ve.children[name]; ok && cmp(string(child.Name), name) {
		return child, nil
	}
	for n, child := range ve.children {
		if cmp(n, name) {
			return child, nil
		}
	}
	return nil, errno.NOENT
}

// EvictCache detaches and releases every cached descendant beneath ve
// (but not ve itself), without invoking any driver operation. Used
// before ShadowMount mounts a filesystem over an already-populated,
// already-cached directory (ShadowMount requires child_count == 0):
// the evicted names remain resolvable again, re-minted by a fresh
// driver lookup, once the mount covering them is undone. It is
// iterative, not recursive, to bound stack depth on deep trees.
//
// LOCKS_REQUIRED(ve)
func (ve *Ventry) EvictCache() {
	stack := make([]*Ventry, 0, len(ve.children))
	for _, c := range ve.children {
		stack = append(stack, c)
	}
	ve.children = nil
	ve.childCnt = 0

	var order []*Ventry
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, cur)

		cur.Lock()
		for _, c := range cur.children {
			stack = append(stack, c)
		}
		cur.children = nil
		cur.childCnt = 0
		cur.Unlock()
	}

	for i := len(order) - 1; i >= 0; i-- {
		cur := order[i]
		cur.Lock()
		cur.parent = nil
		wasLinked := cur.state == StateLinked
		vnRef := cur.vn
		cur.vn = nil
		cur.state = StateDead
		cur.Unlock()

		if vnRef == nil {
			continue
		}
		if wasLinked {
			vn := vnRef.Value()
			vn.Lock()
			vn.DecNlink()
			vn.Unlock()
		}
		vnRef.Put()
	}
}

// ShadowMount redirects ve to a new vfs instance's root, saving the
// vnode ve previously named so UnshadowMount can restore it. Stacking
// onto an already-mounted ventry extends the chain: the displaced
// mount is pushed down and the new root's shadow pointer records the
// vnode it covered, so mounts pop in reverse order. ShadowMount takes
// no counted reference on newRoot.
//
// LOCKS_REQUIRED(ve)
func (ve *Ventry) ShadowMount(newRoot *Ventry) error {
	if ve.childCnt > 0 {
		return errno.BUSY
	}

	prev := ve.MountTarget
	var displaced *vnode.Vnode
	if prev != nil {
		displaced = prev.Vnode()
	} else if ve.vn != nil {
		displaced = ve.vn.Value()
	}
	if displaced != nil {
		newRootVn := newRoot.Vnode()
		newRootVn.Lock()
		newRootVn.Shadow = displaced
		newRootVn.Unlock()
	}

	newRoot.shadowed = prev
	if prev != nil {
		prev.MountedOn = nil
	}
	ve.MountTarget = newRoot
	newRoot.MountedOn = ve
	return nil
}

// UnshadowMount reverses the topmost ShadowMount, restoring the mount
// target it displaced (or ve's direct vnode link, when no stacked
// mount remains). Returns the ventry that was mounted, for the caller
// to drain and release.
//
// LOCKS_REQUIRED(ve)
func (ve *Ventry) UnshadowMount() (*Ventry, error) {
	target := ve.MountTarget
	if target == nil {
		return nil, errno.INVAL
	}
	target.Lock()
	if target.childCnt > 0 {
		target.Unlock()
		return nil, errno.BUSY
	}
	target.Unlock()

	prev := target.shadowed
	ve.MountTarget = prev
	target.MountedOn = nil
	target.shadowed = nil
	if prev != nil {
		prev.MountedOn = ve
	}
	if vn := target.Vnode(); vn != nil {
		vn.Lock()
		vn.Shadow = nil
		vn.Unlock()
	}
	return target, nil
}

// SyncVn walks ve's subtree releasing vnode references held by ventries
// that are StateUnlinked and childless, moving each to StateDead and
// draining bottom-up so a parent is never
// finalized before its children. It is iterative, not recursive, to
// bound stack depth on deep trees.
func (ve *Ventry) SyncVn() {
	stack := []*Ventry{ve}
	var order []*Ventry
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, cur)

		cur.Lock()
		children := make([]*Ventry, 0, len(cur.children))
		for _, c := range cur.children {
			children = append(children, c)
		}
		cur.Unlock()
		stack = append(stack, children...)
	}

	for i := len(order) - 1; i >= 0; i-- {
		cur := order[i]
		cur.Lock()
		if cur.state == StateUnlinked && cur.childCnt == 0 && cur.vn != nil {
			vnRef := cur.vn
			cur.vn = nil
			cur.state = StateDead
			cur.Unlock()
			vnRef.Put()
			continue
		}
		cur.Unlock()
	}
}
