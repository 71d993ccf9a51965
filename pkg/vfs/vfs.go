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

// Package vfs implements the per-mount-instance layer of the VFS core:
// a Vfs binds one filesystem driver to one point in the ventry tree
// and fences ordinary operations against unmount: Unmount takes an
// exclusive lock that operations entered through BeginReadOp only
// read-lock.
package vfs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kernelvfs/vfscore/pkg/errno"
	"github.com/kernelvfs/vfscore/pkg/refcount"
	"github.com/kernelvfs/vfscore/pkg/ventry"
	"github.com/kernelvfs/vfscore/pkg/vnode"
)

// MountOptions carries driver-specific arguments plus the shared
// read-only flag every driver must honor.
type MountOptions struct {
	ReadOnly bool
	Params   map[string]string
}

// Driver is implemented by a filesystem type to produce the root vnode
// of each new mount.
type Driver interface {
	// Mount builds the root vnode for a new mount of this filesystem
	// type. The returned vnode must already be in vnode.StateAlive.
	Mount(ctx context.Context, opts MountOptions, state *vnode.VfsState) (root *vnode.Vnode, err error)
}

// Registry is an explicit fs-type registry, deliberately not a
// package-level global so multiple independent VFS instances in the
// same process do not share registration state.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Driver
}

// NewRegistry creates an empty filesystem-type registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Driver)}
}

// Register adds a named filesystem driver. Re-registering an existing
// name is rejected with errno.EXIST.
func (r *Registry) Register(name string, d Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[name]; exists {
		return errno.EXIST
	}
	r.types[name] = d
	return nil
}

func (r *Registry) lookup(name string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[name]
	if !ok {
		return nil, errno.NOTSUP
	}
	return d, nil
}

// Vfs is one mounted instance of a filesystem driver.
type Vfs struct {
	ID    uint64
	state *vnode.VfsState

	// fence excludes ordinary operations (RLock, via BeginReadOp) from
	// the exclusive unmount drain (Lock, via beginUnmount). Mounting a
	// child vfs under one of this vfs's ventries never takes this fence
	// exclusively; only this vfs's own Unmount does.
	fence sync.RWMutex

	closed atomic.Bool

	root *refcount.Ref[*ventry.Ventry]

	nextVnodeID atomic.Uint64
}

// New constructs a Vfs by invoking d.Mount and wrapping the returned
// root vnode in a StateLinked, parentless root ventry.
func New(ctx context.Context, id uint64, registry *Registry, driverName string, opts MountOptions) (*Vfs, error) {
	d, err := registry.lookup(driverName)
	if err != nil {
		return nil, err
	}

	v := &Vfs{
		ID:    id,
		state: &vnode.VfsState{ID: id, ReadOnly: opts.ReadOnly},
	}

	rootVn, err := d.Mount(ctx, opts, v.state)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}

	rootVnRef := rootVn.Ref()
	rootVe, err := ventry.AllocLinked("/", nil, rootVnRef, id, nil)
	if err != nil {
		return nil, err
	}
	v.root = rootVe.Ref()
	return v, nil
}

// State returns the vfs's shared, vnode-visible state.
func (v *Vfs) State() *vnode.VfsState { return v.state }

// Root returns the vfs's root ventry, without taking an extra
// reference; callers that retain it beyond the current operation must
// call Get() themselves.
func (v *Vfs) Root() *ventry.Ventry { return v.root.Value() }

// AllocVnodeID hands out a vnode id unique within this vfs instance,
// for drivers that mint vnodes lazily on lookup.
func (v *Vfs) AllocVnodeID() uint64 { return v.nextVnodeID.Add(1) }

// BeginReadOp marks the start of an ordinary operation (lookup, read,
// write, readdir, ...) against this vfs, excluding it from a concurrent
// Unmount's drain. Returns errno.IO if the vfs is already unmounting or
// unmounted.
func (v *Vfs) BeginReadOp() error {
	v.fence.RLock()
	if v.closed.Load() {
		v.fence.RUnlock()
		return errno.IO
	}
	return nil
}

// EndReadOp closes out a BeginReadOp that returned nil.
func (v *Vfs) EndReadOp() { v.fence.RUnlock() }

// beginUnmount waits for all in-flight read ops to end and excludes new
// ones until endUnmount. Marking the vfs closed is left to Unmount.
func (v *Vfs) beginUnmount() {
	v.fence.Lock()
}

func (v *Vfs) endUnmount() { v.fence.Unlock() }

// Unmount drains in-flight operations, then releases the vfs's root
// ventry reference. It fails with errno.BUSY if the root still has
// children (an open path beneath it).
func (v *Vfs) Unmount(ctx context.Context) error {
	v.beginUnmount()
	defer v.endUnmount()

	root := v.root.Value()
	root.Lock()
	busy := root.ChildCount() > 0
	root.Unlock()
	if busy {
		return errno.BUSY
	}

	v.closed.Store(true)
	v.root.Put()
	return nil
}
