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

// Package refcount implements the atomic reference-counting primitive
// behind the VFS core's counted references: ventry -> vnode and
// vfs -> root ventry. A ventry's parent and child edges are plain
// pointers, not counted. Cleanup hooks run exactly once, on the goroutine that
// observes the decrement to zero.
package refcount

import "sync/atomic"

// Ref is a counted reference to a value of type T. The zero Ref is not
// usable; construct one with New. All methods are safe for concurrent
// use, but Get/Put do not themselves protect the topology the handle is
// embedded in -- callers still take whatever lifecycle lock guards that
// (see pkg/ventry, pkg/vnode).
type Ref[T any] struct {
	count   atomic.Int64
	cleanup func(T)
	value   T
}

// New creates a Ref holding value with an initial count of one. cleanup
// is invoked exactly once, when the count is observed to drop to zero,
// and receives value.
func New[T any](value T, cleanup func(T)) *Ref[T] {
	r := &Ref[T]{cleanup: cleanup, value: value}
	r.count.Store(1)
	return r
}

// Value returns the referenced value. Valid as long as the caller holds
// a reference.
func (r *Ref[T]) Value() T {
	return r.value
}

// Get increments the count and returns the same handle.
func (r *Ref[T]) Get() *Ref[T] {
	if r.count.Add(1) <= 1 {
		panic("refcount: Get on a handle with no outstanding references")
	}
	return r
}

// Put decrements the count. If the count reaches zero, cleanup is
// invoked with the held value exactly once.
func (r *Ref[T]) Put() {
	n := r.count.Add(-1)
	if n < 0 {
		panic("refcount: Put decremented below zero")
	}
	if n == 0 && r.cleanup != nil {
		r.cleanup(r.value)
	}
}

// Move transfers ownership of *src into the returned Ref, leaving *src
// nil. The reference count is not touched: the caller held one
// reference through src and now holds the same one reference through
// the result.
func Move[T any](src **Ref[T]) *Ref[T] {
	r := *src
	*src = nil
	return r
}

// Count reports the current reference count. Intended for invariant
// checks and tests, not for synchronization decisions.
func (r *Ref[T]) Count() int64 {
	return r.count.Load()
}
