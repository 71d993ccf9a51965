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

// Package resolver implements path resolution and the public VFS
// operations (lookup, create, mkdir, unlink, rename, mount, ...) on top
// of the vnode, ventry, and vfs layers: it walks a path component by
// component, following stacked mounts and expanding symlinks inline,
// with a bounded retry count for ELOOP. Concurrent cache-miss lookups
// of the same name are coalesced with golang.org/x/sync/singleflight.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kernelvfs/vfscore/pkg/bytestr"
	"github.com/kernelvfs/vfscore/pkg/errno"
	"github.com/kernelvfs/vfscore/pkg/vfs"
	"github.com/kernelvfs/vfscore/pkg/ventry"
	"github.com/kernelvfs/vfscore/pkg/vnode"
)

// MaxSymlinkDepth bounds symlink expansion during resolution.
const MaxSymlinkDepth = 40

// Resolver walks the ventry tree rooted at a single namespace root,
// crossing stacked mounts and expanding symlinks as it goes.
type Resolver struct {
	registry *vfs.Registry

	mu sync.RWMutex
	// rootVE is the namespace root ventry's fixed identity: it is set
	// once, here, and never reassigned. ReplaceRoot changes only what
	// it shadows (via ShadowMount/UnshadowMount), never the Go value
	// stored in this field, so a ventry pointer captured before a
	// replace_root remains valid (if stale) afterward.
	rootVE  *ventry.Ventry
	nextID  uint64
	vfsByID map[uint64]*vfs.Vfs

	// miss coalesces concurrent cache-miss lookups of the same
	// (directory, name) pair onto a single call into the driver, so a
	// thundering herd of readers resolving the same cold path only
	// pays the driver round trip once.
	miss singleflight.Group
}

// New constructs a Resolver whose initial namespace root is the given
// already-mounted vfs.
func New(registry *vfs.Registry, rootVfs *vfs.Vfs) *Resolver {
	r := &Resolver{
		registry: registry,
		rootVE:   rootVfs.Root(),
		nextID:   rootVfs.ID + 1,
		vfsByID:  map[uint64]*vfs.Vfs{rootVfs.ID: rootVfs},
	}
	return r
}

// Root returns the namespace root ventry, following any mount the
// fixed root identity currently shadows.
func (r *Resolver) Root() *ventry.Ventry {
	r.mu.RLock()
	root := r.rootVE
	r.mu.RUnlock()
	return followMounts(root)
}

func (r *Resolver) vfsFor(id uint64) (*vfs.Vfs, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vfsByID[id]
	if !ok {
		return nil, errno.IO
	}
	return v, nil
}

// followMounts returns the effective directory ventry to search in,
// crossing any chain of stacked mounts rooted at ve.
func followMounts(ve *ventry.Ventry) *ventry.Ventry {
	for {
		ve.Lock()
		target := ve.MountTarget
		ve.Unlock()
		if target == nil {
			return ve
		}
		ve = target
	}
}

// parentOf resolves ".." from ve, crossing back out of a stacked mount
// when ve is itself a mount root.
func parentOf(ve *ventry.Ventry) *ventry.Ventry {
	ve.Lock()
	defer ve.Unlock()
	if ve.MountedOn != nil {
		return parentOf(ve.MountedOn)
	}
	if ve.Parent() == nil {
		return ve
	}
	return ve.Parent()
}

// lookupOne resolves a single named child of dirVe, consulting the
// ventry cache first and falling back to the owning vfs's vnode-level
// Lookup op on a miss.
func (r *Resolver) lookupOne(ctx context.Context, dirVe *ventry.Ventry, name string) (*ventry.Ventry, error) {
	dirVe = followMounts(dirVe)

	dirVe.Lock()
	if child, err := dirVe.Lookup(name); err == nil {
		dirVe.Unlock()
		return child, nil
	}
	dirVn := dirVe.Vnode()
	vfsID := dirVe.VfsID
	dirVe.Unlock()

	v, err := r.vfsFor(vfsID)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%p/%s", dirVe, name)
	result, err, _ := r.miss.Do(key, func() (any, error) {
		if err := v.BeginReadOp(); err != nil {
			return nil, err
		}
		defer v.EndReadOp()

		dirVe.Lock()
		if existing, err := dirVe.Lookup(name); err == nil {
			dirVe.Unlock()
			return existing, nil
		}
		dirVe.Unlock()

		childVn, err := dirVn.Lookup(ctx, name)
		if err != nil {
			return nil, err
		}
		childRef := childVn.Ref().Get()

		dirVe.Lock()
		defer dirVe.Unlock()
		if existing, err := dirVe.Lookup(name); err == nil {
			childRef.Put()
			return existing, nil
		}
		return ventry.AllocLinked(name, dirVe, childRef, vfsID, nil)
	})
	if err != nil {
		return nil, err
	}
	return result.(*ventry.Ventry), nil
}

// resolveComponents walks comps starting from cur, expanding symlinks
// (other than a final one when noFollowLast is set) and crossing
// mounts.
func (r *Resolver) resolveComponents(ctx context.Context, cur *ventry.Ventry, comps bytestr.Slice, wantDir bool, noFollowLast bool, depth int) (*ventry.Ventry, error) {
	if depth > MaxSymlinkDepth {
		return nil, errno.LOOP
	}

	for {
		comp, rest, ok := comps.Next()
		if !ok {
			return cur, nil
		}
		last := rest.Done()
		comps = rest

		switch comp {
		case ".":
			continue
		case "..":
			cur = parentOf(cur)
			continue
		}

		child, err := r.lookupOne(ctx, cur, comp)
		if err != nil {
			return nil, err
		}

		childVn := child.Vnode()
		childVn.Lock()
		typ := childVn.Type()
		childVn.Unlock()

		if typ == vnode.TypeSymlink && !(last && noFollowLast) {
			targetStr, err := childVn.Readlink(ctx)
			if err != nil {
				return nil, err
			}
			nextPath := targetStr
			if !rest.Done() {
				nextPath = targetStr + "/" + rest.Remaining()
			}
			var base *ventry.Ventry
			if strings.HasPrefix(targetStr, "/") {
				base = r.Root()
			} else {
				base = cur
			}
			return r.resolveComponents(ctx, base, bytestr.NewSlice(nextPath), wantDir, noFollowLast, depth+1)
		}

		if last && wantDir && typ != vnode.TypeDir {
			return nil, errno.NOTDIR
		}
		cur = child
	}
}

// ResolveOptions controls how the final path component is handled.
type ResolveOptions struct {
	// NoFollowLast leaves a symlink as the final component unresolved
	// (lstat-style semantics), used by operations whose target is the
	// link itself: readlink, lstat, and the target of a hardlink.
	NoFollowLast bool
	// WantDir requires the fully resolved path to name a directory,
	// set implicitly by a trailing slash.
	WantDir bool
	// NoCrossMount leaves the final ventry unfollowed when it is a
	// mountpoint, returning the mountpoint itself rather than the
	// mounted filesystem's root. Used by mount bookkeeping
	// (Mount/Unmount/ReplaceRoot), which shadows and unshadows the
	// mountpoint directly.
	NoCrossMount bool
}

// Resolve walks path starting from cwd (ignored for absolute paths,
// which start from the namespace root). A final component that is a
// mountpoint resolves to the mounted filesystem's root, so queries
// landing exactly on a mountpoint observe the mounted root vnode, not
// the shadowed one beneath it.
func (r *Resolver) Resolve(ctx context.Context, cwd *ventry.Ventry, path string, opts ResolveOptions) (*ventry.Ventry, error) {
	if path == "" {
		return nil, errno.NOENT
	}
	start := cwd
	if strings.HasPrefix(path, "/") {
		start = r.Root()
	}
	wantDir := opts.WantDir || strings.HasSuffix(path, "/")
	ve, err := r.resolveComponents(ctx, start, bytestr.NewSlice(path), wantDir, opts.NoFollowLast, 0)
	if err != nil {
		return nil, err
	}
	if !opts.NoCrossMount {
		ve = followMounts(ve)
	}
	return ve, nil
}

// ResolveParent walks every component of path except the last, and
// returns the parent directory ventry plus the final component's name,
// for operations that need to act on an entry that may not exist yet
// (create, mknod, mkdir, symlink).
func (r *Resolver) ResolveParent(ctx context.Context, cwd *ventry.Ventry, path string) (parent *ventry.Ventry, name string, err error) {
	comps := bytestr.Split(path)
	if len(comps) == 0 {
		return nil, "", errno.INVAL
	}
	start := cwd
	if strings.HasPrefix(path, "/") {
		start = r.Root()
	}
	name = comps[len(comps)-1]
	if len(comps) == 1 {
		return start, name, nil
	}
	parentPath := strings.Join(comps[:len(comps)-1], "/")
	parent, err = r.resolveComponents(ctx, start, bytestr.NewSlice(parentPath), true, false, 0)
	return parent, name, err
}
