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

// Package fdtable implements the process-facing descriptor-indexed
// operations of the VFS core: a Table maps small integer descriptors to
// {ventry, position, flags} entries and serves the read/write/seek/
// ioctl/stat/directory-iteration calls that ultimately delegate to a
// vnode.
package fdtable

import (
	"context"
	"sort"
	"sync"

	"github.com/kernelvfs/vfscore/pkg/errno"
	"github.com/kernelvfs/vfscore/pkg/resolver"
	"github.com/kernelvfs/vfscore/pkg/ventry"
	"github.com/kernelvfs/vfscore/pkg/vnode"
)

// OpenFlags mirrors the subset of POSIX open(2) flags the core cares
// about.
type OpenFlags uint32

const (
	FlagRead OpenFlags = 1 << iota
	FlagWrite
	FlagAppend
)

// FD is an open descriptor: a ventry reference plus a cursor.
type FD struct {
	mu sync.Mutex

	ve    *ventry.Ventry
	flags OpenFlags

	pos int64 // file position, or directory iteration cursor

	dirEntries []vnode.Dirent
	dirLoaded  bool
}

// Table is a process's open-file-descriptor table.
type Table struct {
	mu   sync.Mutex
	next int
	fds  map[int]*FD
}

// New creates an empty descriptor table.
func New() *Table {
	return &Table{fds: make(map[int]*FD)}
}

// Open resolves path and installs a new descriptor for it, returning
// its integer id.
func (t *Table) Open(ctx context.Context, r *resolver.Resolver, cwd *ventry.Ventry, path string, flags OpenFlags) (int, error) {
	ve, err := r.Lookup(ctx, cwd, path)
	if err != nil {
		return 0, err
	}
	return t.install(ve, flags), nil
}

func (t *Table) install(ve *ventry.Ventry, flags OpenFlags) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	t.fds[id] = &FD{ve: ve, flags: flags}
	return id
}

func (t *Table) get(fd int) (*FD, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.fds[fd]
	if !ok {
		return nil, errno.INVAL
	}
	return f, nil
}

// Read reads up to len(p) bytes at the descriptor's current position,
// advancing it.
func (t *Table) Read(ctx context.Context, fd int, p []byte) (int, error) {
	f, err := t.get(fd)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flags&FlagRead == 0 {
		return 0, errno.INVAL
	}
	n, err := f.ve.Vnode().Read(ctx, f.pos, p)
	f.pos += int64(n)
	return n, err
}

// Write writes p at the descriptor's current position (or at EOF, if
// opened with FlagAppend), advancing it.
func (t *Table) Write(ctx context.Context, fd int, p []byte) (int, error) {
	f, err := t.get(fd)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flags&FlagWrite == 0 {
		return 0, errno.INVAL
	}
	if f.flags&FlagAppend != 0 {
		vn := f.ve.Vnode()
		vn.Lock()
		f.pos = vn.Size()
		vn.Unlock()
	}
	n, err := f.ve.Vnode().Write(ctx, f.pos, p)
	f.pos += int64(n)
	return n, err
}

// IOVec is a single scatter/gather buffer.
type IOVec []byte

// Readv reads into each buffer of iov in turn, starting at the
// descriptor's current position.
func (t *Table) Readv(ctx context.Context, fd int, iov []IOVec) (int, error) {
	total := 0
	for _, buf := range iov {
		n, err := t.Read(ctx, fd, buf)
		total += n
		if err != nil {
			return total, err
		}
		if n < len(buf) {
			break
		}
	}
	return total, nil
}

// Writev writes each buffer of iov in turn, starting at the
// descriptor's current position.
func (t *Table) Writev(ctx context.Context, fd int, iov []IOVec) (int, error) {
	total := 0
	for _, buf := range iov {
		n, err := t.Write(ctx, fd, buf)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Whence values for Lseek, mirroring POSIX SEEK_SET/SEEK_CUR/SEEK_END.
const (
	SeekSet = iota
	SeekCur
	SeekEnd
)

// Lseek repositions the descriptor's cursor.
func (t *Table) Lseek(fd int, offset int64, whence int) (int64, error) {
	f, err := t.get(fd)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = f.pos
	case SeekEnd:
		vn := f.ve.Vnode()
		vn.Lock()
		base = vn.Size()
		vn.Unlock()
	default:
		return 0, errno.INVAL
	}
	newPos := base + offset
	if newPos < 0 {
		return 0, errno.INVAL
	}
	f.pos = newPos
	return newPos, nil
}

// Ioctl is a placeholder escape hatch for driver-specific device
// control; the VFS core has no generic ioctl semantics of its own, so
// this always reports ENOTSUP. A concrete driver wanting ioctl support
// exposes it through its own API outside this table.
func (t *Table) Ioctl(fd int, _ uint32, _ []byte) error {
	if _, err := t.get(fd); err != nil {
		return err
	}
	return errno.NOTSUP
}

// Close removes the descriptor from the table. If the ventry was
// unlinked while open and no other descriptor in this table still
// refers to it, Close drains it with SyncVn, dropping the vnode
// reference the unlinked ventry held and completing the deferred-free
// unlink semantics.
func (t *Table) Close(fd int) error {
	t.mu.Lock()
	f, ok := t.fds[fd]
	if !ok {
		t.mu.Unlock()
		return errno.INVAL
	}
	delete(t.fds, fd)
	shared := false
	for _, other := range t.fds {
		if other.ve == f.ve {
			shared = true
			break
		}
	}
	t.mu.Unlock()
	if shared {
		return nil
	}

	f.ve.Lock()
	unlinked := f.ve.State() == ventry.StateUnlinked
	f.ve.Unlock()
	if unlinked {
		f.ve.SyncVn()
	}
	return nil
}

// Dup creates a new descriptor referring to the same open file as fd.
func (t *Table) Dup(fd int) (int, error) {
	f, err := t.get(fd)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	flags := f.flags
	ve := f.ve
	f.mu.Unlock()
	return t.install(ve, flags), nil
}

// Dup2 makes newFD refer to the same open file as fd, closing any
// descriptor previously at newFD.
func (t *Table) Dup2(fd, newFD int) error {
	f, err := t.get(fd)
	if err != nil {
		return err
	}
	f.mu.Lock()
	flags := f.flags
	ve := f.ve
	f.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.fds[newFD] = &FD{ve: ve, flags: flags}
	return nil
}

// Fstat snapshots the attributes of the vnode behind fd.
func (t *Table) Fstat(fd int) (resolver.Attr, error) {
	f, err := t.get(fd)
	if err != nil {
		return resolver.Attr{}, err
	}
	return resolver.Snapshot(f.ve.Vnode()), nil
}

// Opendir resolves path as a directory and installs a descriptor
// positioned at the first entry.
func (t *Table) Opendir(ctx context.Context, r *resolver.Resolver, cwd *ventry.Ventry, path string) (int, error) {
	ve, err := r.Resolve(ctx, cwd, path, resolver.ResolveOptions{WantDir: true})
	if err != nil {
		return 0, err
	}
	return t.install(ve, FlagRead), nil
}

// Closedir is an alias of Close for symmetry with Opendir.
func (t *Table) Closedir(fd int) error { return t.Close(fd) }

// Readdir returns the next batch of directory entries for fd, starting
// from its current cursor, and advances the cursor past them.
func (t *Table) Readdir(ctx context.Context, fd int) ([]vnode.Dirent, error) {
	f, err := t.get(fd)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.dirLoaded {
		entries, err := f.ve.Vnode().Readdir(ctx, 0)
		if err != nil {
			return nil, err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		f.dirEntries = entries
		f.dirLoaded = true
	}

	if f.pos >= int64(len(f.dirEntries)) {
		return nil, nil
	}
	batch := f.dirEntries[f.pos:]
	f.pos = int64(len(f.dirEntries))
	return batch, nil
}

// Telldir returns fd's current directory iteration cursor.
func (t *Table) Telldir(fd int) (int64, error) {
	f, err := t.get(fd)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos, nil
}

// Seekdir repositions fd's directory iteration cursor to a value
// previously returned by Telldir.
func (t *Table) Seekdir(fd int, pos int64) error {
	f, err := t.get(fd)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = pos
	return nil
}

// Getpage maps length bytes of fd's backing vnode starting at offset,
// for callers building a page-cache-style mapping on top of the core.
func (t *Table) Getpage(ctx context.Context, fd int, offset int64, length int) ([]byte, error) {
	f, err := t.get(fd)
	if err != nil {
		return nil, err
	}
	return f.ve.Vnode().Map(ctx, offset, length)
}

// GetVMFile returns the ventry backing fd, for callers that need to
// mmap the same file across multiple descriptors and want to key a
// shared mapping cache off its identity.
func (t *Table) GetVMFile(fd int) (*ventry.Ventry, error) {
	f, err := t.get(fd)
	if err != nil {
		return nil, err
	}
	return f.ve, nil
}
