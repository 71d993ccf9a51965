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

package vnode_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelvfs/vfscore/pkg/clock"
	"github.com/kernelvfs/vfscore/pkg/errno"
	"github.com/kernelvfs/vfscore/pkg/vnode"
)

func newDir(state *vnode.VfsState, ops *vnode.Ops) *vnode.Vnode {
	vn := vnode.New(1, state, vnode.TypeDir, ops, nil)
	vn.Lock()
	vn.SetState(vnode.StateAlive)
	vn.Unlock()
	return vn
}

func TestNewStampsAllFourTimestampsEqual(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	vn := vnode.NewWithClock(1, nil, vnode.TypeRegular, nil, nil, sc)
	vn.Lock()
	defer vn.Unlock()
	assert.Equal(t, vn.Atime(), vn.Mtime())
	assert.Equal(t, vn.Mtime(), vn.Ctime())
	assert.Equal(t, vn.Ctime(), vn.Btime())
}

func TestWriteTouchesMtimeAndCtimeNotBtime(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	ops := &vnode.Ops{
		Write: func(ctx context.Context, vn *vnode.Vnode, offset int64, p []byte) (int, error) {
			return len(p), nil
		},
	}
	vn := vnode.NewWithClock(1, nil, vnode.TypeRegular, ops, nil, sc)
	birth := func() time.Time {
		vn.Lock()
		defer vn.Unlock()
		return vn.Btime()
	}()

	sc.AdvanceTime(time.Hour)
	n, err := vn.Write(context.Background(), 0, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	vn.Lock()
	defer vn.Unlock()
	assert.Equal(t, birth, vn.Btime())
	assert.Equal(t, birth.Add(time.Hour), vn.Mtime())
	assert.Equal(t, birth.Add(time.Hour), vn.Ctime())
	assert.EqualValues(t, 5, vn.Size())
	assert.True(t, vn.HasFlag(vnode.FlagDirty))
}

func TestReadTouchesAtimeOnly(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	ops := &vnode.Ops{
		Read: func(ctx context.Context, vn *vnode.Vnode, offset int64, p []byte) (int, error) {
			return copy(p, "hi"), nil
		},
	}
	vn := vnode.NewWithClock(1, nil, vnode.TypeRegular, ops, nil, sc)
	vn.Lock()
	vn.SetSize(2)
	mtimeBefore := vn.Mtime()
	vn.Unlock()

	sc.AdvanceTime(time.Minute)
	buf := make([]byte, 2)
	_, err := vn.Read(context.Background(), 0, buf)
	require.NoError(t, err)

	vn.Lock()
	defer vn.Unlock()
	assert.NotEqual(t, mtimeBefore, vn.Atime())
	assert.Equal(t, mtimeBefore, vn.Mtime())
}

func TestReadPastSizeReturnsOverflowWithoutCallingOp(t *testing.T) {
	called := false
	ops := &vnode.Ops{
		Read: func(ctx context.Context, vn *vnode.Vnode, offset int64, p []byte) (int, error) {
			called = true
			return 0, nil
		},
	}
	vn := vnode.New(1, nil, vnode.TypeRegular, ops, nil)
	vn.Lock()
	vn.SetSize(4)
	vn.Unlock()

	n, err := vn.Read(context.Background(), 5, make([]byte, 4))
	assert.ErrorIs(t, err, errno.OVERFLOW)
	assert.Zero(t, n)
	assert.False(t, called)
}

func TestReadAtOffsetEqualSizeIsAllowed(t *testing.T) {
	called := false
	ops := &vnode.Ops{
		Read: func(ctx context.Context, vn *vnode.Vnode, offset int64, p []byte) (int, error) {
			called = true
			return 0, nil
		},
	}
	vn := vnode.New(1, nil, vnode.TypeRegular, ops, nil)
	vn.Lock()
	vn.SetSize(4)
	vn.Unlock()

	n, err := vn.Read(context.Background(), 4, make([]byte, 4))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, called)
}

func TestWritePastSizeReturnsOverflowWithoutCallingOp(t *testing.T) {
	called := false
	ops := &vnode.Ops{
		Write: func(ctx context.Context, vn *vnode.Vnode, offset int64, p []byte) (int, error) {
			called = true
			return len(p), nil
		},
	}
	vn := vnode.New(1, nil, vnode.TypeRegular, ops, nil)
	vn.Lock()
	vn.SetSize(4)
	vn.Unlock()

	n, err := vn.Write(context.Background(), 5, []byte("x"))
	assert.ErrorIs(t, err, errno.OVERFLOW)
	assert.Zero(t, n)
	assert.False(t, called)
}

func TestWriteOnReadOnlyVfsReturnsROFS(t *testing.T) {
	state := &vnode.VfsState{ID: 1, ReadOnly: true}
	ops := &vnode.Ops{
		Write: func(ctx context.Context, vn *vnode.Vnode, offset int64, p []byte) (int, error) {
			return len(p), nil
		},
	}
	vn := vnode.New(1, state, vnode.TypeRegular, ops, nil)
	_, err := vn.Write(context.Background(), 0, []byte("x"))
	assert.ErrorIs(t, err, errno.ROFS)
}

func TestCreateFamilyPreconditions(t *testing.T) {
	ops := &vnode.Ops{
		Create: func(ctx context.Context, dir *vnode.Vnode, name string, mode uint32) (*vnode.Vnode, error) {
			return vnode.New(2, nil, vnode.TypeRegular, nil, nil), nil
		},
	}

	t.Run("non-directory target", func(t *testing.T) {
		file := vnode.New(1, nil, vnode.TypeRegular, ops, nil)
		_, err := file.Create(context.Background(), "x", 0644)
		assert.ErrorIs(t, err, errno.NOTDIR)
	})

	t.Run("read-only vfs", func(t *testing.T) {
		state := &vnode.VfsState{ID: 1, ReadOnly: true}
		dir := newDir(state, ops)
		_, err := dir.Create(context.Background(), "x", 0644)
		assert.ErrorIs(t, err, errno.ROFS)
	})

	t.Run("name too long", func(t *testing.T) {
		dir := newDir(nil, ops)
		long := make([]byte, 300)
		for i := range long {
			long[i] = 'a'
		}
		_, err := dir.Create(context.Background(), string(long), 0644)
		assert.ErrorIs(t, err, errno.NAMETOOLONG)
	})

	t.Run("nil op is ENOTSUP", func(t *testing.T) {
		dir := newDir(nil, &vnode.Ops{})
		_, err := dir.Create(context.Background(), "x", 0644)
		assert.ErrorIs(t, err, errno.NOTSUP)
	})

	t.Run("success delegates to op", func(t *testing.T) {
		dir := newDir(nil, ops)
		child, err := dir.Create(context.Background(), "x", 0644)
		require.NoError(t, err)
		assert.EqualValues(t, 2, child.ID)
	})
}

func TestHardlinkRejectsDirectoryTarget(t *testing.T) {
	ops := &vnode.Ops{
		Hardlink: func(ctx context.Context, dir *vnode.Vnode, name string, target *vnode.Vnode) error {
			return nil
		},
	}
	dir := newDir(nil, ops)
	dirTarget := newDir(nil, nil)

	err := dir.Hardlink(context.Background(), "x", dirTarget)
	assert.ErrorIs(t, err, errno.ISDIR)
}

func TestReadlinkIsMemoizedAfterFirstCall(t *testing.T) {
	calls := 0
	ops := &vnode.Ops{
		Readlink: func(ctx context.Context, vn *vnode.Vnode) (string, error) {
			calls++
			return "/target", nil
		},
	}
	vn := vnode.New(1, nil, vnode.TypeSymlink, ops, nil)

	target1, err := vn.Readlink(context.Background())
	require.NoError(t, err)
	target2, err := vn.Readlink(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/target", target1)
	assert.Equal(t, "/target", target2)
	assert.Equal(t, 1, calls)
}

func TestReaddirRejectsNegativeOffset(t *testing.T) {
	called := false
	ops := &vnode.Ops{
		Readdir: func(ctx context.Context, dir *vnode.Vnode, offset int64) ([]vnode.Dirent, error) {
			called = true
			return nil, nil
		},
	}
	dir := newDir(nil, ops)

	_, err := dir.Readdir(context.Background(), -1)
	assert.ErrorIs(t, err, errno.INVAL)
	assert.False(t, called)
}

func TestReadlinkOnNonSymlinkIsInval(t *testing.T) {
	vn := vnode.New(1, nil, vnode.TypeRegular, nil, nil)
	_, err := vn.Readlink(context.Background())
	assert.ErrorIs(t, err, errno.INVAL)
}

func TestIncDecNlinkTouchesCtime(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	vn := vnode.NewWithClock(1, nil, vnode.TypeRegular, nil, nil, sc)

	sc.AdvanceTime(time.Second)
	vn.Lock()
	vn.IncNlink()
	assert.EqualValues(t, 1, vn.Nlink())
	assert.Equal(t, sc.Now(), vn.Ctime())
	vn.Unlock()

	sc.AdvanceTime(time.Second)
	vn.Lock()
	vn.DecNlink()
	assert.EqualValues(t, 0, vn.Nlink())
	assert.Equal(t, sc.Now(), vn.Ctime())
	vn.Unlock()
}

func TestDecNlinkBelowZeroPanics(t *testing.T) {
	vn := vnode.New(1, nil, vnode.TypeRegular, nil, nil)
	vn.Lock()
	defer vn.Unlock()
	assert.Panics(t, func() { vn.DecNlink() })
}

func TestPrivateStateRoundTrips(t *testing.T) {
	vn := vnode.New(1, nil, vnode.TypeRegular, nil, nil)
	vn.SetPrivate("driver state")
	assert.Equal(t, "driver state", vn.Private())
}

func TestLoadIsIdempotentPerLoadedFlag(t *testing.T) {
	calls := 0
	ops := &vnode.Ops{
		Load: func(ctx context.Context, vn *vnode.Vnode) error {
			calls++
			return nil
		},
	}
	vn := vnode.New(1, nil, vnode.TypeRegular, ops, nil)

	require.NoError(t, vn.Load(context.Background()))
	require.NoError(t, vn.Load(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestSaveNoopWhenNotDirty(t *testing.T) {
	calls := 0
	ops := &vnode.Ops{
		Save: func(ctx context.Context, vn *vnode.Vnode) error {
			calls++
			return nil
		},
	}
	vn := vnode.New(1, nil, vnode.TypeRegular, ops, nil)
	require.NoError(t, vn.Save(context.Background()))
	assert.Zero(t, calls)
}
