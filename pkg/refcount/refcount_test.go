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

package refcount_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelvfs/vfscore/pkg/refcount"
)

func TestNewStartsAtOne(t *testing.T) {
	r := refcount.New(42, func(int) {})
	assert.EqualValues(t, 1, r.Count())
	assert.Equal(t, 42, r.Value())
}

func TestGetIncrementsCount(t *testing.T) {
	r := refcount.New("x", func(string) {})
	r.Get()
	r.Get()
	assert.EqualValues(t, 3, r.Count())
}

func TestCleanupRunsExactlyOnceAtZero(t *testing.T) {
	var calls int
	var mu sync.Mutex
	r := refcount.New("x", func(string) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	r.Get()
	r.Get()

	r.Put()
	assert.Equal(t, 0, calls)
	r.Put()
	assert.Equal(t, 0, calls)
	r.Put()
	assert.Equal(t, 1, calls)
}

func TestPutBelowZeroPanics(t *testing.T) {
	r := refcount.New("x", func(string) {})
	r.Put()
	assert.Panics(t, func() { r.Put() })
}

func TestGetOnDeadHandlePanics(t *testing.T) {
	r := refcount.New("x", func(string) {})
	r.Put()
	assert.Panics(t, func() { r.Get() })
}

func TestMoveTransfersOwnershipWithoutTouchingCount(t *testing.T) {
	r := refcount.New("x", func(string) {})
	var src *refcount.Ref[string] = r

	moved := refcount.Move(&src)

	require.Nil(t, src)
	assert.Same(t, r, moved)
	assert.EqualValues(t, 1, moved.Count())
}

func TestConcurrentGetPutLeavesExactlyOneCleanup(t *testing.T) {
	var calls int
	var mu sync.Mutex
	r := refcount.New("x", func(string) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		r.Get()
		go func() {
			defer wg.Done()
			r.Put()
		}()
	}
	wg.Wait()
	r.Put()

	assert.Equal(t, 1, calls)
}
