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

package bytestr_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kernelvfs/vfscore/pkg/bytestr"
)

func TestNameTooLong(t *testing.T) {
	short := bytestr.NewName("file.txt")
	assert.False(t, short.TooLong())

	long := bytestr.NewName(strings.Repeat("a", bytestr.MaxNameLength+1))
	assert.True(t, long.TooLong())

	exact := bytestr.NewName(strings.Repeat("a", bytestr.MaxNameLength))
	assert.False(t, exact.TooLong())
}

func TestSplit(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"/", nil},
		{"", nil},
		{"/a/b/c", []string{"a", "b", "c"}},
		{"a/b/c", []string{"a", "b", "c"}},
		{"//a//b//", []string{"a", "b"}},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, bytestr.Split(tc.path))
		})
	}
}

func TestSliceNext(t *testing.T) {
	s := bytestr.NewSlice("/a/b/c")
	assert.False(t, s.Done())

	comp, rest, ok := s.Next()
	assert.True(t, ok)
	assert.Equal(t, "a", comp)

	comp, rest, ok = rest.Next()
	assert.True(t, ok)
	assert.Equal(t, "b", comp)

	comp, rest, ok = rest.Next()
	assert.True(t, ok)
	assert.Equal(t, "c", comp)

	assert.True(t, rest.Done())
	_, _, ok = rest.Next()
	assert.False(t, ok)
}

func TestSliceTrailingSlash(t *testing.T) {
	assert.True(t, bytestr.NewSlice("/a/b/").TrailingSlash())
	assert.False(t, bytestr.NewSlice("/a/b").TrailingSlash())
	assert.False(t, bytestr.NewSlice("").TrailingSlash())
}
