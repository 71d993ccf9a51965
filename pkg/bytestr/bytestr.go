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

// Package bytestr provides the owned and borrowed string types used
// for path components throughout the VFS core: an owned Name for
// storage inside a ventry, and a borrowed Slice for a path being
// walked component-by-component without allocating.
package bytestr

import "strings"

// MaxNameLength is the maximum length, in bytes, of a single path
// component.
const MaxNameLength = 255

// Name is an owned copy of a single path component's bytes.
type Name string

// NewName copies s into an owned Name.
func NewName(s string) Name {
	return Name(strings.Clone(s))
}

// TooLong reports whether n exceeds MaxNameLength.
func (n Name) TooLong() bool {
	return len(n) > MaxNameLength
}

func (n Name) String() string {
	return string(n)
}

// Slice is a borrowed view over the remainder of a path being resolved.
// It never copies; it only re-slices the original path string.
type Slice struct {
	path string
}

// NewSlice wraps path for component-by-component resolution.
func NewSlice(path string) Slice {
	return Slice{path: path}
}

// Done reports whether there are no more components to consume.
func (s Slice) Done() bool {
	return len(s.path) == 0
}

// TrailingSlash reports whether the original path ended in "/",
// forcing directory expectation on the final component.
func (s Slice) TrailingSlash() bool {
	return strings.HasSuffix(s.path, "/") && len(s.path) > 0
}

// Remaining returns the unconsumed portion of the path, unparsed. Used
// to splice a symlink target together with the components still left
// to resolve after it.
func (s Slice) Remaining() string {
	return s.path
}

// Next consumes and returns the next path component, skipping any
// number of separating slashes, along with the remaining Slice. ok is
// false once the path is exhausted.
func (s Slice) Next() (component string, rest Slice, ok bool) {
	p := strings.TrimLeft(s.path, "/")
	if p == "" {
		return "", Slice{}, false
	}
	if idx := strings.IndexByte(p, '/'); idx >= 0 {
		return p[:idx], Slice{path: p[idx+1:]}, true
	}
	return p, Slice{}, true
}

// Split breaks path into its component strings, dropping empty
// components produced by repeated or leading/trailing slashes.
func Split(path string) []string {
	var out []string
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
