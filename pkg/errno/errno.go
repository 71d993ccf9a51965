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

// Package errno defines the closed taxonomy of errors the VFS core
// returns. Driver errors propagate unchanged; these values are produced
// only by core preconditions and invariants.
package errno

import "fmt"

// Errno is a named error sentinel mirroring a POSIX errno; it carries
// only the errno's name, no numeric code.
type Errno struct {
	name string
}

func (e *Errno) Error() string {
	return e.name
}

var (
	INVAL       = &Errno{"EINVAL"}
	NOTDIR      = &Errno{"ENOTDIR"}
	ISDIR       = &Errno{"EISDIR"}
	NAMETOOLONG = &Errno{"ENAMETOOLONG"}
	NOENT       = &Errno{"ENOENT"}
	EXIST       = &Errno{"EEXIST"}
	NOTSUP      = &Errno{"ENOTSUP"}
	ROFS        = &Errno{"EROFS"}
	XDEV        = &Errno{"EXDEV"}
	LOOP        = &Errno{"ELOOP"}
	OVERFLOW    = &Errno{"EOVERFLOW"}
	IO          = &Errno{"EIO"}
	NOMEM       = &Errno{"ENOMEM"}
	BUSY        = &Errno{"EBUSY"}
)

// Is reports whether err is the given errno, without requiring callers
// to import "errors" for a simple sentinel comparison.
func Is(err error, target *Errno) bool {
	e, ok := err.(*Errno)
	return ok && e == target
}

// Wrap annotates err (typically a driver error) with context while
// preserving errno identity for errors.Is callers. The result is not
// itself an *Errno, so Is above, which does not unwrap, reports false
// for it.
func Wrap(context string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}
