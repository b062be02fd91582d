// Copyright 2022 Intel Corporation. All Rights Reserved.
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

package fragsched

import (
	"fmt"
)

// InvariantError indicates internal bookkeeping corruption: a residency
// commit that would exceed a node's budget, or a second migration started
// for a fragment that already has one in flight. These can only be caused
// by a sequencing bug, so callers should treat them as fatal.
type InvariantError struct {
	msg string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	return e.msg
}

// invariantError produces a formatted InvariantError.
func invariantError(format string, args ...interface{}) *InvariantError {
	return &InvariantError{msg: fmt.Sprintf("fragsched: invariant violation: "+format, args...)}
}

// IsInvariantError checks if the given error is an InvariantError.
func IsInvariantError(err error) bool {
	_, ok := err.(*InvariantError)
	return ok
}

// fragschedError produces a formatted package-specific error.
func fragschedError(format string, args ...interface{}) error {
	return fmt.Errorf("fragsched: "+format, args...)
}
