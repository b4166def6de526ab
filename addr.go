// Copyright 2026 The Mara Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mara

import "unsafe"

// offsetOf maps a slice handed out by Alloc back to its arena offset.
// Blocks are identified by the address of their first byte, so callers may
// freely re-slice what Alloc returned as long as the first byte stays.
func (a *Allocator) offsetOf(b []byte) (int, bool) {
	base := uintptr(unsafe.Pointer(unsafe.SliceData(a.buf)))
	p := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	if p < base || p >= base+uintptr(len(a.buf)) {
		return 0, false
	}
	return int(p - base), true
}
