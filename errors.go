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

import (
	"go.chromium.org/luci/common/errors"

	"github.com/mara-allocator/mara/internal/page"
)

var (
	// ErrNotEnoughMemory is returned by New when the arena cannot hold
	// a single page.
	ErrNotEnoughMemory = errors.New("mara: arena too small for one page")

	// ErrInvalidPageSize is returned by New for page sizes below the
	// minimum or beyond what a 4 byte next offset can address.
	ErrInvalidPageSize = errors.New("mara: invalid page size")

	// ErrOutOfMemory is returned when no page, including a freshly
	// appended one, can serve the request.
	ErrOutOfMemory = errors.New("mara: out of memory")

	// ErrOutOfPages is returned when the request needs another page but
	// the arena is fully divided into pages already.
	ErrOutOfPages = errors.New("mara: out of pages")

	// ErrAllocTooSmall is returned for non-positive request sizes.
	ErrAllocTooSmall = errors.New("mara: allocation size too small")

	// ErrAllocTooLarge is returned for requests that can never fit in
	// a page.
	ErrAllocTooLarge = errors.New("mara: allocation size too large")

	// ErrAllocationNotFound is returned by Free when the given slice is
	// not a live dynamic block of this allocator.
	ErrAllocationNotFound = errors.New("mara: allocation not found")

	// ErrCorrupt is returned when the arena's byte structure contradicts
	// itself, usually after an out-of-bounds write by the caller.
	ErrCorrupt = page.ErrCorrupt
)
