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

// Package mara implements an allocator that manages a caller-provided
// byte slice, the arena, without touching the Go heap for payload data.
//
// The arena is divided into fixed-size pages. Every block in a page is
// delimited by a variable-length code block at each end (package
// codeblock) that encodes the block's size and whether it is free; free
// blocks are indexed by a per-page segregated free list. Allocation walks
// the page ring starting at the page that served the last request and
// appends pages to the ring on demand.
//
// Dynamic blocks are returned as sub-slices of the arena and released
// with Free. Static blocks live in a separate sector at the end of each
// page, cost no bookkeeping bytes, and can never be freed.
//
// An Allocator is safe for concurrent use.
package mara

import (
	"sync"

	"go.chromium.org/luci/common/errors"

	"github.com/mara-allocator/mara/codeblock"
	"github.com/mara-allocator/mara/internal/page"
)

const (
	// MinPageSize is the smallest supported page size. A page must at
	// least hold one free block and a pair of code blocks around a
	// minimal allocation.
	MinPageSize = 32

	// MaxPageSize bounds the page size so that every offset within a
	// page fits in the 4 byte next fields of free blocks.
	MaxPageSize = 1<<32 - 16
)

// minAlloc is the smallest payload handed out. A freed block must be able
// to hold a next offset, so smaller requests are rounded up.
const minAlloc = 4

// Allocator manages one arena. Create it with New.
type Allocator struct {
	mu       sync.Mutex
	buf      []byte
	pageSize int
	maxAlloc int
	pages    []*page.Page
	// cursor is the index of the page that served the last request; the
	// next walk starts there.
	cursor int
}

// New creates an allocator over buf with the given page size. The arena
// must hold at least one page.
func New(buf []byte, pageSize int) (*Allocator, error) {
	if pageSize < MinPageSize || pageSize > MaxPageSize {
		return nil, errors.Fmt("page size %d: %w", pageSize, ErrInvalidPageSize)
	}
	if len(buf) < pageSize {
		return nil, errors.Fmt("arena of %d bytes, page size %d: %w",
			len(buf), pageSize, ErrNotEnoughMemory)
	}
	a := &Allocator{
		buf:      buf,
		pageSize: pageSize,
		maxAlloc: pageSize - 2*codeblock.NeededSize(pageSize),
	}
	a.pages = append(a.pages, page.New(buf[:pageSize]))
	return a, nil
}

// PageSize returns the configured page size.
func (a *Allocator) PageSize() int {
	return a.pageSize
}

// Alloc reserves a dynamic block of at least size bytes and returns it as
// a sub-slice of the arena with len(b) == size. The slice's capacity is
// the block's actual payload, which can be slightly larger. The block
// stays reserved until it is passed to Free.
func (a *Allocator) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Fmt("requested %d bytes: %w", size, ErrAllocTooSmall)
	}
	if size > a.maxAlloc {
		return nil, errors.Fmt("requested %d bytes, page payload limit is %d: %w",
			size, a.maxAlloc, ErrAllocTooLarge)
	}
	// The reserved block is rounded up so a freed block can hold a next
	// offset; the returned slice keeps the requested length.
	req := size
	if size < minAlloc {
		size = minAlloc
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	idx, off, actual, err := a.allocate(size, (*page.Page).AllocDynamic)
	if err != nil {
		return nil, err
	}
	start := idx*a.pageSize + off
	return a.buf[start : start+req : start+actual], nil
}

// AllocStatic reserves a block in the static sector. The block lives until
// the allocator is dropped; passing it to Free fails. Unlike dynamic
// blocks it costs no bookkeeping bytes.
func (a *Allocator) AllocStatic(size int) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Fmt("requested %d bytes: %w", size, ErrAllocTooSmall)
	}
	if size > a.maxAlloc {
		return nil, errors.Fmt("requested %d bytes, page payload limit is %d: %w",
			size, a.maxAlloc, ErrAllocTooLarge)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	idx, off, actual, err := a.allocate(size, (*page.Page).AllocStatic)
	if err != nil {
		return nil, err
	}
	start := idx*a.pageSize + off
	return a.buf[start : start+actual : start+actual], nil
}

// Free releases a dynamic block previously returned by Alloc. The block is
// merged with free neighbors immediately.
func (a *Allocator) Free(b []byte) error {
	if len(b) == 0 {
		return ErrAllocationNotFound
	}
	off, ok := a.offsetOf(b)
	if !ok {
		return ErrAllocationNotFound
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	idx := off / a.pageSize
	local := off - idx*a.pageSize
	// A payload always sits behind at least one code block byte, so the
	// first byte of a page can never start a block.
	if idx >= len(a.pages) || local == 0 || !a.pages[idx].Contains(local) {
		return errors.Fmt("offset %d: %w", off, ErrAllocationNotFound)
	}
	return a.pages[idx].Free(local)
}

// allocate walks the page ring starting at the cursor, then appends a new
// page if no existing one can serve the request.
func (a *Allocator) allocate(size int, alloc func(*page.Page, int) (int, int, bool)) (idx, off, actual int, err error) {
	for i := range a.pages {
		idx = (a.cursor + i) % len(a.pages)
		if off, actual, ok := alloc(a.pages[idx], size); ok {
			a.cursor = idx
			return idx, off, actual, nil
		}
	}
	p, err := a.addPage()
	if err != nil {
		return 0, 0, 0, errors.Fmt("no page can serve %d bytes: %w", size, err)
	}
	idx = len(a.pages) - 1
	if off, actual, ok := alloc(p, size); ok {
		a.cursor = idx
		return idx, off, actual, nil
	}
	// A fresh page is the best case; if the request does not fit there it
	// will not fit anywhere.
	return 0, 0, 0, errors.Fmt("%d bytes do not fit in an empty page: %w", size, ErrOutOfMemory)
}

// addPage appends the next page of the arena to the ring.
func (a *Allocator) addPage() (*page.Page, error) {
	start := len(a.pages) * a.pageSize
	if start+a.pageSize > len(a.buf) {
		return nil, ErrOutOfPages
	}
	p := page.New(a.buf[start : start+a.pageSize])
	a.pages = append(a.pages, p)
	return p, nil
}

// Stats describes the current shape of the arena.
type Stats struct {
	// Pages is the number of pages carved out of the arena so far.
	Pages int
	// FreeBlocks and FreeBytes count the free blocks of all pages and
	// their payload bytes.
	FreeBlocks int
	FreeBytes  int
	// LargestFree is the payload of the biggest free block, an upper
	// bound for the next Alloc that needs no new page.
	LargestFree int
	// StaticBytes is the total size of the static sectors.
	StaticBytes int
}

// Stats walks all pages and tallies their free memory.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := Stats{Pages: len(a.pages)}
	for _, p := range a.pages {
		ps := p.Stats()
		st.FreeBlocks += ps.FreeBlocks
		st.FreeBytes += ps.FreeBytes
		st.StaticBytes += ps.StaticBytes
		if ps.LargestFree > st.LargestFree {
			st.LargestFree = ps.LargestFree
		}
	}
	return st
}

// CheckConsistency verifies the structural invariants of every page. It is
// meant for tests and for callers that hand out arena slices to untrusted
// code; a healthy allocator never fails it.
func (a *Allocator) CheckConsistency() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, p := range a.pages {
		if err := p.CheckConsistency(); err != nil {
			return errors.Fmt("page %d: %w", i, err)
		}
	}
	return nil
}
