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

// Package page implements a single mara page: a window of the arena with a
// dynamic sector growing from the left, a static sector growing from the
// right, and a bucket list indexing the free blocks in between.
package page

import (
	"go.chromium.org/luci/common/errors"

	"github.com/mara-allocator/mara/codeblock"
	"github.com/mara-allocator/mara/internal/bucket"
	"github.com/mara-allocator/mara/internal/freespace"
)

// ErrCorrupt is returned when the byte structure of a page contradicts
// itself, e.g. after a caller scribbled over a code block.
var ErrCorrupt = errors.New("mara: corrupt arena")

// Page is one window of the arena. All offsets are relative to the start
// of the window.
type Page struct {
	buf []byte
	// staticEnd is the leftmost byte of the static sector. The dynamic
	// blocks tile [0, staticEnd) exactly; the static sector has no
	// bookkeeping at all.
	staticEnd int
	// dynamicEnd is the rightmost byte ever occupied by a dynamic block.
	// Everything between dynamicEnd and staticEnd is free memory.
	dynamicEnd int
	buckets    *bucket.List
}

// New initializes a page over buf: one giant free block spanning the whole
// window, linked into the bucket list.
func New(buf []byte) *Page {
	p := &Page{
		buf:       buf,
		staticEnd: len(buf),
		buckets:   bucket.NewList(),
	}
	c := codeblock.WriteInternal(buf, 0, len(buf), true)
	freespace.CopyBlockToEnd(buf, 0, c)
	freespace.WriteNext(buf, 0, -1)
	p.buckets.Add(buf, 0)
	return p
}

// AllocDynamic reserves a dynamic block. It returns the offset of the
// first payload byte and the actual payload size, which can exceed the
// request when splitting the found free block would leave an unusable
// sliver. ok is false if no free block in this page fits.
func (p *Page) AllocDynamic(size int) (off, actual int, ok bool) {
	block := p.buckets.FindSpace(p.buf, size)
	if block < 0 {
		return 0, 0, false
	}
	p.buckets.Remove(p.buf, block)
	cut := size + 2*codeblock.NeededSize(size)
	if rem, split := p.cutLeft(block, cut); split {
		p.buckets.Add(p.buf, rem)
		freespace.ToOccupied(p.buf, block, size)
	} else {
		// The remainder would be smaller than the smallest free block.
		// Hand out the whole block instead of leaving a sliver behind.
		codeblock.SetFree(p.buf, block, false)
		freespace.CopyBlockToEnd(p.buf, block, codeblock.BlockSize(p.buf, block))
	}
	if end := freespace.RightMostEnd(p.buf, block); end > p.dynamicEnd {
		p.dynamicEnd = end
	}
	c := codeblock.BlockSize(p.buf, block)
	return block + c, codeblock.ReadLeft(p.buf, block), true
}

// AllocStatic reserves a block in the static sector. Static blocks carry
// no code blocks and can never be freed. Returns the offset of the block
// and its size; ok is false if the gap between the sectors cannot take the
// block and still leave a usable free block behind.
func (p *Page) AllocStatic(size int) (off, actual int, ok bool) {
	if !p.staticFits(size) {
		return 0, 0, false
	}
	// The free memory below staticEnd is a single free block ending at
	// staticEnd-1; shrink it from the right.
	s, left := codeblock.ReadRight(p.buf, p.staticEnd-1)
	c := p.staticEnd - left
	block := left - s - c
	p.buckets.Remove(p.buf, block)
	if !p.cutRight(block, size) {
		p.buckets.Add(p.buf, block)
		return 0, 0, false
	}
	p.buckets.Add(p.buf, block)
	p.staticEnd -= size
	return p.staticEnd, size, true
}

// staticFits reports whether a static block of the given size leaves the
// sectors separated by at least the smallest possible free block.
func (p *Page) staticFits(size int) bool {
	gap := p.staticEnd - p.dynamicEnd
	return size <= gap-1 && gap >= freespace.MinBlock+size
}

// Contains reports whether off points into the dynamic part of this page.
// Static blocks cannot be found this way.
func (p *Page) Contains(off int) bool {
	return off >= 0 && off < p.staticEnd
}

// Free releases the dynamic block whose payload starts at off, merging it
// with free neighbors on both sides.
func (p *Page) Free(off int) error {
	size, block := codeblock.ReadRight(p.buf, off-1)
	c := codeblock.BlockSize(p.buf, block)
	end := block + 2*c + size
	if end > p.staticEnd {
		return errors.Fmt("block %d..%d reaches into the static sector at %d: %w",
			block, end, p.staticEnd, ErrCorrupt)
	}

	left := -1
	if block > 0 {
		left = freespace.LeftNeighbor(p.buf, block-1)
		if left < 0 || !codeblock.IsFree(p.buf, left) {
			left = -1
		}
	}
	right := end
	if right >= p.staticEnd || !codeblock.IsFree(p.buf, right) {
		right = -1
	}
	p.mergeFree(left, block, right)
	return nil
}

// mergeFree merges the mid block with its free neighbors (either may be
// -1) into one free block and links the result into the bucket list. The
// blocks must be adjacent.
func (p *Page) mergeFree(left, mid, right int) {
	if right >= 0 {
		p.buckets.Remove(p.buf, right)
		end := freespace.RightMostEnd(p.buf, right)
		c := codeblock.WriteInternal(p.buf, mid, end-mid+1, true)
		freespace.CopyBlockToEnd(p.buf, mid, c)
	}
	if left < 0 {
		codeblock.SetFree(p.buf, mid, true)
		freespace.CopyBlockToEnd(p.buf, mid, codeblock.BlockSize(p.buf, mid))
		p.buckets.Add(p.buf, mid)
		return
	}
	p.buckets.Remove(p.buf, left)
	end := freespace.RightMostEnd(p.buf, mid)
	c := codeblock.WriteInternal(p.buf, left, end-left+1, true)
	freespace.CopyBlockToEnd(p.buf, left, c)
	p.buckets.Add(p.buf, left)
}

// cutLeft carves n bytes off the left end of the free block at off.
// Returns the offset of the shrunk remainder, or split == false if the
// remainder would be smaller than the smallest possible free block.
func (p *Page) cutLeft(off, n int) (rem int, split bool) {
	if freespace.Footprint(p.buf, off)-n < freespace.MinBlock {
		return 0, false
	}
	return freespace.PushBeginningRight(p.buf, off, off+n), true
}

// cutRight carves n bytes off the right end of the free block at off.
func (p *Page) cutRight(off, n int) bool {
	if freespace.Footprint(p.buf, off)-n < freespace.MinBlock {
		return false
	}
	freespace.PushEndLeft(p.buf, off, freespace.RightMostEnd(p.buf, off)-n)
	return true
}
