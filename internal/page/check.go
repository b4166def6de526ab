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

package page

import (
	"go.chromium.org/luci/common/errors"

	"github.com/mara-allocator/mara/codeblock"
	"github.com/mara-allocator/mara/internal/freespace"
)

// Stats summarizes the free memory of a page.
type Stats struct {
	FreeBlocks  int
	FreeBytes   int
	LargestFree int
	StaticBytes int
}

// CheckConsistency walks the dynamic sector block by block and verifies
// the structural invariants: the blocks tile [0, staticEnd) exactly, the
// mirrored code blocks of every block agree, and every free block is
// findable in the bucket list. A free block missing from its bucket is
// leaked memory.
func (p *Page) CheckConsistency() error {
	off := 0
	for off < p.staticEnd {
		s := codeblock.ReadLeft(p.buf, off)
		c := codeblock.BlockSize(p.buf, off)
		end := off + 2*c + s
		if s < freespace.MinPayload || end > p.staticEnd {
			return errors.Fmt("block at %d: size %d runs past the static sector at %d: %w",
				off, s, p.staticEnd, ErrCorrupt)
		}
		rs, rl := codeblock.ReadRight(p.buf, end-1)
		if rs != s || rl != off+c+s {
			return errors.Fmt("block at %d: code blocks disagree (left %d, right %d): %w",
				off, s, rs, ErrCorrupt)
		}
		if codeblock.IsFree(p.buf, off) != codeblock.IsFree(p.buf, off+c+s) {
			return errors.Fmt("block at %d: free bits disagree: %w", off, ErrCorrupt)
		}
		if codeblock.IsFree(p.buf, off) {
			if in, _ := p.buckets.Contains(p.buf, off); !in {
				return errors.Fmt("free block at %d (size %d) not in its bucket: %w",
					off, s, ErrCorrupt)
			}
		}
		off = end
	}
	if off != p.staticEnd {
		return errors.Fmt("blocks overrun the static sector: %d != %d: %w",
			off, p.staticEnd, ErrCorrupt)
	}
	return nil
}

// Stats walks the dynamic sector and tallies its free blocks.
func (p *Page) Stats() Stats {
	st := Stats{StaticBytes: len(p.buf) - p.staticEnd}
	for off := 0; off < p.staticEnd; {
		s := codeblock.ReadLeft(p.buf, off)
		c := codeblock.BlockSize(p.buf, off)
		if codeblock.IsFree(p.buf, off) {
			st.FreeBlocks++
			st.FreeBytes += s
			if s > st.LargestFree {
				st.LargestFree = s
			}
		}
		off += 2*c + s
	}
	return st
}
