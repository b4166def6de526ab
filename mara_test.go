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
	"sync"
	"testing"

	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"
)

func TestNewErrors(t *testing.T) {
	t.Parallel()

	ftt.Run("New", t, func(t *ftt.Test) {
		t.Run("rejects a tiny page size", func(t *ftt.Test) {
			_, err := New(make([]byte, 1024), MinPageSize-1)
			assert.Loosely(t, err, should.ErrLike(ErrInvalidPageSize))
		})

		t.Run("rejects an arena smaller than one page", func(t *ftt.Test) {
			_, err := New(make([]byte, 100), 256)
			assert.Loosely(t, err, should.ErrLike(ErrNotEnoughMemory))
		})

		t.Run("accepts an arena of exactly one page", func(t *ftt.Test) {
			a, err := New(make([]byte, 256), 256)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, a.PageSize(), should.Equal(256))
			assert.Loosely(t, a.Stats().Pages, should.Equal(1))
		})
	})
}

func TestAllocFree(t *testing.T) {
	t.Parallel()

	ftt.Run("With a one page arena", t, func(t *ftt.Test) {
		arena := make([]byte, 256)
		a, err := New(arena, 256)
		assert.Loosely(t, err, should.BeNil)

		t.Run("round trips a block", func(t *ftt.Test) {
			b, err := a.Alloc(16)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, len(b), should.Equal(16))
			assert.Loosely(t, cap(b), should.Equal(16))

			for i := range b {
				b[i] = byte(i)
			}
			assert.Loosely(t, a.Free(b), should.BeNil)
			assert.Loosely(t, a.CheckConsistency(), should.BeNil)
		})

		t.Run("blocks are disjoint arena slices", func(t *ftt.Test) {
			x, err := a.Alloc(8)
			assert.Loosely(t, err, should.BeNil)
			y, err := a.Alloc(8)
			assert.Loosely(t, err, should.BeNil)

			for i := range x {
				x[i] = 0xaa
			}
			for i := range y {
				y[i] = 0x55
			}
			assert.Loosely(t, x[0], should.Equal(byte(0xaa)))
			assert.Loosely(t, y[0], should.Equal(byte(0x55)))
			assert.Loosely(t, a.CheckConsistency(), should.BeNil)
		})

		t.Run("tiny requests are served", func(t *ftt.Test) {
			for req := 1; req <= 3; req++ {
				b, err := a.Alloc(req)
				assert.Loosely(t, err, should.BeNil)
				assert.Loosely(t, len(b), should.Equal(req))
				// The block is rounded up under the hood.
				assert.Loosely(t, cap(b), should.Equal(4))
				assert.Loosely(t, a.Free(b), should.BeNil)
			}
		})

		t.Run("rejects bad sizes", func(t *ftt.Test) {
			_, err := a.Alloc(0)
			assert.Loosely(t, err, should.ErrLike(ErrAllocTooSmall))
			_, err = a.Alloc(-3)
			assert.Loosely(t, err, should.ErrLike(ErrAllocTooSmall))
			_, err = a.Alloc(253)
			assert.Loosely(t, err, should.ErrLike(ErrAllocTooLarge))
		})

		t.Run("rejects a foreign slice", func(t *ftt.Test) {
			assert.Loosely(t, a.Free(make([]byte, 16)), should.ErrLike(ErrAllocationNotFound))
			assert.Loosely(t, a.Free(nil), should.ErrLike(ErrAllocationNotFound))
		})

		t.Run("rejects an arena alias that is no block", func(t *ftt.Test) {
			_, err := a.Alloc(16)
			assert.Loosely(t, err, should.BeNil)
			// The page starts with a code block, so offset 0 cannot be a
			// payload.
			assert.Loosely(t, a.Free(arena[:8]), should.ErrLike(ErrAllocationNotFound))
		})
	})
}

func TestPageRing(t *testing.T) {
	t.Parallel()

	ftt.Run("With a four page arena", t, func(t *ftt.Test) {
		a, err := New(make([]byte, 1024), 256)
		assert.Loosely(t, err, should.BeNil)

		t.Run("pages are added on demand", func(t *ftt.Test) {
			assert.Loosely(t, a.Stats().Pages, should.Equal(1))

			var blocks [][]byte
			for {
				b, err := a.Alloc(200)
				if err != nil {
					assert.Loosely(t, err, should.ErrLike(ErrOutOfPages))
					break
				}
				blocks = append(blocks, b)
			}
			// One 200 byte block per page.
			assert.Loosely(t, len(blocks), should.Equal(4))
			assert.Loosely(t, a.Stats().Pages, should.Equal(4))
			assert.Loosely(t, a.CheckConsistency(), should.BeNil)

			t.Run("and freed memory is found again", func(t *ftt.Test) {
				assert.Loosely(t, a.Free(blocks[1]), should.BeNil)
				b, err := a.Alloc(200)
				assert.Loosely(t, err, should.BeNil)
				assert.Loosely(t, b, should.NotBeNil)
				assert.Loosely(t, a.CheckConsistency(), should.BeNil)
			})
		})

		t.Run("small blocks fill a page before a new one is carved", func(t *ftt.Test) {
			for i := 0; i < 14; i++ {
				_, err := a.Alloc(16)
				assert.Loosely(t, err, should.BeNil)
			}
			assert.Loosely(t, a.Stats().Pages, should.Equal(1))

			_, err := a.Alloc(16)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, a.Stats().Pages, should.Equal(2))
			assert.Loosely(t, a.CheckConsistency(), should.BeNil)
		})
	})
}

func TestAllocStatic(t *testing.T) {
	t.Parallel()

	ftt.Run("With a two page arena", t, func(t *ftt.Test) {
		arena := make([]byte, 512)
		a, err := New(arena, 256)
		assert.Loosely(t, err, should.BeNil)

		t.Run("hands out the right edge of the page", func(t *ftt.Test) {
			b, err := a.AllocStatic(32)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, len(b), should.Equal(32))
			assert.Loosely(t, &b[31], should.Equal(&arena[255]))
			assert.Loosely(t, a.Stats().StaticBytes, should.Equal(32))
			assert.Loosely(t, a.CheckConsistency(), should.BeNil)
		})

		t.Run("static blocks cannot be freed", func(t *ftt.Test) {
			b, err := a.AllocStatic(32)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, a.Free(b), should.ErrLike(ErrAllocationNotFound))
		})

		t.Run("mixes with dynamic blocks", func(t *ftt.Test) {
			d, err := a.Alloc(64)
			assert.Loosely(t, err, should.BeNil)
			s, err := a.AllocStatic(64)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, a.CheckConsistency(), should.BeNil)

			assert.Loosely(t, a.Free(d), should.BeNil)
			assert.Loosely(t, a.Free(s), should.ErrLike(ErrAllocationNotFound))

			st := a.Stats()
			assert.Loosely(t, st.StaticBytes, should.Equal(64))
			assert.Loosely(t, st.Pages, should.Equal(1))
		})
	})
}

func TestStats(t *testing.T) {
	t.Parallel()

	ftt.Run("Stats tracks allocations", t, func(t *ftt.Test) {
		a, err := New(make([]byte, 512), 256)
		assert.Loosely(t, err, should.BeNil)

		st := a.Stats()
		assert.Loosely(t, st.FreeBlocks, should.Equal(1))
		assert.Loosely(t, st.FreeBytes, should.Equal(252))
		assert.Loosely(t, st.LargestFree, should.Equal(252))

		b, err := a.Alloc(100)
		assert.Loosely(t, err, should.BeNil)

		st = a.Stats()
		assert.Loosely(t, st.FreeBytes, should.BeLessThan(252))
		assert.Loosely(t, st.LargestFree, should.BeLessThan(252))

		assert.Loosely(t, a.Free(b), should.BeNil)
		st = a.Stats()
		assert.Loosely(t, st.FreeBytes, should.Equal(252))
	})
}

func TestConcurrentUse(t *testing.T) {
	t.Parallel()

	ftt.Run("parallel alloc and free keep the arena consistent", t, func(t *ftt.Test) {
		a, err := New(make([]byte, 1<<20), 1<<16)
		assert.Loosely(t, err, should.BeNil)

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					b, err := a.Alloc(64)
					if err != nil {
						continue
					}
					for j := range b {
						b[j] = byte(i)
					}
					_ = a.Free(b)
				}
			}()
		}
		wg.Wait()

		assert.Loosely(t, a.CheckConsistency(), should.BeNil)
		st := a.Stats()
		assert.Loosely(t, st.FreeBytes, should.Equal(st.LargestFree*st.Pages))
	})
}
