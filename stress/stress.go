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

// Package stress exercises a mara allocator with a randomized
// allocate/free workload and verifies the arena afterwards.
//
// A run performs a configurable number of allocation requests with random
// sizes, optionally filling every block with a known pattern, and frees a
// random live block after each request with a configurable probability.
// After every iteration the harness drains all remaining blocks, checks
// every page's structure and re-verifies the fill pattern of each block
// before it is freed. Runs are deterministic under a fixed seed.
package stress

import (
	"context"
	"encoding/binary"
	"math/rand"
	"time"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"github.com/mara-allocator/mara"
)

// Config parameterizes one stress scenario. The zero value of a field
// selects its default.
type Config struct {
	// Name labels the scenario in reports and logs.
	Name string `yaml:"name"`
	// ArenaSize is the size of the backing buffer. Default 64 MiB.
	ArenaSize int `yaml:"arena_size"`
	// PageSize is the allocator's page size. Default 1 MiB.
	PageSize int `yaml:"page_size"`
	// Iterations repeats the request loop; all live blocks are drained
	// between iterations. Default 1.
	Iterations int `yaml:"iterations"`
	// Requests is the number of allocations per iteration. Default 50000.
	Requests int `yaml:"requests"`
	// FreeProbability is the chance to free a random live block after
	// each request. Default 0.5.
	FreeProbability float64 `yaml:"free_probability"`
	// MinSize and MaxSize bound the requested block sizes. Sizes are
	// multiples of 4; MinSize is rounded up to the grid, MaxSize down.
	// Defaults 4 and 1000.
	MinSize int `yaml:"min_size"`
	MaxSize int `yaml:"max_size"`
	// Fill selects the pattern written into every block. Default none.
	Fill Fill `yaml:"fill"`
	// Seed seeds the random source. Default 123456789.
	Seed int64 `yaml:"seed"`
}

func (c Config) withDefaults() Config {
	if c.ArenaSize == 0 {
		c.ArenaSize = 64 << 20
	}
	if c.PageSize == 0 {
		c.PageSize = 1 << 20
	}
	if c.Iterations == 0 {
		c.Iterations = 1
	}
	if c.Requests == 0 {
		c.Requests = 50000
	}
	if c.FreeProbability == 0 {
		c.FreeProbability = 0.5
	}
	if c.MinSize == 0 {
		c.MinSize = 4
	}
	if c.MaxSize == 0 {
		c.MaxSize = 1000
	}
	if c.Seed == 0 {
		c.Seed = 123456789
	}
	return c
}

// Report summarizes a finished run.
type Report struct {
	Name     string
	Allocs   int
	Frees    int
	Pages    int
	PeakLive int
	// Corrupted counts blocks whose fill pattern had changed by the time
	// they were freed. Always 0 for a correct allocator.
	Corrupted int
	Duration  time.Duration
	Stats     mara.Stats
}

type block struct {
	b   []byte
	pat uint64
}

// Run executes one scenario and returns its report. The arena structure is
// verified after every iteration; a structural error fails the run. Fill
// corruption does not: it is counted in the report.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	cfg = cfg.withDefaults()
	// Request sizes are multiples of 4; snap the bounds to that grid so
	// every sample is drawn from a non-empty set.
	cfg.MinSize += (4 - cfg.MinSize%4) % 4
	cfg.MaxSize -= cfg.MaxSize % 4
	if cfg.MinSize < 4 || cfg.MaxSize < cfg.MinSize {
		return nil, errors.Fmt("bad size bounds [%d, %d]", cfg.MinSize, cfg.MaxSize)
	}

	arena := make([]byte, cfg.ArenaSize)
	a, err := mara.New(arena, cfg.PageSize)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	rep := &Report{Name: cfg.Name}
	start := time.Now()

	var live []block
	liveBytes := 0
	for it := 0; it < cfg.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		for r := 0; r < cfg.Requests; r++ {
			size := randSize(rng, cfg.MinSize, cfg.MaxSize)
			b, err := a.Alloc(size)
			if err != nil {
				return rep, errors.Fmt("request %d of iteration %d (size %d): %w",
					r, it, size, err)
			}
			blk := block{b: b, pat: cfg.Fill.pattern(rng)}
			if cfg.Fill != FillNone {
				fill(blk)
			}
			live = append(live, blk)
			rep.Allocs++
			if liveBytes += len(b); liveBytes > rep.PeakLive {
				rep.PeakLive = liveBytes
			}

			if len(live) > 0 && rng.Float64() <= cfg.FreeProbability {
				i := rng.Intn(len(live))
				rep.Corrupted += releaseBlock(a, live[i], cfg.Fill != FillNone)
				liveBytes -= len(live[i].b)
				live[i] = live[len(live)-1]
				live = live[:len(live)-1]
				rep.Frees++
			}
		}
		if err := a.CheckConsistency(); err != nil {
			return rep, errors.Fmt("after iteration %d: %w", it, err)
		}
		// Drain everything; the heap has to merge back together.
		for _, blk := range live {
			rep.Corrupted += releaseBlock(a, blk, cfg.Fill != FillNone)
			rep.Frees++
		}
		live = live[:0]
		liveBytes = 0
		if err := a.CheckConsistency(); err != nil {
			return rep, errors.Fmt("after draining iteration %d: %w", it, err)
		}
		logging.Debugf(ctx, "stress %q: iteration %d done, %d allocs, %d pages",
			cfg.Name, it, rep.Allocs, a.Stats().Pages)
	}

	rep.Duration = time.Since(start)
	rep.Stats = a.Stats()
	rep.Pages = rep.Stats.Pages
	return rep, nil
}

// releaseBlock verifies the block's fill, zeroes it (buried bugs are
// easier to spot in a zeroed arena) and frees it. Returns 1 if the fill
// pattern had been damaged.
func releaseBlock(a *mara.Allocator, blk block, check bool) (corrupted int) {
	if check && !verify(blk) {
		corrupted = 1
	}
	for i := range blk.b {
		blk.b[i] = 0
	}
	if err := a.Free(blk.b); err != nil {
		// Free of a block we own can only fail on corruption, which the
		// surrounding CheckConsistency reports with more context.
		corrupted = 1
	}
	return
}

// randSize picks a request size in [min, max] on the allocator's 4 byte
// granularity. Both bounds must be multiples of 4.
func randSize(rng *rand.Rand, min, max int) int {
	return min + 4*rng.Intn((max-min)/4+1)
}

// fill writes the block's pattern over its payload in 8 byte windows; a
// tail shorter than 8 bytes stays untouched.
func fill(blk block) {
	for i := 0; i+8 <= len(blk.b); i += 8 {
		binary.LittleEndian.PutUint64(blk.b[i:], blk.pat)
	}
}

func verify(blk block) bool {
	for i := 0; i+8 <= len(blk.b); i += 8 {
		if binary.LittleEndian.Uint64(blk.b[i:]) != blk.pat {
			return false
		}
	}
	return true
}
