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

package stress

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"
)

// smallConfig keeps test runs fast while still exercising page growth,
// splits and merges.
func smallConfig() Config {
	return Config{
		Name:            "small",
		ArenaSize:       1 << 20,
		PageSize:        1 << 16,
		Iterations:      2,
		Requests:        3000,
		FreeProbability: 0.5,
		MinSize:         4,
		MaxSize:         500,
		Fill:            FillRandom,
		Seed:            123456789,
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	ftt.Run("Run", t, func(t *ftt.Test) {
		ctx := context.Background()

		t.Run("keeps the arena consistent", func(t *ftt.Test) {
			rep, err := Run(ctx, smallConfig())
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, rep.Corrupted, should.BeZero)
			assert.Loosely(t, rep.Allocs, should.BeGreaterThan(0))
			assert.Loosely(t, rep.Frees, should.Equal(rep.Allocs))
			assert.Loosely(t, rep.Pages, should.BeGreaterThan(0))
		})

		t.Run("is deterministic for a fixed seed", func(t *ftt.Test) {
			a, err := Run(ctx, smallConfig())
			assert.Loosely(t, err, should.BeNil)
			b, err := Run(ctx, smallConfig())
			assert.Loosely(t, err, should.BeNil)

			assert.Loosely(t, b.Allocs, should.Equal(a.Allocs))
			assert.Loosely(t, b.Frees, should.Equal(a.Frees))
			assert.Loosely(t, b.PeakLive, should.Equal(a.PeakLive))
			assert.Loosely(t, b.Stats, should.Match(a.Stats))
		})

		t.Run("uneven fill patterns work too", func(t *ftt.Test) {
			for _, f := range []Fill{FillNone, FillZeroes, FillOnes} {
				cfg := smallConfig()
				cfg.Fill = f
				cfg.Requests = 500
				rep, err := Run(ctx, cfg)
				assert.Loosely(t, err, should.BeNil)
				assert.Loosely(t, rep.Corrupted, should.BeZero)
			}
		})

		t.Run("rejects a min size below the smallest block", func(t *ftt.Test) {
			cfg := smallConfig()
			cfg.MinSize = 2
			_, err := Run(ctx, cfg)
			assert.Loosely(t, err, should.NotBeNil)
		})

		t.Run("snaps uneven size bounds to the 4 byte grid", func(t *ftt.Test) {
			cfg := smallConfig()
			cfg.MinSize = 5
			cfg.MaxSize = 11
			cfg.Requests = 200
			rep, err := Run(ctx, cfg)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, rep.Corrupted, should.BeZero)
		})

		t.Run("rejects bounds with no multiple of 4 between them", func(t *ftt.Test) {
			cfg := smallConfig()
			cfg.MinSize = 5
			cfg.MaxSize = 7
			_, err := Run(ctx, cfg)
			assert.Loosely(t, err, should.NotBeNil)
		})

		t.Run("empty config picks defaults", func(t *ftt.Test) {
			cfg := Config{Requests: 200}
			rep, err := Run(ctx, cfg)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, rep.Corrupted, should.BeZero)
			assert.Loosely(t, rep.Allocs, should.BeGreaterThan(0))
		})
	})
}

func TestParseFill(t *testing.T) {
	t.Parallel()

	ftt.Run("ParseFill", t, func(t *ftt.Test) {
		for _, f := range []Fill{FillNone, FillZeroes, FillOnes, FillRandom} {
			got, err := ParseFill(f.String())
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, got, should.Equal(f))
		}

		_, err := ParseFill("sparkles")
		assert.Loosely(t, err, should.NotBeNil)
	})
}

func TestLoadSuite(t *testing.T) {
	t.Parallel()

	ftt.Run("LoadSuite", t, func(t *ftt.Test) {
		t.Run("parses scenarios and names the anonymous ones", func(t *ftt.Test) {
			path := filepath.Join(t.TempDir(), "suite.yaml")
			body := `scenarios:
  - name: tiny
    arena_size: 1048576
    page_size: 65536
    requests: 100
    fill: random
  - requests: 50
    free_probability: 0.9
`
			assert.Loosely(t, os.WriteFile(path, []byte(body), 0600), should.BeNil)

			suite, err := LoadSuite(path)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, len(suite.Scenarios), should.Equal(2))

			assert.Loosely(t, suite.Scenarios[0].Name, should.Equal("tiny"))
			assert.Loosely(t, suite.Scenarios[0].Fill, should.Equal(FillRandom))
			assert.Loosely(t, suite.Scenarios[0].Requests, should.Equal(100))

			assert.Loosely(t, suite.Scenarios[1].Name, should.Equal("scenario-1"))
			assert.Loosely(t, suite.Scenarios[1].FreeProbability, should.Equal(0.9))
		})

		t.Run("rejects a missing file", func(t *ftt.Test) {
			_, err := LoadSuite(filepath.Join(t.TempDir(), "nope.yaml"))
			assert.Loosely(t, err, should.NotBeNil)
		})

		t.Run("rejects bad yaml", func(t *ftt.Test) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			assert.Loosely(t, os.WriteFile(path, []byte("scenarios: {"), 0600), should.BeNil)
			_, err := LoadSuite(path)
			assert.Loosely(t, err, should.NotBeNil)
		})
	})
}

func TestRunAll(t *testing.T) {
	t.Parallel()

	ftt.Run("RunAll runs every scenario", t, func(t *ftt.Test) {
		ctx := context.Background()
		cfgs := []Config{smallConfig(), smallConfig()}
		cfgs[0].Requests = 500
		cfgs[1].Requests = 500
		cfgs[1].Seed = 42

		reps, err := RunAll(ctx, cfgs, 2)
		assert.Loosely(t, err, should.BeNil)
		assert.Loosely(t, len(reps), should.Equal(2))
		for _, r := range reps {
			assert.Loosely(t, r, should.NotBeNil)
			assert.Loosely(t, r.Corrupted, should.BeZero)
		}
	})
}
