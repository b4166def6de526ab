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
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"go.chromium.org/luci/common/errors"
)

// Suite is a set of scenarios, usually loaded from a yaml file:
//
//	scenarios:
//	  - name: small-blocks
//	    arena_size: 67108864
//	    requests: 100000
//	    max_size: 64
//	    fill: random
//	  - name: large-blocks
//	    min_size: 512
//	    max_size: 16384
type Suite struct {
	Scenarios []Config `yaml:"scenarios"`
}

// LoadSuite reads a yaml scenario file.
func LoadSuite(path string) (*Suite, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Fmt("reading scenario file: %w", err)
	}
	s := &Suite{}
	if err := yaml.Unmarshal(raw, s); err != nil {
		return nil, errors.Fmt("parsing scenario file %q: %w", path, err)
	}
	if len(s.Scenarios) == 0 {
		return nil, errors.Fmt("scenario file %q defines no scenarios", path)
	}
	for i := range s.Scenarios {
		if s.Scenarios[i].Name == "" {
			s.Scenarios[i].Name = fmt.Sprintf("scenario-%d", i)
		}
	}
	return s, nil
}

// RunAll executes the scenarios over independent arenas, at most parallel
// of them at a time (0 means all at once). Reports come back in scenario
// order; the first failing scenario aborts the rest.
func RunAll(ctx context.Context, cfgs []Config, parallel int) ([]*Report, error) {
	reports := make([]*Report, len(cfgs))
	eg, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		eg.SetLimit(parallel)
	}
	for i, cfg := range cfgs {
		eg.Go(func() error {
			rep, err := Run(ctx, cfg)
			reports[i] = rep
			if err != nil {
				return errors.Fmt("scenario %q: %w", cfg.Name, err)
			}
			return nil
		})
	}
	return reports, eg.Wait()
}
