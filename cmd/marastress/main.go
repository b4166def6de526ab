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

// Marastress drives randomized workloads against the mara allocator and
// reports what the arena looks like afterwards.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/logging/gologger"

	"github.com/mara-allocator/mara/internal/bucket"
	"github.com/mara-allocator/mara/stress"
)

func application() *cli.Application {
	return &cli.Application{
		Name:  "marastress",
		Title: "mara allocator stress driver",
		Context: func(ctx context.Context) context.Context {
			return gologger.StdConfig.Use(ctx)
		},
		Commands: []*subcommands.Command{
			subcommands.CmdHelp,
			cmdRun,
			cmdBuckets,
		},
	}
}

func main() {
	os.Exit(subcommands.Run(application(), nil))
}

////////////////////////////////////////////////////////////////////////////////
// run

var cmdRun = &subcommands.Command{
	UsageLine: "run [flags]",
	ShortDesc: "runs stress scenarios against the allocator",
	LongDesc: "Runs stress scenarios against the allocator.\n\n" +
		"With -scenario, scenarios are loaded from a yaml file and the " +
		"single-scenario flags are ignored. Without it, one scenario is " +
		"built from the flags.",
	CommandRun: func() subcommands.CommandRun {
		r := &runCmd{}
		r.Flags.StringVar(&r.scenario, "scenario", "", "yaml file with a list of scenarios")
		r.Flags.IntVar(&r.parallel, "parallel", 1, "how many scenarios to run at once (0 = all)")
		r.Flags.StringVar(&r.cfg.Name, "name", "adhoc", "scenario name for the report")
		r.Flags.IntVar(&r.cfg.ArenaSize, "arena", 0, "arena size in bytes")
		r.Flags.IntVar(&r.cfg.PageSize, "page", 0, "page size in bytes")
		r.Flags.IntVar(&r.cfg.Iterations, "iterations", 0, "iterations per scenario")
		r.Flags.IntVar(&r.cfg.Requests, "requests", 0, "allocation requests per iteration")
		r.Flags.Float64Var(&r.cfg.FreeProbability, "pfree", 0, "probability to free a live block after each request")
		r.Flags.IntVar(&r.cfg.MinSize, "min", 0, "minimum block size")
		r.Flags.IntVar(&r.cfg.MaxSize, "max", 0, "maximum block size")
		r.Flags.StringVar(&r.fill, "fill", "random", "fill strategy: none, zeroes, ones or random")
		r.Flags.Int64Var(&r.cfg.Seed, "seed", 0, "rng seed")
		return r
	},
}

type runCmd struct {
	subcommands.CommandRunBase

	scenario string
	parallel int
	fill     string
	cfg      stress.Config
}

func (r *runCmd) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, r, env)

	var cfgs []stress.Config
	if r.scenario != "" {
		suite, err := stress.LoadSuite(r.scenario)
		if err != nil {
			logging.Errorf(ctx, "%s", err)
			return 1
		}
		cfgs = suite.Scenarios
	} else {
		fill, err := stress.ParseFill(r.fill)
		if err != nil {
			logging.Errorf(ctx, "%s", err)
			return 1
		}
		r.cfg.Fill = fill
		cfgs = []stress.Config{r.cfg}
	}

	reports, err := stress.RunAll(ctx, cfgs, r.parallel)
	for _, rep := range reports {
		if rep != nil {
			printReport(rep)
		}
	}
	if err != nil {
		logging.Errorf(ctx, "%s", err)
		return 1
	}
	for _, rep := range reports {
		if rep.Corrupted > 0 {
			logging.Errorf(ctx, "scenario %q saw %d corrupted blocks", rep.Name, rep.Corrupted)
			return 1
		}
	}
	return 0
}

func printReport(rep *stress.Report) {
	fmt.Printf("%s: %d allocs, %d frees, %d corrupted in %s\n",
		rep.Name, rep.Allocs, rep.Frees, rep.Corrupted, rep.Duration.Round(1e6))
	fmt.Printf("  peak live %s, %d pages, %s free in %d blocks (largest %s), static %s\n",
		humanize.IBytes(uint64(rep.PeakLive)),
		rep.Stats.Pages,
		humanize.IBytes(uint64(rep.Stats.FreeBytes)),
		rep.Stats.FreeBlocks,
		humanize.IBytes(uint64(rep.Stats.LargestFree)),
		humanize.IBytes(uint64(rep.Stats.StaticBytes)))
}

////////////////////////////////////////////////////////////////////////////////
// buckets

var cmdBuckets = &subcommands.Command{
	UsageLine: "buckets",
	ShortDesc: "prints the size class table of the free list",
	LongDesc:  "Prints which block sizes land in which bucket of the segregated free list.",
	CommandRun: func() subcommands.CommandRun {
		return &bucketsCmd{}
	},
}

type bucketsCmd struct {
	subcommands.CommandRunBase
}

func (c *bucketsCmd) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	low := 1
	for size := 2; ; size++ {
		if bucket.Lookup(size) != bucket.Lookup(low) {
			fmt.Printf("bucket %2d: %5d .. %d bytes\n", bucket.Lookup(low), low, size-1)
			low = size
		}
		if bucket.Lookup(size) == bucket.Count-1 {
			fmt.Printf("bucket %2d: %5d bytes and up\n", bucket.Count-1, size)
			break
		}
	}
	return 0
}
