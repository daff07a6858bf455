// run.go implements the 'lfas run' command.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/kolkov/lfas/internal/suites"
	"github.com/kolkov/lfas/internal/sweep"
)

// runConfig is the parsed form of 'lfas run' arguments.
type runConfig struct {
	sweepConfig
	suites []suites.Suite
}

// runCommand implements the 'lfas run' command.
//
// Each named suite, or every suite when none is named, is swept over the
// configured seeds. A suite passes when it raced on every seed if it is
// racy by construction, and on none otherwise.
//
// Example:
//
//	lfas run
//	lfas run -seeds 1000 spinlock barrier
//	lfas run -seed 17 -seeds 1 -v mp
func runCommand(args []string) int {
	config, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return runSuites(ctx, config, os.Stdout, os.Stderr)
}

// parseRunArgs parses flags followed by suite names.
func parseRunArgs(args []string) (*runConfig, error) {
	config := &runConfig{}
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	config.register(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	if fs.NArg() == 0 {
		config.suites = suites.All()
		return config, nil
	}
	for _, name := range fs.Args() {
		s, ok := suites.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown suite %q (see 'lfas list')", name)
		}
		config.suites = append(config.suites, s)
	}
	return config, nil
}

// runSuites sweeps config.suites and prints one summary per suite.
func runSuites(ctx context.Context, config *runConfig, stdout, stderr io.Writer) int {
	code := exitOK
	for _, s := range config.suites {
		opts := config.options(stderr)
		opts.Progress = progress(stderr, s.Name)

		sum, err := sweep.Run(ctx, opts, s.Build)
		if err != nil {
			fmt.Fprintf(stderr, "Error: suite %s: %v\n", s.Name, err)
			return exitMismatch
		}

		o := outcome{name: s.Name, summary: sum, err: suiteVerdict(s, sum)}
		o.seed, o.hasSeed = interesting(sum, s.ExpectRace)
		printOutcome(stdout, o, func(seed uint64) string {
			return config.reproduce("run", s.Name, seed)
		})
		if o.err != nil {
			code = exitMismatch
		}
	}
	return code
}

// suiteVerdict compares a sweep with the suite's expectation.
func suiteVerdict(s suites.Suite, sum *sweep.Summary) error {
	if r, ok := sum.FirstFailed(); ok {
		return fmt.Errorf("seed %d: %w", r.Seed, r.Err)
	}
	if s.ExpectRace {
		if sum.Racy < sum.Runs {
			return fmt.Errorf("expected a race, %d of %d runs were race-free", sum.Runs-sum.Racy, sum.Runs)
		}
		return nil
	}
	if r, ok := sum.FirstRacy(); ok {
		return fmt.Errorf("expected no race, seed %d: %s", r.Seed, r.Races[0].Summary())
	}
	if sum.Leaky > 0 {
		return fmt.Errorf("%d runs left writes unreleased", sum.Leaky)
	}
	return nil
}

// listCommand implements the 'lfas list' command.
//
//nolint:errcheck // Terminal output is best effort.
func listCommand(w io.Writer) {
	for _, s := range suites.All() {
		kind := "race-free"
		if s.ExpectRace {
			kind = "racy"
		}
		fmt.Fprintf(w, "%-18s %-9s %s\n", s.Name, kind, s.Description)
	}
}
