// litmus.go implements the 'lfas litmus' command.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/kolkov/lfas/internal/litmus"
)

// litmusConfig is the parsed form of 'lfas litmus' arguments.
type litmusConfig struct {
	sweepConfig
	files []string
}

// litmusCommand implements the 'lfas litmus' command.
//
// Every file is loaded, checked for a compatible require_version and
// swept over the configured seeds. A test without expect_race passes
// unless a seed failed.
//
// Example:
//
//	lfas litmus mp.lua
//	lfas litmus -seeds 1000 -one-in 2 tests/*.lua
func litmusCommand(args []string) int {
	config, err := parseLitmusArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return runLitmus(ctx, config, os.Stdout, os.Stderr)
}

// parseLitmusArgs parses flags followed by litmus files.
func parseLitmusArgs(args []string) (*litmusConfig, error) {
	config := &litmusConfig{}
	fs := flag.NewFlagSet("litmus", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	config.register(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	if fs.NArg() == 0 {
		return nil, fmt.Errorf("no litmus files specified")
	}
	config.files = fs.Args()
	return config, nil
}

// runLitmus loads and sweeps config.files. A file that fails to load
// counts as a mismatch and the remaining files still run.
func runLitmus(ctx context.Context, config *litmusConfig, stdout, stderr io.Writer) int {
	code := exitOK
	for _, path := range config.files {
		test, err := litmus.Load(path)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			code = exitMismatch
			continue
		}

		opts := config.options(stderr)
		opts.Progress = progress(stderr, test.Name)
		sum, err := litmus.Run(ctx, test, opts)
		if sum == nil {
			fmt.Fprintf(stderr, "Error: %s: %v\n", path, err)
			return exitMismatch
		}

		expectRace := test.ExpectRace != nil && *test.ExpectRace
		o := outcome{name: test.Name, summary: sum, err: err}
		o.seed, o.hasSeed = interesting(sum, expectRace)
		printOutcome(stdout, o, func(seed uint64) string {
			return config.reproduce("litmus", path, seed)
		})
		if err != nil {
			code = exitMismatch
		}
	}
	return code
}
