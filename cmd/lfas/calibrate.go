// calibrate.go implements the 'lfas calibrate' command.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/kolkov/lfas/cppvm"
	"github.com/kolkov/lfas/internal/sweep"
)

type calibrateConfig struct {
	trials int
	oneIn  int
	seed   uint64
}

// calibrateCommand implements the 'lfas calibrate' command.
//
// It measures how often a weak compare-exchange whose comparison succeeds
// fails anyway, and checks the rate against the configured one.
//
// Example:
//
//	lfas calibrate
//	lfas calibrate -one-in 4 -n 100000
func calibrateCommand(args []string) int {
	config, err := parseCalibrateArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}

	c, err := sweep.Calibrate(config.trials, config.oneIn, config.seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	fmt.Println(c)
	if !c.Ok() {
		fmt.Fprintf(os.Stderr, "configured rate %.4f is outside the measured interval\n", c.Want)
		return exitMismatch
	}
	return exitOK
}

func parseCalibrateArgs(args []string) (*calibrateConfig, error) {
	config := &calibrateConfig{}
	fs := flag.NewFlagSet("calibrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&config.trials, "n", 100000, "number of attempts")
	fs.IntVar(&config.oneIn, "one-in", cppvm.DefaultSpuriousFailureOneIn, "spurious weak CAS failure rate")
	fs.Uint64Var(&config.seed, "seed", 0, "seed")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return config, nil
}
