// Package main implements the lfas CLI tool.
//
// lfas runs lock-free scenarios on the C++ memory model virtual machine,
// many seeds at a time, and reports which seeds raced. It works by:
//
//  1. Building the scenario on a fresh virtual machine per seed
//  2. Running its scripts as parallel logical threads
//  3. Collecting races, failed checks and leaked writes
//  4. Printing a summary and a command line that reproduces one seed
//
// Usage:
//
//	lfas run mp spinlock           # Sweep built-in suites
//	lfas litmus test.lua           # Sweep Lua litmus tests
//	lfas calibrate -one-in 8       # Measure spurious CAS failures
//	lfas list                      # List built-in suites
//
// The exit status is 0 when every scenario behaved as expected, 1 when
// one did not and 2 on usage errors.
package main

import (
	"fmt"
	"os"

	"github.com/kolkov/lfas/cppvm"
)

// Exit codes.
const (
	exitOK       = 0
	exitMismatch = 1
	exitUsage    = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitUsage)
	}

	command := os.Args[1]

	switch command {
	case "run":
		os.Exit(runCommand(os.Args[2:]))
	case "litmus":
		os.Exit(litmusCommand(os.Args[2:]))
	case "calibrate":
		os.Exit(calibrateCommand(os.Args[2:]))
	case "list":
		listCommand(os.Stdout)
	case "version", "--version", "-v":
		info := cppvm.GetInfo()
		fmt.Printf("lfas version %s (%s, %s)\n", info.Version, info.Model, info.Algorithm)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(exitUsage)
	}
}

func printUsage() {
	fmt.Print(`lfas - Lock-Free Algorithm Simulator

USAGE:
    lfas <command> [arguments]

COMMANDS:
    run        Sweep built-in suites over many seeds
    litmus     Sweep Lua litmus tests over many seeds
    calibrate  Measure the spurious weak compare-exchange failure rate
    list       List built-in suites
    version    Show version information
    help       Show this help message

SWEEP FLAGS (run, litmus):
    -seeds N       Number of seeds (default 100)
    -seed S        First seed (default 0)
    -p N           Seeds run at once (default GOMAXPROCS)
    -timeout D     Timeout of each run (default 10s)
    -one-in K      Spurious weak CAS failure rate (default 8)
    -no-spurious   Disable spurious weak CAS failures
    -no-perturb    Disable scheduling noise
    -v             Print race reports and debug logs

EXAMPLES:
    # Sweep every built-in suite
    lfas run

    # Reproduce one seed with full race reports
    lfas run -seed 17 -seeds 1 -v mp

    # Sweep a litmus test on 1000 seeds
    lfas litmus -seeds 1000 testdata/mp.lua

    # Check that one weak CAS in four fails spuriously
    lfas calibrate -one-in 4 -n 100000
`)
}
