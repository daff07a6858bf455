// report.go prints sweep summaries.
package main

import (
	"fmt"
	"io"
	"time"

	"github.com/kolkov/lfas/internal/sweep"
)

// maxKeys bounds the race keys listed per summary.
const maxKeys = 5

// outcome is the verdict of one swept scenario.
type outcome struct {
	name    string
	summary *sweep.Summary

	// err is nil when the scenario behaved as expected.
	err error

	// seed is the seed worth reproducing, if any.
	seed    uint64
	hasSeed bool
}

// interesting picks the seed a reader should rerun: the first failed seed,
// then the first racy one, then, for scenarios that must race, the first
// race-free one.
func interesting(s *sweep.Summary, expectRace bool) (uint64, bool) {
	if r, ok := s.FirstFailed(); ok {
		return r.Seed, true
	}
	if !expectRace {
		if r, ok := s.FirstRacy(); ok {
			return r.Seed, true
		}
		return 0, false
	}
	for _, r := range s.Results {
		if !r.Racy() {
			return r.Seed, true
		}
	}
	return 0, false
}

// printOutcome writes one summary block. reproduce formats the command
// line for a seed.
//
//nolint:errcheck // Terminal output is best effort.
func printOutcome(w io.Writer, o outcome, reproduce func(seed uint64) string) {
	s := o.summary
	status := "ok"
	if o.err != nil {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%-4s %-18s %d runs, %d racy, %d failed, %d leaky, %v ± %v per run\n",
		status, o.name, s.Runs, s.Racy, s.Failed, s.Leaky, round(s.MeanDuration), round(s.StdDevDuration))

	keys := s.Keys()
	for i, k := range keys {
		if i == maxKeys {
			fmt.Fprintf(w, "     ... %d more race keys\n", len(keys)-maxKeys)
			break
		}
		fmt.Fprintf(w, "     %4d × %s\n", s.RaceKeys[k], k)
	}
	if o.err != nil {
		fmt.Fprintf(w, "     %v\n", o.err)
	}
	if o.hasSeed && o.err != nil {
		fmt.Fprintf(w, "     reproduce: %s\n", reproduce(o.seed))
	}
}

func round(d time.Duration) time.Duration {
	switch {
	case d >= time.Second:
		return d.Round(10 * time.Millisecond)
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond)
	default:
		return d.Round(time.Microsecond)
	}
}
