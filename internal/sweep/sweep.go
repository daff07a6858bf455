// Package sweep runs one scenario on many seeds and aggregates the
// outcomes.
//
// Each seed gets its own virtual machine, so seeds are independent and run
// concurrently. A scenario that is racy only under some interleavings
// shows up as a fraction of racy seeds; a scenario the model flags
// directly shows up on every seed.
package sweep

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/aclements/go-moremath/stats"
	"golang.org/x/sync/errgroup"

	"github.com/kolkov/lfas/cppvm"
)

// Case is one instance of a scenario on one virtual machine.
type Case struct {
	// Scripts run in parallel.
	Scripts []*cppvm.Script

	// Check, if set, runs after the scripts joined and reports an outcome
	// the memory model forbids.
	Check func() error

	// Cleanup, if set, destroys the case's atomics and storage blocks
	// before the leak check.
	Cleanup func() error
}

// BuildFunc creates the objects and scripts of a case on vm.
type BuildFunc func(vm *cppvm.VM) (*Case, error)

// Options configures a sweep.
type Options struct {
	// Seeds is the number of seeds to run, starting at FirstSeed.
	// Zero means 100.
	Seeds     int
	FirstSeed uint64

	// Parallel bounds the number of seeds run at once. Zero means
	// GOMAXPROCS.
	Parallel int

	// Timeout bounds each run. Zero means 10s.
	Timeout time.Duration

	// Config is the template for every VM. Seed is overwritten; Output
	// defaults to io.Discard.
	Config cppvm.Config

	// Progress, if set, is called after each seed finished.
	Progress func(done, total int)

	// Logger receives per-seed diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

func (o Options) normalize() Options {
	if o.Seeds <= 0 {
		o.Seeds = 100
	}
	if o.Parallel <= 0 {
		o.Parallel = runtime.GOMAXPROCS(0)
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Config.Output == nil {
		o.Config.Output = io.Discard
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Config.Logger == nil {
		o.Config.Logger = o.Logger
	}
	return o
}

// SeedResult is the outcome of one seed.
type SeedResult struct {
	Seed     uint64
	Duration time.Duration

	// Races lists the races found in the run.
	Races []*cppvm.RaceReport

	// Err is a non-race failure: timeout, usage error, panic or a
	// failed Check.
	Err error

	// Leak is the result of CheckForUncommittedChanges after Cleanup.
	Leak error
}

// Racy reports whether the run found races.
func (r SeedResult) Racy() bool { return len(r.Races) > 0 }

// Failed reports whether the run failed for a reason other than races.
func (r SeedResult) Failed() bool { return r.Err != nil }

// Summary aggregates a sweep.
type Summary struct {
	Results []SeedResult // ordered by seed

	Runs   int
	Racy   int
	Failed int
	Leaky  int

	// RaceKeys counts each deduplication key across seeds.
	RaceKeys map[string]int

	// MeanDuration and StdDevDuration describe the per-seed run time.
	MeanDuration   time.Duration
	StdDevDuration time.Duration

	Elapsed time.Duration
}

// Clean reports whether no seed raced, failed or leaked.
func (s *Summary) Clean() bool {
	return s.Racy == 0 && s.Failed == 0 && s.Leaky == 0
}

// FirstRacy returns the first racy seed.
func (s *Summary) FirstRacy() (SeedResult, bool) {
	for _, r := range s.Results {
		if r.Racy() {
			return r, true
		}
	}
	return SeedResult{}, false
}

// FirstFailed returns the first seed that failed for a non-race reason.
func (s *Summary) FirstFailed() (SeedResult, bool) {
	for _, r := range s.Results {
		if r.Failed() {
			return r, true
		}
	}
	return SeedResult{}, false
}

// Run runs build on opts.Seeds seeds and aggregates the results. It
// returns early with ctx's error when ctx is cancelled; errors building a
// case abort the sweep.
func Run(ctx context.Context, opts Options, build BuildFunc) (*Summary, error) {
	opts = opts.normalize()
	start := time.Now()

	results := make([]SeedResult, opts.Seeds)
	var (
		mu   sync.Mutex
		done int
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallel)
	for i := range opts.Seeds {
		seed := opts.FirstSeed + uint64(i)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := RunSeed(opts.Config, seed, opts.Timeout, build)
			if err != nil {
				return fmt.Errorf("seed %d: %w", seed, err)
			}
			results[i] = r
			opts.Logger.Debug("sweep", "action", "seed", "seed", seed,
				"races", len(r.Races), "err", r.Err, "duration", r.Duration)

			if opts.Progress != nil {
				mu.Lock()
				done++
				opts.Progress(done, opts.Seeds)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := summarize(results)
	s.Elapsed = time.Since(start)
	opts.Logger.Info("sweep", "action", "done", "runs", s.Runs, "racy", s.Racy,
		"failed", s.Failed, "leaky", s.Leaky, "elapsed", s.Elapsed)
	return s, nil
}

// RunSeed runs one case on a fresh VM configured from cfg with seed. The
// returned error reports a case that could not be built; findings are in
// the SeedResult.
func RunSeed(cfg cppvm.Config, seed uint64, timeout time.Duration, build BuildFunc) (SeedResult, error) {
	cfg.Seed = seed
	vm, err := cppvm.New(cfg)
	if err != nil {
		return SeedResult{}, err
	}
	c, err := build(vm)
	if err != nil {
		return SeedResult{}, err
	}

	r := SeedResult{Seed: seed}
	start := time.Now()
	err = vm.RunParallel(c.Scripts, timeout)
	r.Duration = time.Since(start)
	r.Races = vm.Races()

	var (
		te       *cppvm.TimeoutError
		nonRaces []error
	)
	for _, e := range flatten(err) {
		var re *cppvm.RaceError
		if !errors.As(e, &re) {
			nonRaces = append(nonRaces, e)
		}
	}
	r.Err = errors.Join(nonRaces...)

	// Scripts of a timed-out run are still running; leave the VM alone.
	if errors.As(err, &te) {
		return r, nil
	}
	if c.Check != nil {
		if err := c.Check(); err != nil {
			r.Err = errors.Join(r.Err, err)
		}
	}
	if c.Cleanup != nil {
		if err := c.Cleanup(); err != nil {
			r.Err = errors.Join(r.Err, err)
		}
	}
	r.Leak = vm.CheckForUncommittedChanges()
	if err := vm.Close(); err != nil {
		r.Err = errors.Join(r.Err, err)
	}
	return r, nil
}

// flatten splits an errors.Join result into its parts.
func flatten(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func summarize(results []SeedResult) *Summary {
	s := &Summary{
		Results:  results,
		Runs:     len(results),
		RaceKeys: make(map[string]int),
	}
	durations := make([]float64, 0, len(results))
	for _, r := range results {
		if r.Racy() {
			s.Racy++
		}
		if r.Failed() {
			s.Failed++
		}
		if r.Leak != nil {
			s.Leaky++
		}
		for _, race := range r.Races {
			s.RaceKeys[race.DeduplicationKey]++
		}
		durations = append(durations, float64(r.Duration))
	}
	if len(durations) > 0 {
		sample := stats.Sample{Xs: durations}
		s.MeanDuration = time.Duration(sample.Mean())
		if len(durations) > 1 {
			s.StdDevDuration = time.Duration(sample.StdDev())
		}
	}
	return s
}

// Keys returns the race deduplication keys seen, most frequent first.
func (s *Summary) Keys() []string {
	keys := make([]string, 0, len(s.RaceKeys))
	for k := range s.RaceKeys {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if d := s.RaceKeys[b] - s.RaceKeys[a]; d != 0 {
			return d
		}
		return cmp.Compare(a, b)
	})
	return keys
}
