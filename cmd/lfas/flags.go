// flags.go holds the flags shared by the sweeping commands.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/kballard/go-shellquote"
	"golang.org/x/term"

	"github.com/kolkov/lfas/cppvm"
	"github.com/kolkov/lfas/internal/sweep"
)

// sweepConfig is the parsed form of the sweep flags.
type sweepConfig struct {
	seeds      int
	firstSeed  uint64
	parallel   int
	timeout    time.Duration
	oneIn      int
	noSpurious bool
	noPerturb  bool
	verbose    bool
}

// register adds the sweep flags to fs.
func (c *sweepConfig) register(fs *flag.FlagSet) {
	fs.IntVar(&c.seeds, "seeds", 100, "number of seeds")
	fs.Uint64Var(&c.firstSeed, "seed", 0, "first seed")
	fs.IntVar(&c.parallel, "p", 0, "seeds run at once (0 means GOMAXPROCS)")
	fs.DurationVar(&c.timeout, "timeout", 10*time.Second, "timeout of each run")
	fs.IntVar(&c.oneIn, "one-in", cppvm.DefaultSpuriousFailureOneIn, "spurious weak CAS failure rate")
	fs.BoolVar(&c.noSpurious, "no-spurious", false, "disable spurious weak CAS failures")
	fs.BoolVar(&c.noPerturb, "no-perturb", false, "disable scheduling noise")
	fs.BoolVar(&c.verbose, "v", false, "print race reports and debug logs")
}

func (c *sweepConfig) validate() error {
	if c.seeds <= 0 {
		return fmt.Errorf("-seeds must be positive, got %d", c.seeds)
	}
	if c.parallel < 0 {
		return fmt.Errorf("-p must not be negative, got %d", c.parallel)
	}
	if c.timeout <= 0 {
		return fmt.Errorf("-timeout must be positive, got %v", c.timeout)
	}
	if c.oneIn <= 0 {
		return fmt.Errorf("-one-in must be positive, got %d", c.oneIn)
	}
	return nil
}

// options converts c to sweep options. Race reports go to stderr only in
// verbose mode.
func (c *sweepConfig) options(stderr io.Writer) sweep.Options {
	level := slog.LevelWarn
	output := io.Discard
	if c.verbose {
		level = slog.LevelDebug
		output = stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	return sweep.Options{
		Seeds:     c.seeds,
		FirstSeed: c.firstSeed,
		Parallel:  c.parallel,
		Timeout:   c.timeout,
		Config: cppvm.Config{
			SpuriousFailureOneIn:    c.oneIn,
			DisableSpuriousFailures: c.noSpurious,
			Perturbation:            cppvm.Perturbation{Disabled: c.noPerturb},
			Output:                  output,
			Logger:                  logger,
		},
		Logger: logger,
	}
}

// reproduce returns a shell command line that reruns seed of target
// verbosely with the same model settings.
func (c *sweepConfig) reproduce(command, target string, seed uint64) string {
	args := []string{"lfas", command, "-seed", strconv.FormatUint(seed, 10), "-seeds", "1"}
	if c.oneIn != cppvm.DefaultSpuriousFailureOneIn {
		args = append(args, "-one-in", strconv.Itoa(c.oneIn))
	}
	if c.noSpurious {
		args = append(args, "-no-spurious")
	}
	if c.noPerturb {
		args = append(args, "-no-perturb")
	}
	args = append(args, "-v", target)
	return shellquote.Join(args...)
}

// progress returns a sweep progress callback that redraws one status line
// on w, or nil when w is not a terminal.
func progress(w io.Writer, label string) func(done, total int) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return func(done, total int) {
		fmt.Fprintf(f, "\r%s: %d/%d", label, done, total)
		if done == total {
			fmt.Fprint(f, "\r\033[K")
		}
	}
}
