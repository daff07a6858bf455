package cppvm

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kolkov/lfas/internal/cppvm/engine"
)

// Perturbation configures the scheduling noise injected around every
// simulated operation. Zero values select the defaults: yield with
// probability 0.3, pause with probability 0.02 for up to 50µs. Negative
// probabilities disable the corresponding noise.
type Perturbation = engine.Perturbation

// PerturbStats counts the scheduling noise injected by a VM.
type PerturbStats = engine.PerturbStats

// Default configuration values.
const (
	DefaultSpuriousFailureOneIn = engine.DefaultSpuriousFailureOneIn
	DefaultYieldProbability     = engine.DefaultYieldProbability
	DefaultPauseProbability     = engine.DefaultPauseProbability
	DefaultMaxPause             = engine.DefaultMaxPause
)

// Config configures a virtual machine.
//
// The zero Config is valid: seed 0, spurious weak CAS failures one in
// eight, default perturbation, race reports on os.Stderr and warnings on a
// text logger to os.Stderr.
type Config struct {
	// Seed selects the random streams of every script. Runs with equal
	// seeds draw equal random numbers; the host scheduler still decides
	// the final interleaving.
	Seed uint64

	// SpuriousFailureOneIn is the rate of spurious weak compare-exchange
	// failures. Zero means DefaultSpuriousFailureOneIn.
	SpuriousFailureOneIn int

	// DisableSpuriousFailures makes weak compare-exchange behave like the
	// strong variant.
	DisableSpuriousFailures bool

	// Perturbation configures scheduling noise.
	Perturbation Perturbation

	// DisableStacks skips stack capture on storage accesses. Reports then
	// carry no stacks.
	DisableStacks bool

	// Output receives race reports. Nil means os.Stderr.
	Output io.Writer

	// Logger receives structured diagnostics. Nil means a text logger on
	// os.Stderr at warning level.
	Logger *slog.Logger
}

// normalize validates c and fills defaults.
func (c Config) normalize() (Config, error) {
	if c.SpuriousFailureOneIn < 0 {
		return c, fmt.Errorf("cppvm: SpuriousFailureOneIn %d is negative", c.SpuriousFailureOneIn)
	}
	if c.SpuriousFailureOneIn == 0 {
		c.SpuriousFailureOneIn = DefaultSpuriousFailureOneIn
	}
	if p := c.Perturbation.YieldProbability; p > 1 {
		return c, fmt.Errorf("cppvm: YieldProbability %v is above 1", p)
	}
	if p := c.Perturbation.PauseProbability; p > 1 {
		return c, fmt.Errorf("cppvm: PauseProbability %v is above 1", p)
	}
	if c.Perturbation.MaxPause < 0 {
		return c, fmt.Errorf("cppvm: MaxPause %v is negative", c.Perturbation.MaxPause)
	}
	if c.Output == nil {
		c.Output = os.Stderr
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	return c, nil
}
