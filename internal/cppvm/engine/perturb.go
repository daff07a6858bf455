package engine

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/kolkov/lfas/internal/cppvm/thread"
)

// Default perturbation parameters.
const (
	DefaultYieldProbability = 0.3
	DefaultPauseProbability = 0.02
	DefaultMaxPause         = 50 * time.Microsecond
)

// Perturbation configures the scheduling noise injected around every
// simulated operation.
//
// Scripts run as ordinary goroutines, so the host scheduler decides the
// interleaving. Injecting random yields and short pauses widens the set of
// interleavings explored across repeated runs with different seeds.
//
// Usage:
//
//	// Defaults: yield 30% of the time, pause up to 50µs 2% of the time.
//	p := NewPerturber(Perturbation{})
//
//	// No pauses, yield on every operation.
//	p := NewPerturber(Perturbation{YieldProbability: 1, PauseProbability: -1})
//
//	// Deterministic-ish single goroutine testing: no noise at all.
//	p := NewPerturber(Perturbation{Disabled: true})
type Perturbation struct {
	// Disabled turns all perturbation off.
	Disabled bool

	// YieldProbability is the chance of a runtime.Gosched at each point.
	// Zero means DefaultYieldProbability; negative means never.
	YieldProbability float64

	// PauseProbability is the chance of sleeping at each point.
	// Zero means DefaultPauseProbability; negative means never.
	PauseProbability float64

	// MaxPause bounds the uniform pause duration.
	// Zero means DefaultMaxPause.
	MaxPause time.Duration
}

// normalize fills zero values with defaults.
func (p Perturbation) normalize() Perturbation {
	if p.YieldProbability == 0 {
		p.YieldProbability = DefaultYieldProbability
	}
	if p.PauseProbability == 0 {
		p.PauseProbability = DefaultPauseProbability
	}
	if p.MaxPause <= 0 {
		p.MaxPause = DefaultMaxPause
	}
	return p
}

// PerturbStats counts injected scheduling noise.
type PerturbStats struct {
	// Points counts perturbation points reached.
	Points uint64

	// Yields counts runtime.Gosched calls injected.
	Yields uint64

	// Pauses counts sleeps injected.
	Pauses uint64
}

// Perturber injects scheduling noise using each thread's private random
// generator, so no lock is taken on the hot path.
//
// Thread Safety: Point is safe for concurrent calls with distinct thread
// contexts. Statistics are updated atomically.
type Perturber struct {
	config Perturbation

	points atomic.Uint64
	yields atomic.Uint64
	pauses atomic.Uint64
}

// NewPerturber creates a Perturber with the given configuration.
func NewPerturber(config Perturbation) *Perturber {
	return &Perturber{config: config.normalize()}
}

// Config returns the normalized configuration.
func (p *Perturber) Config() Perturbation {
	return p.config
}

// Point is a perturbation point: it may yield the processor and may pause
// the calling goroutine for a random duration.
func (p *Perturber) Point(ctx *thread.Context) {
	if p.config.Disabled {
		return
	}
	p.points.Add(1)

	if p.config.YieldProbability > 0 && ctx.Float64() < p.config.YieldProbability {
		p.yields.Add(1)
		runtime.Gosched()
	}
	if p.config.PauseProbability > 0 && ctx.Float64() < p.config.PauseProbability {
		p.pauses.Add(1)
		time.Sleep(time.Duration(ctx.Float64() * float64(p.config.MaxPause)))
	}
}

// Stats returns a snapshot of the counters.
func (p *Perturber) Stats() PerturbStats {
	return PerturbStats{
		Points: p.points.Load(),
		Yields: p.yields.Load(),
		Pauses: p.pauses.Load(),
	}
}
