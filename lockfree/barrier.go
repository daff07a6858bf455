package lockfree

import "github.com/kolkov/lfas/cppvm"

// Barrier blocks each of n parties in Wait until all n arrived, then lets
// them all go. It can be reused for any number of phases.
//
// The last party to arrive resets the arrival count and bumps the phase;
// the others spin on the phase word.
type Barrier struct {
	n       uint32
	arrived Word
	phase   Word
}

// NewBarrier returns a barrier for n parties on two words holding 0.
func NewBarrier(n uint32, arrived, phase Word) *Barrier {
	if n == 0 {
		panic("lockfree: barrier needs at least one party")
	}
	return &Barrier{n: n, arrived: arrived, phase: phase}
}

// Wait blocks until all parties called Wait for the current phase. Writes
// made by any party before Wait are visible to every party after it.
func (b *Barrier) Wait(p Proc) {
	phase := b.phase.Load(p, cppvm.Acquire)
	if b.arrived.FetchAdd(p, 1, cppvm.AcqRel)+1 == b.n {
		b.arrived.Store(p, 0, cppvm.Relaxed)
		b.phase.Store(p, phase+1, cppvm.Release)
		return
	}
	for round := 0; b.phase.Load(p, cppvm.Acquire) == phase; round++ {
		if round < SpinBeforeLock {
			p.Pause()
		} else {
			backoff(p, round-SpinBeforeLock)
		}
	}
}
