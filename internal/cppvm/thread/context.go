// Package thread holds the per-thread state of the virtual machine.
//
// Every script runs as one logical thread with its own Context. Contexts
// are passed explicitly to every operation instead of being looked up from
// the host thread identity, and every context owns a private random
// generator derived from the run seed, so a run is reproducible from one
// seed value without a shared generator lock.
//
// A Context is owned by the goroutine executing the script and must not be
// used concurrently.
package thread

import (
	"math/rand/v2"
	"slices"

	"github.com/kolkov/lfas/internal/cppvm/memrange"
	"github.com/kolkov/lfas/internal/cppvm/registry"
	"github.com/kolkov/lfas/internal/cppvm/relclock"
	"github.com/kolkov/lfas/internal/cppvm/version"
)

// Context is the state of one logical thread.
//
// Layout:
//   - ID: dense thread identifier, 0 is the harness (main) thread
//   - Acquired: releases of other threads this thread synchronized with
//   - Releases: number of release fences this thread has executed
//   - touched: storage blocks written since the last release
type Context struct {
	// ID identifies the thread in reports and trackers.
	ID version.ThreadID

	// Name is the script name, "main" for the harness.
	Name string

	// Acquired is joined with the published release clock on every
	// acquire fence.
	Acquired *relclock.Clock

	// Releases counts release fences executed by this thread.
	Releases uint64

	rng     *rand.Rand
	touched map[registry.Handle]struct{}
}

// Alloc creates the context of a new thread whose generator is seeded
// with seed.
func Alloc(id version.ThreadID, name string, seed uint64) *Context {
	return &Context{
		ID:       id,
		Name:     name,
		Acquired: relclock.New(),
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// SeedFor derives a well-mixed per-thread seed from a run seed and a
// sequence of indices (run number, script index).
func SeedFor(seed uint64, indices ...uint64) uint64 {
	s := splitmix(seed)
	for _, i := range indices {
		s = splitmix(s ^ splitmix(i+1))
	}
	return s
}

// splitmix is the SplitMix64 finalizer.
func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// Epoch returns the release epoch stamped on this thread's reads: the
// number of releases executed so far, plus one. A later writer is ordered
// after the read once it has acquired that many releases of this thread.
func (c *Context) Epoch() uint64 {
	return c.Releases + 1
}

// Access builds the tracker access descriptor for this thread.
func (c *Context) Access(stack uint64) memrange.Access {
	return memrange.Access{
		Thread:   c.ID,
		Epoch:    c.Epoch(),
		Acquired: c.Acquired,
		Stack:    stack,
	}
}

// Touch records that the thread wrote to storage h since its last release.
func (c *Context) Touch(h registry.Handle) {
	if c.touched == nil {
		c.touched = make(map[registry.Handle]struct{})
	}
	c.touched[h] = struct{}{}
}

// TakeTouched returns the storages written since the last release, in
// slot order, and resets the set.
func (c *Context) TakeTouched() []registry.Handle {
	if len(c.touched) == 0 {
		return nil
	}
	out := make([]registry.Handle, 0, len(c.touched))
	for h := range c.touched {
		out = append(out, h)
	}
	clear(c.touched)
	slices.SortFunc(out, func(a, b registry.Handle) int {
		return int(a.Index()) - int(b.Index())
	})
	return out
}

// Float64 returns a pseudo-random number in [0.0, 1.0).
func (c *Context) Float64() float64 {
	return c.rng.Float64()
}

// IntN returns a pseudo-random number in [0, n). It panics if n <= 0.
func (c *Context) IntN(n int) int {
	return c.rng.IntN(n)
}

// Uint64 returns a pseudo-random 64-bit value.
func (c *Context) Uint64() uint64 {
	return c.rng.Uint64()
}

// OneIn reports true with probability 1/n. n <= 0 never fires, n == 1
// always fires.
func (c *Context) OneIn(n int) bool {
	if n <= 0 {
		return false
	}
	return c.rng.IntN(n) == 0
}
