package engine

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/kolkov/lfas/internal/cppvm/registry"
	"github.com/kolkov/lfas/internal/cppvm/relclock"
	"github.com/kolkov/lfas/internal/cppvm/stackdepot"
	"github.com/kolkov/lfas/internal/cppvm/thread"
	"github.com/kolkov/lfas/internal/cppvm/version"
)

// DefaultSpuriousFailureOneIn is the default rate of spurious weak
// compare-exchange failures: one in eight calls.
const DefaultSpuriousFailureOneIn = 8

// Fence is a memory fence kind.
type Fence int

const (
	// FenceRelaxed orders nothing; it is a scheduling point only.
	FenceRelaxed Fence = iota
	// FenceAcquire makes released writes visible to the caller.
	FenceAcquire
	// FenceRelease publishes the caller's writes.
	FenceRelease
	// FenceAcquireRelease is an acquire followed by a release.
	FenceAcquireRelease
)

// String returns the fence name.
func (f Fence) String() string {
	switch f {
	case FenceRelaxed:
		return "relaxed"
	case FenceAcquire:
		return "acquire"
	case FenceRelease:
		return "release"
	case FenceAcquireRelease:
		return "acq_rel"
	default:
		return fmt.Sprintf("fence(%d)", int(f))
	}
}

// Options configures an Engine.
type Options struct {
	// SpuriousFailureOneIn is the weak CAS spurious failure rate.
	// Zero means DefaultSpuriousFailureOneIn.
	SpuriousFailureOneIn int

	// DisableSpuriousFailures turns spurious weak CAS failures off.
	DisableSpuriousFailures bool

	// Perturbation configures scheduling noise.
	Perturbation Perturbation

	// DisableStacks skips stack capture on accesses.
	DisableStacks bool

	// Output receives race reports. Nil means os.Stderr; use io.Discard
	// to silence reports.
	Output io.Writer

	// Logger receives structured diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// Engine is the ordering engine of the virtual machine.
//
// It owns the atomic and storage registries, the published release clock,
// the global sequential-consistency lock and the findings log, and it
// translates fences into memory range tracker visibility updates.
//
// Lock order: seqCst, then relMu, then registry locks, then tracker locks,
// then mu. No lock is held while a report is written to Output except mu.
type Engine struct {
	// Atomics is the AtomicRegistry.
	Atomics *registry.Atomics

	// Storages is the StorageRegistry.
	Storages *registry.Storages

	// seqCst is the global sequential-consistency lock.
	seqCst sync.Mutex

	// relMu serializes fences. published[t] is the number of releases
	// thread t has executed.
	relMu     sync.Mutex
	published *relclock.Clock

	perturb       *Perturber
	spuriousOneIn int
	depot         *stackdepot.Depot
	out           io.Writer
	log           *slog.Logger

	// mu protects the fields below.
	mu       sync.Mutex
	names    map[version.ThreadID]string
	reported map[string]struct{}
	races    []*RaceReport
}

// New creates an engine with empty registries.
func New(opts Options) *Engine {
	e := &Engine{
		Atomics:       registry.New[*registry.Atomic](),
		Storages:      registry.New[*registry.Storage](),
		published:     relclock.New(),
		perturb:       NewPerturber(opts.Perturbation),
		spuriousOneIn: opts.SpuriousFailureOneIn,
		out:           opts.Output,
		log:           opts.Logger,
		names:         map[version.ThreadID]string{version.MainThread: "main"},
		reported:      make(map[string]struct{}),
	}
	if e.spuriousOneIn <= 0 {
		e.spuriousOneIn = DefaultSpuriousFailureOneIn
	}
	if opts.DisableSpuriousFailures {
		e.spuriousOneIn = 0
	}
	if e.out == nil {
		e.out = os.Stderr
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if !opts.DisableStacks {
		e.depot = stackdepot.New(
			"github.com/kolkov/lfas/internal/cppvm/",
			"github.com/kolkov/lfas/cppvm.",
		)
	}
	return e
}

// RegisterThread records ctx's name for reports.
func (e *Engine) RegisterThread(ctx *thread.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.names[ctx.ID] = ctx.Name
}

// Perturber returns the engine's perturber.
func (e *Engine) Perturber() *Perturber {
	return e.perturb
}

// SpuriousFailureOneIn returns the effective spurious failure rate, 0 when
// spurious failures are disabled.
func (e *Engine) SpuriousFailureOneIn() int {
	return e.spuriousOneIn
}

// Point is a scheduling perturbation point.
func (e *Engine) Point(ctx *thread.Context) {
	e.perturb.Point(ctx)
}

// Fence applies a fence of kind f on behalf of ctx.
func (e *Engine) Fence(ctx *thread.Context, f Fence) {
	switch f {
	case FenceAcquire:
		e.FenceAcquire(ctx)
	case FenceRelease:
		e.FenceRelease(ctx)
	case FenceAcquireRelease:
		e.FenceAcquireRelease(ctx)
	default:
		e.FenceRelaxed(ctx)
	}
}

// FenceRelaxed is a scheduling point with no ordering effect.
func (e *Engine) FenceRelaxed(ctx *thread.Context) {
	e.Point(ctx)
}

// FenceAcquire synchronizes ctx with every release executed so far: the
// published release clock is joined into ctx, and every released version of
// every live storage becomes visible to ctx.
func (e *Engine) FenceAcquire(ctx *thread.Context) {
	e.relMu.Lock()
	e.acquireLocked(ctx)
	e.relMu.Unlock()
}

// FenceRelease publishes ctx's pending writes and the reads ctx performed
// before this fence.
func (e *Engine) FenceRelease(ctx *thread.Context) {
	e.relMu.Lock()
	e.releaseLocked(ctx)
	e.relMu.Unlock()
}

// FenceAcquireRelease performs an acquire then a release atomically with
// respect to other fences.
func (e *Engine) FenceAcquireRelease(ctx *thread.Context) {
	e.relMu.Lock()
	e.acquireLocked(ctx)
	e.releaseLocked(ctx)
	e.relMu.Unlock()
}

// PublishReads publishes the reads ctx performed so far without releasing
// its pending writes. It models the end of a thread being joined: the
// joiner is ordered after every read, while writes that were never
// released remain pending and show up as leaks.
func (e *Engine) PublishReads(ctx *thread.Context) {
	e.relMu.Lock()
	ctx.Releases++
	e.published.Set(ctx.ID, ctx.Releases)
	e.relMu.Unlock()
}

func (e *Engine) acquireLocked(ctx *thread.Context) {
	ctx.Acquired.Join(e.published)
	e.Storages.Each(func(_ registry.Handle, s *registry.Storage) {
		s.Tracker.Acquire(ctx.ID)
	})
}

func (e *Engine) releaseLocked(ctx *thread.Context) {
	ctx.Releases++
	e.published.Set(ctx.ID, ctx.Releases)
	for _, h := range ctx.TakeTouched() {
		s, err := e.Storages.Get(h)
		if err != nil {
			// Destroyed since it was written.
			continue
		}
		s.Tracker.Release(ctx.ID)
	}
}

// ScopedLock holds the global sequential-consistency lock until Unlock.
// The zero ScopedLock holds nothing.
type ScopedLock struct {
	mu *sync.Mutex
}

// Unlock releases the lock, if held. It is safe to call more than once.
func (l *ScopedLock) Unlock() {
	if l == nil || l.mu == nil {
		return
	}
	mu := l.mu
	l.mu = nil
	mu.Unlock()
}

// Held reports whether the lock is still held.
func (l *ScopedLock) Held() bool {
	return l != nil && l.mu != nil
}

// GlobalLock takes the global sequential-consistency lock when seqCst is
// true, and returns a no-op lock otherwise.
func (e *Engine) GlobalLock(seqCst bool) ScopedLock {
	if !seqCst {
		return ScopedLock{}
	}
	e.seqCst.Lock()
	return ScopedLock{mu: &e.seqCst}
}

// SpuriousFailure reports whether a weak compare-exchange by ctx should
// fail even though the comparison succeeded.
func (e *Engine) SpuriousFailure(ctx *thread.Context) bool {
	return ctx.OneIn(e.spuriousOneIn)
}

// CheckAtomic returns registry.ErrNotLive unless h names a live atomic.
func (e *Engine) CheckAtomic(h registry.Handle) error {
	_, err := e.Atomics.Get(h)
	return err
}

// AtomicCreate registers an atomic and stores its handle into *h.
func (e *Engine) AtomicCreate(h *registry.Handle, name string) error {
	if err := e.Atomics.Create(h, &registry.Atomic{Name: name}); err != nil {
		return err
	}
	e.log.Debug("cppvm", "action", "AtomicCreate", "handle", *h, "name", name)
	return nil
}

// AtomicDestroy unregisters the atomic named by h.
func (e *Engine) AtomicDestroy(h registry.Handle) error {
	if _, err := e.Atomics.Destroy(h, nil); err != nil {
		return err
	}
	e.log.Debug("cppvm", "action", "AtomicDestroy", "handle", h)
	return nil
}

// StorageCreate registers a storage block of size bytes and stores its
// handle into *h.
func (e *Engine) StorageCreate(h *registry.Handle, name string, size uint64) error {
	if err := e.Storages.Create(h, registry.NewStorage(name, size)); err != nil {
		return err
	}
	e.log.Debug("cppvm", "action", "StorageCreate", "handle", *h, "name", name, "size", size)
	return nil
}

// StorageDestroy unregisters the storage named by h. It fails with
// registry.ErrUncommitted, leaving the storage live, while any write to it
// is still pending.
func (e *Engine) StorageDestroy(h registry.Handle) error {
	if _, err := e.Storages.Destroy(h, (*registry.Storage).CheckCommitted); err != nil {
		return err
	}
	e.log.Debug("cppvm", "action", "StorageDestroy", "handle", h)
	return nil
}

// Read records a read of size bytes at offset of storage h by ctx.
//
// Races are recorded in the findings log and returned; usage errors
// (dead handle, out of bounds) are returned as errors.
func (e *Engine) Read(ctx *thread.Context, h registry.Handle, offset, size uint64) ([]*RaceReport, error) {
	return e.access(ctx, h, offset, size, false)
}

// Write records a write of size bytes at offset of storage h by ctx.
func (e *Engine) Write(ctx *thread.Context, h registry.Handle, offset, size uint64) ([]*RaceReport, error) {
	return e.access(ctx, h, offset, size, true)
}

func (e *Engine) access(ctx *thread.Context, h registry.Handle, offset, size uint64, write bool) ([]*RaceReport, error) {
	s, err := e.Storages.Get(h)
	if err != nil {
		return nil, err
	}
	if offset+size < offset {
		return nil, fmt.Errorf("offset %d size %d overflows", offset, size)
	}

	// Facade frames are hidden when the trace is formatted.
	stack := e.depot.Capture(1)
	r := version.NewRange(offset, size)

	if write {
		conflicts, err := s.Tracker.Write(r, ctx.Access(stack))
		if err != nil {
			return nil, fmt.Errorf("storage %q: %w", s.Name, err)
		}
		if !r.Empty() {
			ctx.Touch(h)
		}
		return e.record(conflicts, s.Name, h, stack), nil
	}

	conflicts, err := s.Tracker.Read(r, ctx.Access(stack))
	if err != nil {
		return nil, fmt.Errorf("storage %q: %w", s.Name, err)
	}
	return e.record(conflicts, s.Name, h, stack), nil
}
