package cppvm

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kolkov/lfas/internal/cppvm/engine"
	"github.com/kolkov/lfas/internal/cppvm/registry"
	"github.com/kolkov/lfas/internal/cppvm/thread"
	"github.com/kolkov/lfas/internal/cppvm/version"
)

// ThreadID identifies a logical thread. The harness is MainThread; scripts
// get fresh IDs on every run.
type ThreadID = version.ThreadID

// MainThread is the ID of the harness thread.
const MainThread = version.MainThread

// AtomicHandle identifies a simulated atomic variable. The zero handle is
// "never created".
type AtomicHandle struct {
	h registry.Handle
}

// IsZero reports whether the handle was never created.
func (h AtomicHandle) IsZero() bool { return h.h.IsZero() }

func (h AtomicHandle) String() string { return "atomic" + h.h.String() }

// StorageHandle identifies a simulated storage block. The zero handle is
// "never created".
type StorageHandle struct {
	h registry.Handle
}

// IsZero reports whether the handle was never created.
func (h StorageHandle) IsZero() bool { return h.h.IsZero() }

func (h StorageHandle) String() string { return "storage" + h.h.String() }

// Script is one unit of work run as a logical thread by RunParallel.
type Script struct {
	vm   *VM
	name string
	body func(*Thread)
	used bool
}

// Name returns the script name.
func (s *Script) Name() string {
	return s.name
}

// VM is a C++ memory model virtual machine.
//
// A VM owns the atomic and storage registries, the ordering engine and the
// log of races found. It is an explicit context: create one per test with
// New, hand scripts their *Thread, and Close it when done. Independent VMs
// share no state.
//
// The harness itself is the main thread (Main). Before RunParallel starts
// the scripts it releases everything main wrote, and every script acquires
// exactly that release before any script runs, so scripts are never
// ordered with each other by their start. After all scripts joined, main
// acquires again and is ordered after every read the scripts performed. Writes a script never released
// stay pending and are reported by CheckForUncommittedChanges.
type VM struct {
	cfg  Config
	eng  *engine.Engine
	log  *slog.Logger
	main *Thread

	mu        sync.Mutex
	closed    bool
	running   bool
	runs      uint64
	nextID    version.ThreadID
	scriptSeq int

	// abandoned counts scripts of timed-out runs that are still running.
	abandoned atomic.Int64
}

// New creates a virtual machine.
func New(cfg Config) (*VM, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	vm := &VM{
		cfg: cfg,
		eng: engine.New(engine.Options{
			SpuriousFailureOneIn:    cfg.SpuriousFailureOneIn,
			DisableSpuriousFailures: cfg.DisableSpuriousFailures,
			Perturbation:            cfg.Perturbation,
			DisableStacks:           cfg.DisableStacks,
			Output:                  cfg.Output,
			Logger:                  cfg.Logger,
		}),
		log:    cfg.Logger,
		nextID: version.MainThread + 1,
	}
	vm.main = &Thread{vm: vm, ctx: thread.Alloc(version.MainThread, "main", thread.SeedFor(cfg.Seed))}
	vm.eng.RegisterThread(vm.main.ctx)

	vm.log.Debug("cppvm", "action", "New", "seed", cfg.Seed, "spuriousOneIn", vm.eng.SpuriousFailureOneIn())
	return vm, nil
}

// Close shuts the virtual machine down. It fails with ErrRunning while
// scripts of a run, including abandoned ones, are still executing. Close
// does not check for leaks; call CheckForUncommittedChanges first.
func (vm *VM) Close() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.closed {
		return &UsageError{Op: "Close", Err: ErrClosed}
	}
	if vm.running || vm.abandoned.Load() > 0 {
		return &UsageError{Op: "Close", Err: ErrRunning}
	}
	vm.closed = true
	vm.log.Debug("cppvm", "action", "Close", "races", vm.eng.RacesDetected())
	return nil
}

// Config returns the normalized configuration.
func (vm *VM) Config() Config {
	return vm.cfg
}

// Main returns the harness thread. It must only be used by the goroutine
// that drives the VM, and not while RunParallel is running.
func (vm *VM) Main() *Thread {
	return vm.main
}

// CreateScript wraps body as a script without starting it. An empty name
// becomes "script-N". A nil body does nothing.
func (vm *VM) CreateScript(name string, body func(*Thread)) *Script {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	vm.scriptSeq++
	if name == "" {
		name = fmt.Sprintf("script-%d", vm.scriptSeq)
	}
	if body == nil {
		body = func(*Thread) {}
	}
	return &Script{vm: vm, name: name, body: body}
}

type scriptResult struct {
	index int
	err   error
}

// RunParallel runs scripts concurrently, one goroutine per script, and
// joins them.
//
// A timeout <= 0 waits forever. A script that fails with a usage error or
// a panic aborts the run: the other scripts end at their next VM operation
// instead of running into the timeout. Returns nil when every script
// finished without findings. Otherwise the result combines, with errors.Join:
//   - *TimeoutError if scripts were still running at the deadline
//   - the first *UsageError raised by a script
//   - *PanicError for scripts that panicked otherwise
//   - *RaceError with the races found during the run
//
// A script can be run only once.
func (vm *VM) RunParallel(scripts []*Script, timeout time.Duration) error {
	threads, run, err := vm.begin(scripts)
	if err != nil {
		return err
	}
	defer vm.end()

	racesBefore := vm.eng.RacesDetected()
	vm.log.Debug("cppvm", "action", "RunParallel", "run", run.seq, "scripts", len(scripts), "timeout", timeout)

	// Thread start synchronizes with everything main did before, and with
	// nothing the other scripts will do.
	vm.eng.FenceRelease(vm.main.ctx)
	for _, t := range threads {
		vm.eng.FenceAcquire(t.ctx)
	}

	results := make(chan scriptResult, len(scripts))
	for i, s := range scripts {
		go vm.runScript(i, s, threads[i], results)
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	var (
		errs     []error
		usage    error
		finished = make([]bool, len(scripts))
		pending  = len(scripts)
	)
wait:
	for pending > 0 {
		select {
		case r := <-results:
			finished[r.index] = true
			pending--
			var ue *UsageError
			switch {
			case r.err == nil, errors.Is(r.err, ErrAborted):
			case errors.As(r.err, &ue):
				if usage == nil {
					usage = r.err
				}
			default:
				errs = append(errs, r.err)
			}

		case <-timer:
			var outstanding []string
			for i, done := range finished {
				if !done {
					outstanding = append(outstanding, scripts[i].name)
				}
			}
			run.aborted.Store(true)
			vm.abandon(results, pending)
			vm.log.Warn("cppvm", "action", "RunParallel", "run", run.seq, "timeout", timeout, "outstanding", outstanding)
			errs = append([]error{&TimeoutError{Timeout: timeout, Outstanding: outstanding}}, errs...)
			break wait
		}
	}

	if pending == 0 {
		// Join synchronizes main with every script.
		vm.eng.FenceAcquire(vm.main.ctx)
	}

	if usage != nil {
		errs = append(errs, usage)
	}
	if races := vm.eng.Races()[racesBefore:]; len(races) > 0 {
		errs = append(errs, &RaceError{Races: races})
	}

	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}

// runState is shared by the threads of one RunParallel call.
type runState struct {
	seq uint64

	// aborted is set once a script failed or the run timed out. Scripts
	// still running end at their next VM operation.
	aborted atomic.Bool
}

// begin validates the scripts, marks them used and allocates their
// threads. It fails with ErrRunning while scripts of an earlier timed-out
// run are still executing.
func (vm *VM) begin(scripts []*Script) ([]*Thread, *runState, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.closed {
		return nil, nil, &UsageError{Op: "RunParallel", Err: ErrClosed}
	}
	if vm.running || vm.abandoned.Load() > 0 {
		return nil, nil, &UsageError{Op: "RunParallel", Err: ErrRunning}
	}
	seen := make(map[*Script]bool, len(scripts))
	for _, s := range scripts {
		if s == nil || s.vm != vm || s.used || seen[s] {
			name := "<nil>"
			if s != nil {
				name = s.name
			}
			return nil, nil, &UsageError{Op: "RunParallel", Err: fmt.Errorf("%w: %s", ErrScriptReused, name)}
		}
		seen[s] = true
	}

	run := &runState{seq: vm.runs}
	vm.runs++
	vm.running = true

	threads := make([]*Thread, len(scripts))
	for i, s := range scripts {
		s.used = true
		id := vm.nextID
		vm.nextID++
		ctx := thread.Alloc(id, s.name, thread.SeedFor(vm.cfg.Seed, run.seq, uint64(i)))
		vm.eng.RegisterThread(ctx)
		threads[i] = &Thread{vm: vm, ctx: ctx, run: run}
	}
	return threads, run, nil
}

func (vm *VM) end() {
	vm.mu.Lock()
	vm.running = false
	vm.mu.Unlock()
}

// abandon accounts for n scripts that keep running after a timeout.
func (vm *VM) abandon(results <-chan scriptResult, n int) {
	vm.abandoned.Add(int64(n))
	go func() {
		for i := 0; i < n; i++ {
			<-results
			vm.abandoned.Add(-1)
		}
	}()
}

// runScript runs one script on its own goroutine. The start acquire was
// already done by RunParallel. A script that fails aborts its run.
func (vm *VM) runScript(index int, s *Script, t *Thread, results chan<- scriptResult) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			e, _ := r.(error)
			var ue *UsageError
			switch {
			case e != nil && errors.Is(e, ErrAborted):
				err = ErrAborted
			case e != nil && errors.As(e, &ue):
				err = ue
			default:
				err = &PanicError{Script: s.name, Value: r, Stack: debug.Stack()}
			}
			if !errors.Is(err, ErrAborted) {
				t.run.aborted.Store(true)
			}
		}
		results <- scriptResult{index: index, err: err}
	}()

	s.body(t)
	vm.eng.PublishReads(t.ctx)
}

// Races returns every unique race found by this VM so far.
func (vm *VM) Races() []*RaceReport {
	return vm.eng.Races()
}

// PerturbStats returns counters of the scheduling noise injected so far.
func (vm *VM) PerturbStats() PerturbStats {
	return vm.eng.Perturber().Stats()
}

// CheckForUncommittedChanges reports writes that were never released and
// atomics or storage blocks that were never destroyed. It returns nil or a
// *LeakError.
func (vm *VM) CheckForUncommittedChanges() error {
	leak := &LeakError{
		Pending:      vm.eng.Uncommitted(),
		LiveAtomics:  vm.eng.LiveAtomics(),
		LiveStorages: vm.eng.LiveStorages(),
	}
	if len(leak.Pending) == 0 && len(leak.LiveAtomics) == 0 && len(leak.LiveStorages) == 0 {
		return nil
	}
	vm.log.Debug("cppvm", "action", "CheckForUncommittedChanges",
		"pending", len(leak.Pending), "atomics", len(leak.LiveAtomics), "storages", len(leak.LiveStorages))
	return leak
}

// AtomicCreate registers an atomic variable and stores its handle in *h.
// It fails with ErrAlreadyLive if *h is still live.
func (vm *VM) AtomicCreate(h *AtomicHandle) error {
	return vm.atomicCreate(h, "")
}

func (vm *VM) atomicCreate(h *AtomicHandle, name string) error {
	if err := vm.eng.AtomicCreate(&h.h, name); err != nil {
		return &UsageError{Op: "AtomicCreate", Err: err}
	}
	return nil
}

// AtomicDestroy unregisters an atomic variable. It fails with ErrNotLive
// if h is not live.
func (vm *VM) AtomicDestroy(h AtomicHandle) error {
	if err := vm.eng.AtomicDestroy(h.h); err != nil {
		return &UsageError{Op: "AtomicDestroy", Err: err}
	}
	return nil
}

// StorageCreate registers a storage block of size bytes and stores its
// handle in *h. The block's initial content is visible to every thread.
func (vm *VM) StorageCreate(h *StorageHandle, name string, size uint64) error {
	if err := vm.eng.StorageCreate(&h.h, name, size); err != nil {
		return &UsageError{Op: "StorageCreate", Err: err}
	}
	return nil
}

// StorageDestroy unregisters a storage block. It fails with ErrNotLive if
// h is not live, and with ErrUncommitted, keeping the block live, while
// any write to the block is unreleased.
func (vm *VM) StorageDestroy(h StorageHandle) error {
	if err := vm.eng.StorageDestroy(h.h); err != nil {
		return &UsageError{Op: "StorageDestroy", Err: err}
	}
	return nil
}
