package cppvm

import (
	"runtime"

	"github.com/kolkov/lfas/internal/cppvm/engine"
	"github.com/kolkov/lfas/internal/cppvm/thread"
)

// Thread is the identity of one logical thread: the harness (Main) or a
// running script. Every VM operation a script performs goes through its
// Thread. A Thread must only be used by the goroutine it was handed to.
//
// Usage errors inside Thread operations panic with a *UsageError, which
// RunParallel recovers and returns.
type Thread struct {
	vm  *VM
	ctx *thread.Context
	run *runState // nil for the harness
}

// ID returns the thread ID.
func (t *Thread) ID() ThreadID {
	return t.ctx.ID
}

// Name returns the script name, "main" for the harness.
func (t *Thread) Name() string {
	return t.ctx.Name
}

// VM returns the virtual machine the thread runs on.
func (t *Thread) VM() *VM {
	return t.vm
}

func (t *Thread) fail(op string, err error) {
	panic(&UsageError{Op: op, Thread: t.ctx.Name, Err: err})
}

// checkAborted ends the calling script once its run was aborted. It must
// not be called while t holds a VM lock.
func (t *Thread) checkAborted() {
	if t.run != nil && t.run.aborted.Load() {
		panic(ErrAborted)
	}
}

// ThreadFenceAcquire makes every released write visible to t.
func (t *Thread) ThreadFenceAcquire() {
	t.fence(engine.FenceAcquire)
}

// ThreadFenceRelease publishes t's writes and reads so far.
func (t *Thread) ThreadFenceRelease() {
	t.fence(engine.FenceRelease)
}

// ThreadFenceAcquireRelease is an acquire followed by a release.
func (t *Thread) ThreadFenceAcquireRelease() {
	t.fence(engine.FenceAcquireRelease)
}

// ThreadFenceRelaxed orders nothing; it is a scheduling point.
func (t *Thread) ThreadFenceRelaxed() {
	t.fence(engine.FenceRelaxed)
}

// Fence applies the fence implied by order. SeqCst is an acquire-release
// fence; take AtomicGlobalLock(true) around it for total order.
func (t *Thread) Fence(order MemoryOrder) {
	t.fence(order.fence())
}

func (t *Thread) fence(f engine.Fence) {
	t.checkAborted()
	t.vm.eng.Point(t.ctx)
	t.vm.eng.Fence(t.ctx, f)
	t.vm.eng.Point(t.ctx)
}

// Yield is a scheduling point: it always yields the processor and may
// inject extra noise.
func (t *Thread) Yield() {
	t.checkAborted()
	t.vm.eng.Point(t.ctx)
	runtime.Gosched()
}

// Pause is the spin-wait hint used inside busy loops.
func (t *Thread) Pause() {
	t.checkAborted()
	runtime.Gosched()
}

// StorageReadAccess records a read of size bytes at offset of storage h.
// Races are reported, not returned.
func (t *Thread) StorageReadAccess(h StorageHandle, offset, size uint64) {
	t.checkAborted()
	t.vm.eng.Point(t.ctx)
	if _, err := t.vm.eng.Read(t.ctx, h.h, offset, size); err != nil {
		t.fail("StorageReadAccess", err)
	}
	t.vm.eng.Point(t.ctx)
}

// StorageWriteAccess records a write of size bytes at offset of storage h.
// The write stays pending until t executes a release.
func (t *Thread) StorageWriteAccess(h StorageHandle, offset, size uint64) {
	t.checkAborted()
	t.vm.eng.Point(t.ctx)
	if _, err := t.vm.eng.Write(t.ctx, h.h, offset, size); err != nil {
		t.fail("StorageWriteAccess", err)
	}
	t.vm.eng.Point(t.ctx)
}

// AtomicCompareExchangeWeakFalsePositive reports whether a successful weak
// compare-exchange on h should fail spuriously.
func (t *Thread) AtomicCompareExchangeWeakFalsePositive(h AtomicHandle) bool {
	t.checkAtomic("AtomicCompareExchangeWeakFalsePositive", h)
	return t.vm.eng.SpuriousFailure(t.ctx)
}

func (t *Thread) checkAtomic(op string, h AtomicHandle) {
	if err := t.vm.eng.CheckAtomic(h.h); err != nil {
		t.fail(op, err)
	}
}

// ScopedLock holds the global sequential-consistency lock until Unlock.
// Unlock is safe on a lock that holds nothing and safe to call twice.
type ScopedLock = engine.ScopedLock

// AtomicGlobalLock takes the global sequential-consistency lock when
// isSeqCst is true and returns a lock that holds nothing otherwise.
//
//	l := t.AtomicGlobalLock(order == cppvm.SeqCst)
//	defer l.Unlock()
func (t *Thread) AtomicGlobalLock(isSeqCst bool) ScopedLock {
	return t.vm.eng.GlobalLock(isSeqCst)
}

// IntN returns a number in [0, n) from t's seeded random stream.
func (t *Thread) IntN(n int) int {
	return t.ctx.IntN(n)
}

// Float64 returns a number in [0, 1) from t's seeded random stream.
func (t *Thread) Float64() float64 {
	return t.ctx.Float64()
}
