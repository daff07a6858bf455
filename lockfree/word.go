// Package lockfree holds the spin-based synchronization primitives the
// rest of the engine is built on.
//
// Every primitive is written against Word, a 32-bit atomic with explicit
// C++ memory orders, and Proc, the thread executing the operation. In
// production the primitives run on HostWord and HostProc, backed by
// sync/atomic. Under test they run on SimWord and a *cppvm.Thread, so the
// memory orders each primitive requests are checked by the virtual
// machine: a spinlock that unlocks with a relaxed store instead of a
// release store is reported as a race on the data it protects.
//
// # Primitives
//
//   - [Spinlock]: test-and-test-and-set lock
//   - [RWSpinlock]: reader/writer spin lock
//   - [Barrier]: reusable N-party barrier
package lockfree

import (
	"runtime"
	"sync/atomic"

	"github.com/kolkov/lfas/cppvm"
)

// Proc is the thread executing a primitive operation.
type Proc interface {
	// Pause is the busy-wait hint issued between spin iterations.
	Pause()
}

// HostProc is the Proc of ordinary goroutines.
type HostProc struct{}

// Pause yields the processor.
func (HostProc) Pause() { runtime.Gosched() }

// Word is a 32-bit atomic variable with C++ memory orders.
type Word interface {
	Load(p Proc, order cppvm.MemoryOrder) uint32
	Store(p Proc, v uint32, order cppvm.MemoryOrder)
	Exchange(p Proc, v uint32, order cppvm.MemoryOrder) uint32
	FetchAdd(p Proc, delta uint32, order cppvm.MemoryOrder) uint32
	FetchSub(p Proc, delta uint32, order cppvm.MemoryOrder) uint32

	// CompareExchangeWeak may fail spuriously. *expected receives the
	// value observed.
	CompareExchangeWeak(p Proc, expected *uint32, desired uint32, success, failure cppvm.MemoryOrder) bool
}

// HostWord is a Word on sync/atomic. Every operation is sequentially
// consistent whatever order is requested.
type HostWord struct {
	v atomic.Uint32
}

var _ Word = (*HostWord)(nil)

// Load returns the value.
func (w *HostWord) Load(Proc, cppvm.MemoryOrder) uint32 { return w.v.Load() }

// Store sets the value to v.
func (w *HostWord) Store(_ Proc, v uint32, _ cppvm.MemoryOrder) { w.v.Store(v) }

// Exchange sets the value to v and returns the previous one.
func (w *HostWord) Exchange(_ Proc, v uint32, _ cppvm.MemoryOrder) uint32 { return w.v.Swap(v) }

// FetchAdd adds delta and returns the previous value.
func (w *HostWord) FetchAdd(_ Proc, delta uint32, _ cppvm.MemoryOrder) uint32 {
	return w.v.Add(delta) - delta
}

// FetchSub subtracts delta and returns the previous value.
func (w *HostWord) FetchSub(_ Proc, delta uint32, _ cppvm.MemoryOrder) uint32 {
	return w.v.Add(^(delta - 1)) + delta
}

// CompareExchangeWeak sets the value to desired if it equals *expected.
// It never fails spuriously.
func (w *HostWord) CompareExchangeWeak(_ Proc, expected *uint32, desired uint32, _, _ cppvm.MemoryOrder) bool {
	if w.v.CompareAndSwap(*expected, desired) {
		return true
	}
	*expected = w.v.Load()
	return false
}

// SimWord is a Word on a virtual machine atomic. Its operations must be
// called with a *cppvm.Thread as the Proc.
type SimWord struct {
	a *cppvm.Atomic[uint32]
}

var _ Word = (*SimWord)(nil)

// NewSimWord registers a simulated word named name on vm.
func NewSimWord(vm *cppvm.VM, name string, init uint32) (*SimWord, error) {
	a, err := cppvm.NewAtomic(vm, name, init)
	if err != nil {
		return nil, err
	}
	return &SimWord{a: a}, nil
}

// Destroy unregisters the word.
func (w *SimWord) Destroy() error {
	return w.a.Destroy()
}

func thread(p Proc) *cppvm.Thread {
	t, ok := p.(*cppvm.Thread)
	if !ok {
		panic("lockfree: SimWord used outside a virtual machine thread")
	}
	return t
}

// Load emulates atomic::load on the calling thread.
func (w *SimWord) Load(p Proc, order cppvm.MemoryOrder) uint32 {
	return w.a.Load(thread(p), order)
}

// Store emulates atomic::store on the calling thread.
func (w *SimWord) Store(p Proc, v uint32, order cppvm.MemoryOrder) {
	w.a.Store(thread(p), v, order)
}

// Exchange emulates atomic::exchange and returns the previous value.
func (w *SimWord) Exchange(p Proc, v uint32, order cppvm.MemoryOrder) uint32 {
	return w.a.Exchange(thread(p), v, order)
}

// FetchAdd emulates atomic::fetch_add and returns the previous value.
func (w *SimWord) FetchAdd(p Proc, delta uint32, order cppvm.MemoryOrder) uint32 {
	return w.a.FetchAdd(thread(p), delta, order)
}

// FetchSub emulates atomic::fetch_sub and returns the previous value.
func (w *SimWord) FetchSub(p Proc, delta uint32, order cppvm.MemoryOrder) uint32 {
	return w.a.FetchSub(thread(p), delta, order)
}

// CompareExchangeWeak emulates atomic::compare_exchange_weak with separate
// success and failure orders. It fails spuriously at the VM's configured
// rate.
func (w *SimWord) CompareExchangeWeak(p Proc, expected *uint32, desired uint32, success, failure cppvm.MemoryOrder) bool {
	return w.a.CompareExchangeWeakExplicit(thread(p), expected, desired, success, failure)
}

// compareExchange is a strong compare-exchange built from the weak one:
// it retries spurious failures while the observed value still matches.
func compareExchange(w Word, p Proc, expected *uint32, desired uint32, success, failure cppvm.MemoryOrder) bool {
	want := *expected
	for {
		if w.CompareExchangeWeak(p, expected, desired, success, failure) {
			return true
		}
		if *expected != want {
			return false
		}
	}
}
