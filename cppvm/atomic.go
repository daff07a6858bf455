package cppvm

import "sync"

// Integer is the set of types Atomic supports.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Atomic emulates std::atomic<T> on a virtual machine.
//
// The value itself is protected by a lock, so the host never sees a torn
// or racy access. What the memory order of each operation buys is modeled
// by the fence it applies: a release store publishes the calling thread's
// storage writes, an acquire load makes released writes visible to the
// caller, and a relaxed operation orders nothing. SeqCst operations are
// additionally serialized by the VM's global lock.
//
// Every operation yields after it completes, giving other scripts a chance
// to run between any two atomic operations.
//
// Thread Safety: all methods are safe for concurrent use by different
// threads. Do not call them while holding AtomicGlobalLock(true).
type Atomic[T Integer] struct {
	vm *VM
	h  AtomicHandle

	mu sync.RWMutex
	v  T
}

// NewAtomic registers an atomic with initial value init.
func NewAtomic[T Integer](vm *VM, name string, init T) (*Atomic[T], error) {
	a := &Atomic[T]{vm: vm, v: init}
	if err := vm.atomicCreate(&a.h, name); err != nil {
		return nil, err
	}
	return a, nil
}

// Handle returns the registry handle of a.
func (a *Atomic[T]) Handle() AtomicHandle {
	return a.h
}

// Destroy unregisters a. Any later operation on a panics with a
// *UsageError wrapping ErrNotLive.
func (a *Atomic[T]) Destroy() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.vm.AtomicDestroy(a.h)
}

// Store emulates atomic::store.
func (a *Atomic[T]) Store(t *Thread, v T, order MemoryOrder) {
	a.rmw(t, "Atomic.Store", order, func(T) T { return v })
}

// Load emulates atomic::load.
func (a *Atomic[T]) Load(t *Thread, order MemoryOrder) T {
	a.mu.RLock()
	if err := a.vm.eng.CheckAtomic(a.h.h); err != nil {
		a.mu.RUnlock()
		t.fail("Atomic.Load", err)
	}
	l := t.AtomicGlobalLock(order == SeqCst)
	v := a.v
	a.vm.eng.Fence(t.ctx, order.fence())
	l.Unlock()
	a.mu.RUnlock()

	t.Yield()
	return v
}

// Exchange emulates atomic::exchange and returns the previous value.
func (a *Atomic[T]) Exchange(t *Thread, v T, order MemoryOrder) T {
	return a.rmw(t, "Atomic.Exchange", order, func(T) T { return v })
}

// FetchAdd emulates atomic::fetch_add and returns the previous value.
func (a *Atomic[T]) FetchAdd(t *Thread, delta T, order MemoryOrder) T {
	return a.rmw(t, "Atomic.FetchAdd", order, func(old T) T { return old + delta })
}

// FetchSub emulates atomic::fetch_sub and returns the previous value.
func (a *Atomic[T]) FetchSub(t *Thread, delta T, order MemoryOrder) T {
	return a.rmw(t, "Atomic.FetchSub", order, func(old T) T { return old - delta })
}

// FetchAnd emulates atomic::fetch_and and returns the previous value.
func (a *Atomic[T]) FetchAnd(t *Thread, mask T, order MemoryOrder) T {
	return a.rmw(t, "Atomic.FetchAnd", order, func(old T) T { return old & mask })
}

// FetchOr emulates atomic::fetch_or and returns the previous value.
func (a *Atomic[T]) FetchOr(t *Thread, mask T, order MemoryOrder) T {
	return a.rmw(t, "Atomic.FetchOr", order, func(old T) T { return old | mask })
}

// FetchXor emulates atomic::fetch_xor and returns the previous value.
func (a *Atomic[T]) FetchXor(t *Thread, mask T, order MemoryOrder) T {
	return a.rmw(t, "Atomic.FetchXor", order, func(old T) T { return old ^ mask })
}

// rmw replaces the value with f(old) and returns old.
func (a *Atomic[T]) rmw(t *Thread, op string, order MemoryOrder, f func(T) T) T {
	a.lock(t, op)
	l := t.AtomicGlobalLock(order == SeqCst)
	old := a.v
	a.v = f(old)
	a.vm.eng.Fence(t.ctx, order.fence())
	l.Unlock()
	a.mu.Unlock()

	t.Yield()
	return old
}

// lock takes the exclusive lock and fails if a was destroyed.
func (a *Atomic[T]) lock(t *Thread, op string) {
	a.mu.Lock()
	if err := a.vm.eng.CheckAtomic(a.h.h); err != nil {
		a.mu.Unlock()
		t.fail(op, err)
	}
}

// CompareExchangeWeak emulates atomic::compare_exchange_weak with a single
// order. The failure order is Relaxed. *expected always receives the value
// observed. The exchange may fail even when the values are equal, so it
// belongs in a retry loop.
func (a *Atomic[T]) CompareExchangeWeak(t *Thread, expected *T, desired T, order MemoryOrder) bool {
	return a.cas(t, "Atomic.CompareExchangeWeak", true, expected, desired, order, Relaxed)
}

// CompareExchangeStrong emulates atomic::compare_exchange_strong with a
// single order. The failure order is Relaxed.
func (a *Atomic[T]) CompareExchangeStrong(t *Thread, expected *T, desired T, order MemoryOrder) bool {
	return a.cas(t, "Atomic.CompareExchangeStrong", false, expected, desired, order, Relaxed)
}

// CompareExchangeWeakExplicit is CompareExchangeWeak with separate orders
// for success and failure.
func (a *Atomic[T]) CompareExchangeWeakExplicit(t *Thread, expected *T, desired T, success, failure MemoryOrder) bool {
	return a.cas(t, "Atomic.CompareExchangeWeakExplicit", true, expected, desired, success, failure)
}

// CompareExchangeStrongExplicit is CompareExchangeStrong with separate
// orders for success and failure.
func (a *Atomic[T]) CompareExchangeStrongExplicit(t *Thread, expected *T, desired T, success, failure MemoryOrder) bool {
	return a.cas(t, "Atomic.CompareExchangeStrongExplicit", false, expected, desired, success, failure)
}

func (a *Atomic[T]) cas(t *Thread, op string, weak bool, expected *T, desired T, success, failure MemoryOrder) bool {
	a.lock(t, op)
	l := t.AtomicGlobalLock(success == SeqCst || failure == SeqCst)

	equal := *expected == a.v
	*expected = a.v
	ok := equal && !(weak && a.vm.eng.SpuriousFailure(t.ctx))
	if ok {
		a.v = desired
		a.vm.eng.Fence(t.ctx, success.fence())
	} else {
		a.vm.eng.Fence(t.ctx, failure.fence())
	}

	l.Unlock()
	a.mu.Unlock()

	t.Yield()
	return ok
}
