package lockfree

import (
	"time"

	"github.com/kolkov/lfas/cppvm"
)

// SpinBeforeLock is the number of lock attempts between two sleeps.
const SpinBeforeLock = 16

// backoff is the sleep between bursts of spinning. The first bursts only
// pause; later ones sleep for a growing interval.
func backoff(p Proc, round int) {
	switch {
	case round < 4:
		p.Pause()
	case round < 16:
		time.Sleep(time.Microsecond)
	default:
		time.Sleep(time.Duration(min(round, 1000)) * time.Microsecond)
	}
}

// Spinlock is a test-and-test-and-set lock on a single Word.
//
// The flag is 0 when unlocked and 1 when locked. Lock acquires and Unlock
// releases, so writes made while holding the lock are visible to the next
// holder. With Relaxed set both use relaxed orders and the caller is
// responsible for fencing.
type Spinlock struct {
	flag    Word
	relaxed bool
}

// NewSpinlock returns an unlocked spinlock on flag, which must hold 0.
func NewSpinlock(flag Word) *Spinlock {
	return &Spinlock{flag: flag}
}

// NewRelaxedSpinlock returns a spinlock that orders nothing by itself.
func NewRelaxedSpinlock(flag Word) *Spinlock {
	return &Spinlock{flag: flag, relaxed: true}
}

func (l *Spinlock) acquireOrder() cppvm.MemoryOrder {
	if l.relaxed {
		return cppvm.Relaxed
	}
	return cppvm.Acquire
}

func (l *Spinlock) releaseOrder() cppvm.MemoryOrder {
	if l.relaxed {
		return cppvm.Relaxed
	}
	return cppvm.Release
}

// TryLock makes one attempt to take the lock. Spurious failures of the
// underlying compare-exchange are retried.
func (l *Spinlock) TryLock(p Proc) bool {
	exp := uint32(0)
	return compareExchange(l.flag, p, &exp, 1, l.acquireOrder(), cppvm.Relaxed)
}

// TryLockN makes up to n attempts, pausing between them.
func (l *Spinlock) TryLockN(p Proc, n int) bool {
	for range n {
		if l.flag.Load(p, cppvm.Relaxed) == 0 {
			exp := uint32(0)
			if l.flag.CompareExchangeWeak(p, &exp, 1, l.acquireOrder(), cppvm.Relaxed) {
				return true
			}
		}
		p.Pause()
	}
	return false
}

// Lock spins until the lock is taken.
func (l *Spinlock) Lock(p Proc) {
	for round := 0; ; round++ {
		if l.TryLockN(p, SpinBeforeLock) {
			return
		}
		backoff(p, round)
	}
}

// Unlock releases the lock.
func (l *Spinlock) Unlock(p Proc) {
	l.flag.Store(p, 0, l.releaseOrder())
}

// IsLocked reports whether the lock is held by someone.
func (l *Spinlock) IsLocked(p Proc) bool {
	return l.flag.Load(p, cppvm.Relaxed) != 0
}
