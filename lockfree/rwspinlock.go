package lockfree

import "github.com/kolkov/lfas/cppvm"

const (
	// writeLocked is the flag value of an exclusively held RWSpinlock.
	writeLocked = ^uint32(0)

	// MaxReaders bounds the number of concurrent shared holders.
	MaxReaders = 100
)

// RWSpinlock is a reader/writer spin lock on a single Word.
//
// The flag is 0 when unlocked, writeLocked when held exclusively and the
// number of readers otherwise. Writers do not get priority: a steady
// stream of readers can starve them.
type RWSpinlock struct {
	flag Word
}

// NewRWSpinlock returns an unlocked lock on flag, which must hold 0.
func NewRWSpinlock(flag Word) *RWSpinlock {
	return &RWSpinlock{flag: flag}
}

// TryLock makes one attempt to take the lock exclusively.
func (l *RWSpinlock) TryLock(p Proc) bool {
	exp := uint32(0)
	return compareExchange(l.flag, p, &exp, writeLocked, cppvm.Acquire, cppvm.Relaxed)
}

// Lock spins until the lock is held exclusively.
func (l *RWSpinlock) Lock(p Proc) {
	for round := 0; ; round++ {
		for range SpinBeforeLock {
			exp := uint32(0)
			if l.flag.CompareExchangeWeak(p, &exp, writeLocked, cppvm.Acquire, cppvm.Relaxed) {
				return
			}
			p.Pause()
		}
		backoff(p, round)
	}
}

// Unlock releases an exclusive hold.
func (l *RWSpinlock) Unlock(p Proc) {
	l.flag.Store(p, 0, cppvm.Release)
}

// TryLockShared makes one attempt to take the lock shared. It fails when
// the lock is held exclusively or by MaxReaders readers.
func (l *RWSpinlock) TryLockShared(p Proc) bool {
	exp := l.flag.Load(p, cppvm.Relaxed)
	for exp != writeLocked && exp < MaxReaders {
		if l.flag.CompareExchangeWeak(p, &exp, exp+1, cppvm.Acquire, cppvm.Relaxed) {
			return true
		}
	}
	return false
}

// LockShared spins until the lock is held shared.
func (l *RWSpinlock) LockShared(p Proc) {
	for round := 0; ; round++ {
		for range SpinBeforeLock {
			if l.TryLockShared(p) {
				return
			}
			p.Pause()
		}
		backoff(p, round)
	}
}

// UnlockShared releases a shared hold.
func (l *RWSpinlock) UnlockShared(p Proc) {
	l.flag.FetchSub(p, 1, cppvm.Release)
}
