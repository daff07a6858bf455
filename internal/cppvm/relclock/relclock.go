// Package relclock implements release-sequence clocks for the ordering engine.
//
// Every logical thread counts the release fences it has executed. The
// ordering engine publishes these counts in one global clock, and every
// thread keeps a private clock of the counts it has synchronized with via
// acquire fences. A read performed by thread u while u had executed k
// releases is ordered before a later write by thread t iff t's private
// clock has seen u at k+1 or more, i.e. t acquired after u's next release.
//
// Key operations:
//   - Join: Acquire (point-wise maximum)
//   - LessOrEqual: ordering check between two clocks
//
// Clocks grow on demand; thread IDs are small and dense.
package relclock

import (
	"strconv"
	"strings"

	"github.com/kolkov/lfas/internal/cppvm/version"
)

// Clock maps thread IDs to release counts.
//
// Layout: [main, T1, T2, ...]. Missing entries are zero.
// A Clock is not safe for concurrent mutation; the owner (a thread context
// or the ordering engine under its lock) serializes access.
type Clock struct {
	c []uint64
}

// New creates an empty clock.
func New() *Clock {
	return &Clock{}
}

// Clone returns a deep copy of the clock.
func (vc *Clock) Clone() *Clock {
	out := &Clock{c: make([]uint64, len(vc.c))}
	copy(out.c, vc.c)
	return out
}

// Get returns the count recorded for tid.
func (vc *Clock) Get(tid version.ThreadID) uint64 {
	if int(tid) >= len(vc.c) {
		return 0
	}
	return vc.c[tid]
}

// Set records count for tid.
func (vc *Clock) Set(tid version.ThreadID, count uint64) {
	vc.grow(tid)
	vc.c[tid] = count
}

// Increment advances tid's count and returns the new value.
func (vc *Clock) Increment(tid version.ThreadID) uint64 {
	vc.grow(tid)
	vc.c[tid]++
	return vc.c[tid]
}

// Join performs point-wise maximum: vc = vc ⊔ other.
//
// This is the acquire operation: the calling thread synchronizes with
// every release recorded in other.
func (vc *Clock) Join(other *Clock) {
	if len(other.c) > len(vc.c) {
		vc.grow(version.ThreadID(len(other.c) - 1))
	}
	for i, v := range other.c {
		if v > vc.c[i] {
			vc.c[i] = v
		}
	}
}

// LessOrEqual checks partial order: vc ⊑ other.
func (vc *Clock) LessOrEqual(other *Clock) bool {
	for i, v := range vc.c {
		if v > other.Get(version.ThreadID(i)) {
			return false
		}
	}
	return true
}

// Len returns the number of thread slots allocated.
func (vc *Clock) Len() int {
	return len(vc.c)
}

func (vc *Clock) grow(tid version.ThreadID) {
	if int(tid) < len(vc.c) {
		return
	}
	n := make([]uint64, int(tid)+1)
	copy(n, vc.c)
	vc.c = n
}

// String returns "{main:2, T1:5}" showing only non-zero entries.
func (vc *Clock) String() string {
	var parts []string
	for i, v := range vc.c {
		if v != 0 {
			parts = append(parts, version.ThreadID(i).String()+":"+strconv.FormatUint(v, 10))
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
