package memrange

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kolkov/lfas/internal/cppvm/relclock"
	"github.com/kolkov/lfas/internal/cppvm/version"
)

// ErrOutOfBounds is returned when an access does not fit in the block.
var ErrOutOfBounds = errors.New("access out of bounds")

// Kind classifies a conflict by the pair of accesses involved.
type Kind uint8

const (
	// WriteWrite: the current write races with an earlier write.
	WriteWrite Kind = iota
	// ReadWrite: the current write races with an earlier read.
	ReadWrite
	// WriteRead: the current read observes a write it is not ordered after.
	WriteRead
)

// String returns the conflict kind for reports.
func (k Kind) String() string {
	switch k {
	case WriteWrite:
		return "write-write"
	case ReadWrite:
		return "read-write"
	case WriteRead:
		return "write-read"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Reason explains why two accesses are unordered.
type Reason uint8

const (
	// PendingWrite: the earlier write was never released.
	PendingWrite Reason = iota
	// NotAcquired: the earlier write was released but never acquired.
	NotAcquired
	// UnorderedRead: the reader did not release after reading, or the
	// writer never acquired that release.
	UnorderedRead
)

// String returns a short human-readable explanation.
func (r Reason) String() string {
	switch r {
	case PendingWrite:
		return "write not released"
	case NotAcquired:
		return "release not acquired"
	case UnorderedRead:
		return "read not ordered before write"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// Access describes the thread performing a read or write.
type Access struct {
	// Thread performing the access.
	Thread version.ThreadID

	// Epoch is the release epoch of Thread: number of releases it has
	// executed plus one. Only reads use it.
	Epoch uint64

	// Acquired is Thread's clock of releases it has synchronized with.
	// Only writes use it. Nil means nothing was acquired.
	Acquired *relclock.Clock

	// Stack is a stack depot id for reports, 0 if not captured.
	Stack uint64
}

// Conflict describes one data race detected by the tracker.
type Conflict struct {
	Kind   Kind
	Reason Reason

	// Range is the piece of the block where the accesses overlap.
	Range version.Range

	// Thread performed the current access; Version is the version it
	// produced (writes) or observed (reads).
	Thread  version.ThreadID
	Version version.Version

	// PrevThread performed the conflicting earlier access.
	PrevThread  version.ThreadID
	PrevVersion version.Version
	PrevStack   uint64
}

// Pending describes a write that was never released.
type Pending struct {
	Range   version.Range
	Thread  version.ThreadID
	Version version.Version
}

// Tracker is the versioned history of one storage block.
//
// Invariant: ranges is sorted, non-overlapping, covers [0, size) exactly,
// and no two neighbouring pieces have identical state.
type Tracker struct {
	mu     sync.Mutex
	size   uint64
	ranges []*VersionedRange
}

// NewTracker creates a tracker for a block of size bytes.
// The whole block starts as one piece at the initial version.
func NewTracker(size uint64) *Tracker {
	t := &Tracker{size: size}
	if size > 0 {
		t.ranges = []*VersionedRange{newVersionedRange(version.Range{Begin: 0, End: size})}
	}
	return t
}

// Size returns the block size in bytes.
func (t *Tracker) Size() uint64 {
	return t.size
}

// Write records a write of r by a.Thread.
//
// Returns the conflicts raised, sorted by conflicting thread, and
// ErrOutOfBounds if r does not fit in the block. A zero-length write is a
// no-op.
func (t *Tracker) Write(r version.Range, a Access) ([]Conflict, error) {
	return t.access(r, a, (*VersionedRange).write)
}

// Read records a read of r by a.Thread.
//
// Returns the conflicts raised and ErrOutOfBounds if r does not fit in the
// block. A zero-length read is a no-op.
func (t *Tracker) Read(r version.Range, a Access) ([]Conflict, error) {
	return t.access(r, a, (*VersionedRange).read)
}

func (t *Tracker) access(r version.Range, a Access, op func(*VersionedRange, Access) []Conflict) ([]Conflict, error) {
	if r.Empty() {
		return nil, nil
	}
	if r.End > t.size || r.End < r.Begin {
		return nil, fmt.Errorf("%w: %v in block of %d bytes", ErrOutOfBounds, r, t.size)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	lo, hi := t.span(r)
	var out []Conflict
	for _, p := range t.ranges[lo:hi] {
		out = append(out, op(p, a)...)
	}
	t.coalesce()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PrevThread < out[j].PrevThread
	})
	return out, nil
}

// Acquire makes every released version of the block visible to tid.
func (t *Tracker) Acquire(tid version.ThreadID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.ranges {
		p.acquire(tid)
	}
	t.coalesce()
}

// Release publishes every version tid wrote and has not yet released.
func (t *Tracker) Release(tid version.ThreadID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.ranges {
		p.release(tid)
	}
	t.coalesce()
}

// Uncommitted returns the writes that were never released, ordered by
// range and then by thread.
func (t *Tracker) Uncommitted() []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Pending
	for _, p := range t.ranges {
		for _, tid := range sortedKeys(p.unavailable) {
			out = append(out, Pending{Range: p.Range, Thread: tid, Version: p.unavailable[tid]})
		}
	}
	return out
}

// HasUncommitted reports whether any write in the block is still pending.
func (t *Tracker) HasUncommitted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.ranges {
		if p.HasPending() {
			return true
		}
	}
	return false
}

// Ranges returns a snapshot of the pieces. The returned values are copies
// and are not affected by later accesses.
func (t *Tracker) Ranges() []*VersionedRange {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*VersionedRange, len(t.ranges))
	for i, p := range t.ranges {
		out[i] = p.clone(p.Range)
	}
	return out
}

// span splits pieces at r's boundaries and returns the index interval of
// pieces inside r.
func (t *Tracker) span(r version.Range) (lo, hi int) {
	t.split(r.Begin)
	t.split(r.End)

	lo = sort.Search(len(t.ranges), func(i int) bool { return t.ranges[i].Begin >= r.Begin })
	hi = sort.Search(len(t.ranges), func(i int) bool { return t.ranges[i].Begin >= r.End })
	return lo, hi
}

// split makes sure no piece straddles offset at.
func (t *Tracker) split(at uint64) {
	i := sort.Search(len(t.ranges), func(i int) bool { return t.ranges[i].End > at })
	if i == len(t.ranges) {
		return
	}
	p := t.ranges[i]
	if p.Begin >= at {
		return
	}

	left := p.clone(version.Range{Begin: p.Begin, End: at})
	right := p.clone(version.Range{Begin: at, End: p.End})

	t.ranges = append(t.ranges, nil)
	copy(t.ranges[i+2:], t.ranges[i+1:])
	t.ranges[i] = left
	t.ranges[i+1] = right
}

// coalesce merges neighbouring pieces with identical state.
func (t *Tracker) coalesce() {
	if len(t.ranges) < 2 {
		return
	}
	out := t.ranges[:1]
	for _, p := range t.ranges[1:] {
		last := out[len(out)-1]
		if last.End == p.Begin && last.sameState(p) {
			last.End = p.End
			continue
		}
		out = append(out, p)
	}
	clear(t.ranges[len(out):])
	t.ranges = out
}
