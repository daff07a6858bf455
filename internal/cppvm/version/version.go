// Package version implements the logical timestamps used by the memory
// range tracker.
//
// A Version is a per-range monotonic write counter. Every write to a byte
// range allocates the next version of that range, so comparing two versions
// of the same range tells which write happened later in the tracker's
// serialized bookkeeping. Versions of different ranges are never compared.
//
// The package also defines ThreadID, the identity of a logical thread
// (script), and Range, the half-open byte interval all tracking is keyed on.
package version

import "strconv"

// Version is a monotonic write counter, unique per memory range.
type Version uint64

const (
	// InitialVersion is the version of a range that has never been written.
	// It is visible to every thread without any fence.
	InitialVersion Version = 0

	// Undefined marks a version slot that holds no published value, e.g. the
	// global version of a range whose latest write is still pending.
	Undefined Version = ^Version(0)
)

// IsDefined reports whether v holds a real version.
func (v Version) IsDefined() bool {
	return v != Undefined
}

// String returns "v<N>" or "undefined".
func (v Version) String() string {
	if v == Undefined {
		return "undefined"
	}
	return "v" + strconv.FormatUint(uint64(v), 10)
}

// ThreadID identifies a logical thread of the virtual machine.
//
// ID 0 is reserved for the harness (the goroutine that owns the VM and runs
// code outside of scripts). Scripts get IDs starting at 1.
type ThreadID uint32

const (
	// MainThread is the harness thread.
	MainThread ThreadID = 0

	// NoThread marks "no thread", e.g. the last writer of an unwritten range.
	NoThread ThreadID = ^ThreadID(0)
)

// String returns "T<N>", "main" or "none".
func (id ThreadID) String() string {
	switch id {
	case MainThread:
		return "main"
	case NoThread:
		return "none"
	default:
		return "T" + strconv.FormatUint(uint64(id), 10)
	}
}
