// Package memrange implements the memory range tracker of the C++ memory
// model virtual machine.
//
// Every simulated storage block owns one Tracker. The tracker keeps a
// sorted, non-overlapping list of VersionedRange pieces covering the whole
// block and decides, for a thread and a byte range, whether a read or write
// is consistent with the memory-ordering guarantees the threads have
// established so far.
//
// # Overview
//
// Each piece records:
//   - versionCounter: the next version to assign on a write
//   - globalVersion: the last version published by a release fence
//     (Undefined while the latest write is still pending)
//   - unavailable: per writer thread, the version it produced that is not
//     yet released (a value sitting in a private store buffer)
//   - visible: per thread, the highest version it has acquired
//   - readers: per thread, the release epoch of its last read
//
// # Rules
//
// A read by thread t is race-free iff the latest version of every piece it
// touches was written by t itself, is the initial version, or is not newer
// than visible[t]. Otherwise the read observes either a pending write
// (another thread never released it) or a released write t never acquired.
//
// A write by thread t races with another thread's pending write, with a
// released write t never acquired, and with another thread's read that is
// not ordered before t (the reader did not release after reading, or t did
// not acquire that release). A thread overwriting its own pending version
// is always allowed.
//
// # Usage
//
//	tr := memrange.NewTracker(64)
//	conflicts, err := tr.Write(version.NewRange(0, 8), memrange.Access{Thread: 1, Acquired: clk})
//	tr.Release(1)
//	tr.Acquire(2)
//	conflicts, err = tr.Read(version.NewRange(0, 8), memrange.Access{Thread: 2, Acquired: clk2})
//
// # Thread Safety
//
// All Tracker methods are safe for concurrent calls; each tracker has its
// own mutex held only for the duration of one operation.
//
// Zero-length ranges are no-ops. Partially overlapping accesses split the
// affected pieces at the access boundaries, and neighbouring pieces with
// identical state are merged again after every mutation, so the number of
// pieces stays proportional to the number of distinct access boundaries
// that still carry distinct history.
package memrange
