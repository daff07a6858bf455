// Package engine implements the ordering engine of the C++ memory model
// virtual machine.
//
// The engine turns the four fence kinds into visibility updates on the
// memory range trackers of every simulated storage block, serializes
// sequentially consistent operations behind one global lock, decides when a
// weak compare-exchange fails spuriously, injects scheduling noise, and
// keeps the log of races found.
//
// # Fences
//
//	Relaxed:         scheduling point only
//	Acquire:         A_t := A_t ⊔ P;  every live tracker: visible[t] := globalVersion
//	Release:         R_t++; P[t] := R_t;  every tracker t wrote: publish unavailable[t]
//	AcquireRelease:  Acquire, then Release, under one lock
//
// Where:
//   - A_t is the clock of releases thread t has synchronized with
//   - P is the published release clock (P[u] = releases executed by u)
//   - R_t is the number of releases executed by t
//
// A read by u stamped with epoch R_u+1 is ordered before a later write by
// t once A_t[u] reaches that epoch, that is once u released after the read
// and t acquired after that release.
//
// # Thread Safety
//
// All Engine methods are safe for concurrent calls from different thread
// contexts. A single thread.Context must only be used by its own goroutine.
//
// # Reports
//
// Races are deduplicated by kind, storage, range and thread pair, printed
// to the configured writer in the Go race detector layout, and logged at
// debug level.
package engine
