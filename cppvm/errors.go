package cppvm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kolkov/lfas/internal/cppvm/engine"
	"github.com/kolkov/lfas/internal/cppvm/memrange"
	"github.com/kolkov/lfas/internal/cppvm/registry"
)

var (
	// ErrNotLive reports an operation on a handle that was never created,
	// was destroyed, or is stale.
	ErrNotLive = registry.ErrNotLive

	// ErrAlreadyLive reports creating over a handle that is still live.
	ErrAlreadyLive = registry.ErrAlreadyLive

	// ErrUncommitted reports destroying a storage block that still holds
	// writes no thread released.
	ErrUncommitted = registry.ErrUncommitted

	// ErrOutOfBounds reports a storage access outside the block.
	ErrOutOfBounds = memrange.ErrOutOfBounds

	// ErrClosed reports use of a closed virtual machine.
	ErrClosed = errors.New("virtual machine is closed")

	// ErrRunning reports a call that needs all scripts joined while some
	// are still running.
	ErrRunning = errors.New("scripts are still running")

	// ErrAborted ends the scripts of a run that another script failed or
	// that timed out. RunParallel never returns it.
	ErrAborted = errors.New("run aborted")

	// ErrScriptReused reports a script passed to RunParallel twice, or to
	// a different virtual machine.
	ErrScriptReused = errors.New("script already run or owned by another VM")
)

// UsageError is a bug in the test harness or the scripts, not a finding
// about the algorithm under test: operating on a dead handle, double
// create, out of bounds access, destroying storage with pending writes.
//
// Inside scripts usage errors panic with a *UsageError; RunParallel
// recovers the panic and returns the error.
type UsageError struct {
	// Op is the operation that failed, e.g. "StorageWriteAccess".
	Op string

	// Thread names the thread that called Op, empty for harness calls.
	Thread string

	// Err is the underlying error.
	Err error
}

func (e *UsageError) Error() string {
	if e.Thread != "" {
		return fmt.Sprintf("cppvm: %s in %s: %v", e.Op, e.Thread, e.Err)
	}
	return fmt.Sprintf("cppvm: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *UsageError) Unwrap() error {
	return e.Err
}

// RaceReport describes one data race.
type RaceReport = engine.RaceReport

// RaceError is returned by RunParallel when races were found during the
// run.
type RaceError struct {
	Races []*RaceReport
}

func (e *RaceError) Error() string {
	if len(e.Races) == 1 {
		return "cppvm: data race: " + e.Races[0].Summary()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "cppvm: %d data races", len(e.Races))
	for _, r := range e.Races {
		b.WriteString("\n\t")
		b.WriteString(r.Summary())
	}
	return b.String()
}

// TimeoutError is returned by RunParallel when scripts were still running
// at the deadline, a possible deadlock or livelock. The scripts are
// abandoned, not stopped.
type TimeoutError struct {
	Timeout     time.Duration
	Outstanding []string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("cppvm: %d scripts still running after %v: %s",
		len(e.Outstanding), e.Timeout, strings.Join(e.Outstanding, ", "))
}

// PanicError is returned by RunParallel when a script panicked with
// anything other than a *UsageError.
type PanicError struct {
	Script string
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("cppvm: script %s panicked: %v", e.Script, e.Value)
}

// PendingWrite is a write that no fence released.
type PendingWrite = engine.PendingWrite

// LiveObject is an atomic or storage block that was never destroyed.
type LiveObject = engine.LiveObject

// LeakError is returned by CheckForUncommittedChanges.
type LeakError struct {
	Pending      []PendingWrite
	LiveAtomics  []LiveObject
	LiveStorages []LiveObject
}

func (e *LeakError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cppvm: %d unreleased writes, %d live atomics, %d live storages",
		len(e.Pending), len(e.LiveAtomics), len(e.LiveStorages))
	for _, p := range e.Pending {
		fmt.Fprintf(&b, "\n\tpending write of %v in %q by %v at %v", p.Range, p.Storage, p.Thread, p.Version)
	}
	for _, a := range e.LiveAtomics {
		fmt.Fprintf(&b, "\n\tatomic %q %v not destroyed", a.Name, a.Handle)
	}
	for _, s := range e.LiveStorages {
		fmt.Fprintf(&b, "\n\tstorage %q %v not destroyed", s.Name, s.Handle)
	}
	return b.String()
}
