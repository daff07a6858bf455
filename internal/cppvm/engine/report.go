package engine

import (
	"fmt"
	"io"
	"strings"

	"github.com/kolkov/lfas/internal/cppvm/memrange"
	"github.com/kolkov/lfas/internal/cppvm/registry"
	"github.com/kolkov/lfas/internal/cppvm/version"
)

// AccessType represents the type of memory access (Read or Write).
type AccessType int

const (
	// AccessRead indicates a read of a storage range.
	AccessRead AccessType = iota
	// AccessWrite indicates a write to a storage range.
	AccessWrite
)

// String returns the string representation of an AccessType.
func (a AccessType) String() string {
	switch a {
	case AccessRead:
		return "Read"
	case AccessWrite:
		return "Write"
	default:
		return "Unknown"
	}
}

// AccessInfo describes one of the two accesses involved in a race.
type AccessInfo struct {
	// Type indicates whether this was a Read or Write access.
	Type AccessType

	// Thread performed the access; ThreadName is its script name.
	Thread     version.ThreadID
	ThreadName string

	// Version is the version written (writes) or observed (reads).
	Version version.Version

	// Stack is a stack depot id, 0 when not captured.
	Stack uint64
}

// RaceReport represents a detected race between two accesses to the same
// bytes of a storage block.
type RaceReport struct {
	// Kind and Reason classify the race.
	Kind   memrange.Kind
	Reason memrange.Reason

	// Storage names the block; Handle identifies it.
	Storage string
	Handle  registry.Handle

	// Range is the overlap of the two accesses.
	Range version.Range

	// Current is the access that triggered detection.
	Current AccessInfo

	// Previous is the earlier conflicting access.
	Previous AccessInfo

	// DeduplicationKey uniquely identifies this race location.
	// Format: "{kind}:{storage}:{range}:{tid1}:{tid2}" where tid1 <= tid2.
	DeduplicationKey string
}

// newRaceReport builds a report from a tracker conflict.
func newRaceReport(c memrange.Conflict, name string, h registry.Handle, stack uint64, threadName func(version.ThreadID) string) *RaceReport {
	r := &RaceReport{
		Kind:    c.Kind,
		Reason:  c.Reason,
		Storage: name,
		Handle:  h,
		Range:   c.Range,
		Current: AccessInfo{
			Thread:     c.Thread,
			ThreadName: threadName(c.Thread),
			Version:    c.Version,
			Stack:      stack,
		},
		Previous: AccessInfo{
			Thread:     c.PrevThread,
			ThreadName: threadName(c.PrevThread),
			Version:    c.PrevVersion,
			Stack:      c.PrevStack,
		},
	}

	switch c.Kind {
	case memrange.WriteWrite:
		r.Current.Type, r.Previous.Type = AccessWrite, AccessWrite
	case memrange.ReadWrite:
		r.Current.Type, r.Previous.Type = AccessWrite, AccessRead
	case memrange.WriteRead:
		r.Current.Type, r.Previous.Type = AccessRead, AccessWrite
	}

	r.DeduplicationKey = deduplicationKey(c.Kind, h, c.Range, c.Thread, c.PrevThread)
	return r
}

// deduplicationKey generates a key that is identical for a race between
// threads A and B regardless of which of them detected it.
//
// Example:
//
//	deduplicationKey(memrange.WriteWrite, h, version.Range{0, 8}, 5, 3)
//	// Returns: "write-write:#0.1:[0,8):3:5"
func deduplicationKey(k memrange.Kind, h registry.Handle, r version.Range, a, b version.ThreadID) string {
	return fmt.Sprintf("%s:%v:%v:%d:%d", k, h, r, min(a, b), max(a, b))
}

// Format writes the report in Go race detector layout:
//
//	==================
//	WARNING: DATA RACE
//	Read of [0,8) in "data" by thread T2 (reader) at v1:
//	  main.reader()
//	      /path/to/file.go:15
//
//	Previous write of [0,8) in "data" by thread T1 (writer) at v1:
//	  main.writer()
//	      /path/to/file.go:9
//
//	Reason: write not released
//	==================
//
// stacks formats a stack depot id; it may be nil.
//
//nolint:errcheck // Report output is best effort.
func (r *RaceReport) Format(w io.Writer, stacks func(uint64) string) {
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "WARNING: DATA RACE\n")

	r.formatAccess(w, "", r.Current, stacks)
	fmt.Fprintf(w, "\n")
	r.formatAccess(w, "Previous ", r.Previous, stacks)

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Reason: %s\n", r.Reason)
	fmt.Fprintf(w, "==================\n")
}

//nolint:errcheck
func (r *RaceReport) formatAccess(w io.Writer, prefix string, a AccessInfo, stacks func(uint64) string) {
	verb := a.Type.String()
	if prefix != "" {
		verb = strings.ToLower(verb)
	}
	fmt.Fprintf(w, "%s%s of %v in %q by thread %v", prefix, verb, r.Range, r.Storage, a.Thread)
	if a.ThreadName != "" {
		fmt.Fprintf(w, " (%s)", a.ThreadName)
	}
	fmt.Fprintf(w, " at %v:\n", a.Version)

	if a.Stack == 0 || stacks == nil {
		fmt.Fprintf(w, "  (no stack trace captured)\n")
		return
	}
	fmt.Fprint(w, stacks(a.Stack))
}

// String returns the report without stacks.
func (r *RaceReport) String() string {
	var buf strings.Builder
	r.Format(&buf, nil)
	return buf.String()
}

// Summary returns a one-line description of the race.
func (r *RaceReport) Summary() string {
	return fmt.Sprintf("%s race on %q %v between %v and %v: %s",
		r.Kind, r.Storage, r.Range, r.Previous.Thread, r.Current.Thread, r.Reason)
}
