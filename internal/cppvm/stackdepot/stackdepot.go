// Package stackdepot stores deduplicated stack traces for race reports.
//
// Every write and every read recorded by a memory range tracker carries the
// id of the stack that performed it. Identical stacks share one id, the
// FNV-1a hash of their program counters, so a tracker piece only keeps a
// 64-bit id while the depot keeps each unique trace once.
//
// Design:
//   - Fixed-size traces (MaxFrames program counters)
//   - FNV-1a hash as the trace id, 0 meaning "not captured"
//   - One sync.Map per Depot; each virtual machine owns its own depot so
//     independent runs never share state
//
// Usage:
//
//	d := stackdepot.New()
//	id := d.Capture(1)
//	fmt.Print(d.Get(id).Format())
package stackdepot

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"
)

// MaxFrames is the maximum number of frames kept per trace.
const MaxFrames = 16

// Trace is a captured stack.
type Trace struct {
	PC [MaxFrames]uintptr
	n  int
}

// Depot maps trace ids to traces.
//
// Thread Safety: all methods are safe for concurrent calls.
type Depot struct {
	traces sync.Map // uint64 -> *Trace

	// hidden holds function-name prefixes dropped from formatted traces.
	hidden []string
}

// New creates an empty depot. Frames whose function name starts with one
// of hide are omitted when traces are formatted; runtime frames are always
// omitted.
func New(hide ...string) *Depot {
	return &Depot{hidden: append([]string{"runtime."}, hide...)}
}

// Capture records the calling goroutine's stack and returns its id.
//
// skip is the number of frames to omit above the caller of Capture; 0
// starts the trace at the caller. Returns 0 if no stack is available or d
// is nil.
func (d *Depot) Capture(skip int) uint64 {
	if d == nil {
		return 0
	}

	var pcs [MaxFrames]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	if n == 0 {
		return 0
	}

	id := hashStack(pcs[:n])
	if _, ok := d.traces.Load(id); ok {
		return id
	}
	d.traces.Store(id, &Trace{PC: pcs, n: n})
	return id
}

// Get returns the trace with the given id, or nil for 0 and unknown ids.
func (d *Depot) Get(id uint64) *Trace {
	if d == nil || id == 0 {
		return nil
	}
	v, ok := d.traces.Load(id)
	if !ok {
		return nil
	}
	return v.(*Trace)
}

// Format returns the trace with the given id in Go race report layout,
// omitting hidden frames.
func (d *Depot) Format(id uint64) string {
	t := d.Get(id)
	if t == nil {
		return "  <unknown>\n"
	}

	frames := runtime.CallersFrames(t.PC[:t.n])
	var buf strings.Builder
	for {
		frame, more := frames.Next()
		if frame.PC != 0 && !d.hide(frame.Function) {
			fmt.Fprintf(&buf, "  %s()\n", frame.Function)
			fmt.Fprintf(&buf, "      %s:%d\n", frame.File, frame.Line)
		}
		if !more {
			break
		}
	}

	if buf.Len() == 0 {
		return "  <vm internal>\n"
	}
	return buf.String()
}

// Len returns the number of unique traces stored.
func (d *Depot) Len() int {
	n := 0
	d.traces.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (d *Depot) hide(fn string) bool {
	for _, p := range d.hidden {
		if strings.HasPrefix(fn, p) {
			return true
		}
	}
	return false
}

// hashStack computes the FNV-1a hash of program counters.
// A zero hash is remapped so that 0 always means "not captured".
func hashStack(pcs []uintptr) uint64 {
	h := fnv.New64a()
	var b [8]byte
	for _, pc := range pcs {
		binary.LittleEndian.PutUint64(b[:], uint64(pc))
		_, _ = h.Write(b[:])
	}
	if s := h.Sum64(); s != 0 {
		return s
	}
	return 1
}
