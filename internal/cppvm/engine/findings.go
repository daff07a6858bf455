package engine

import (
	"github.com/kolkov/lfas/internal/cppvm/memrange"
	"github.com/kolkov/lfas/internal/cppvm/registry"
	"github.com/kolkov/lfas/internal/cppvm/version"
)

// record turns tracker conflicts into reports, drops duplicates and prints
// the new ones. It returns the new reports.
func (e *Engine) record(conflicts []memrange.Conflict, name string, h registry.Handle, stack uint64) []*RaceReport {
	if len(conflicts) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var fresh []*RaceReport
	for _, c := range conflicts {
		r := newRaceReport(c, name, h, stack, e.threadNameLocked)
		if _, dup := e.reported[r.DeduplicationKey]; dup {
			continue
		}
		e.reported[r.DeduplicationKey] = struct{}{}
		e.races = append(e.races, r)
		fresh = append(fresh, r)

		r.Format(e.out, e.formatStack)
		e.log.Debug("cppvm", "action", "race",
			"kind", r.Kind.String(), "reason", r.Reason.String(),
			"storage", name, "range", r.Range.String(),
			"thread", r.Current.Thread.String(), "previous", r.Previous.Thread.String())
	}
	return fresh
}

func (e *Engine) threadNameLocked(tid version.ThreadID) string {
	return e.names[tid]
}

func (e *Engine) formatStack(id uint64) string {
	if e.depot == nil {
		return "  (no stack trace captured)\n"
	}
	return e.depot.Format(id)
}

// Races returns the unique races found so far, in detection order.
func (e *Engine) Races() []*RaceReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*RaceReport, len(e.races))
	copy(out, e.races)
	return out
}

// RacesDetected returns the number of unique races found so far.
func (e *Engine) RacesDetected() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.races)
}

// PendingWrite is a write that no fence has released.
type PendingWrite struct {
	Storage string
	Handle  registry.Handle
	memrange.Pending
}

// Uncommitted lists the pending writes of every live storage, in slot
// order.
func (e *Engine) Uncommitted() []PendingWrite {
	var out []PendingWrite
	e.Storages.Each(func(h registry.Handle, s *registry.Storage) {
		for _, p := range s.Tracker.Uncommitted() {
			out = append(out, PendingWrite{Storage: s.Name, Handle: h, Pending: p})
		}
	})
	return out
}

// LiveObject names a registry entry that was never destroyed.
type LiveObject struct {
	Name   string
	Handle registry.Handle
}

// LiveAtomics lists atomics that were created and not destroyed.
func (e *Engine) LiveAtomics() []LiveObject {
	var out []LiveObject
	e.Atomics.Each(func(h registry.Handle, a *registry.Atomic) {
		out = append(out, LiveObject{Name: a.Name, Handle: h})
	})
	return out
}

// LiveStorages lists storages that were created and not destroyed.
func (e *Engine) LiveStorages() []LiveObject {
	var out []LiveObject
	e.Storages.Each(func(h registry.Handle, s *registry.Storage) {
		out = append(out, LiveObject{Name: s.Name, Handle: h})
	})
	return out
}
