package memrange

import (
	"maps"
	"slices"

	"github.com/kolkov/lfas/internal/cppvm/relclock"
	"github.com/kolkov/lfas/internal/cppvm/version"
)

// readMark records the last read of a piece by one thread.
type readMark struct {
	epoch   uint64          // Reader's release epoch at the time of the read.
	version version.Version // Version the reader observed.
	stack   uint64          // Stack depot id of the read, 0 if not captured.
}

// VersionedRange is one piece of a storage block with uniform history.
//
// Invariant: latest < versionCounter, and globalVersion is either Undefined
// or a version not newer than latest.
type VersionedRange struct {
	version.Range

	versionCounter version.Version
	globalVersion  version.Version
	latest         version.Version
	lastWriter     version.ThreadID
	writeStack     uint64

	unavailable map[version.ThreadID]version.Version
	visible     map[version.ThreadID]version.Version
	readers     map[version.ThreadID]readMark
}

// newVersionedRange creates a piece that has never been written.
// Its initial content is visible to every thread.
func newVersionedRange(r version.Range) *VersionedRange {
	return &VersionedRange{
		Range:          r,
		versionCounter: version.InitialVersion + 1,
		globalVersion:  version.InitialVersion,
		latest:         version.InitialVersion,
		lastWriter:     version.NoThread,
	}
}

// clone returns a deep copy of the piece restricted to r.
func (p *VersionedRange) clone(r version.Range) *VersionedRange {
	out := *p
	out.Range = r
	out.unavailable = maps.Clone(p.unavailable)
	out.visible = maps.Clone(p.visible)
	out.readers = maps.Clone(p.readers)
	return &out
}

// sameState reports whether p and other carry identical history, so that
// adjacent pieces can be merged.
func (p *VersionedRange) sameState(other *VersionedRange) bool {
	return p.versionCounter == other.versionCounter &&
		p.globalVersion == other.globalVersion &&
		p.latest == other.latest &&
		p.lastWriter == other.lastWriter &&
		p.writeStack == other.writeStack &&
		maps.Equal(p.unavailable, other.unavailable) &&
		maps.Equal(p.visible, other.visible) &&
		maps.Equal(p.readers, other.readers)
}

// VersionCounter returns the next version to be assigned.
func (p *VersionedRange) VersionCounter() version.Version { return p.versionCounter }

// GlobalVersion returns the last released version, or Undefined.
func (p *VersionedRange) GlobalVersion() version.Version { return p.globalVersion }

// Latest returns the version of the latest write.
func (p *VersionedRange) Latest() version.Version { return p.latest }

// LastWriter returns the thread of the latest write, or NoThread.
func (p *VersionedRange) LastWriter() version.ThreadID { return p.lastWriter }

// Unavailable returns tid's pending (unreleased) version, if any.
func (p *VersionedRange) Unavailable(tid version.ThreadID) (version.Version, bool) {
	v, ok := p.unavailable[tid]
	return v, ok
}

// Visible returns the highest version tid has acquired on this piece.
func (p *VersionedRange) Visible(tid version.ThreadID) version.Version {
	return p.visible[tid]
}

// HasPending reports whether any thread holds an unreleased write.
func (p *VersionedRange) HasPending() bool {
	return len(p.unavailable) > 0
}

// visibleTo reports whether the latest write may be observed by tid.
func (p *VersionedRange) visibleTo(tid version.ThreadID) bool {
	return p.lastWriter == tid ||
		p.latest == version.InitialVersion ||
		p.latest <= p.visible[tid]
}

// write applies a write by a.Thread and returns the conflicts it raises.
func (p *VersionedRange) write(a Access) []Conflict {
	var out []Conflict

	// Another thread's value still sits in its store buffer.
	pending := false
	for _, u := range sortedKeys(p.unavailable) {
		if u == a.Thread {
			continue
		}
		pending = true
		out = append(out, p.conflict(WriteWrite, PendingWrite, a, u, p.unavailable[u], p.stackOf(u)))
	}

	// The latest write was released but never acquired by this thread.
	if !pending && !p.visibleTo(a.Thread) {
		out = append(out, p.conflict(WriteWrite, NotAcquired, a, p.lastWriter, p.latest, p.writeStack))
	}

	// Reads that are not ordered before this write.
	for _, u := range sortedKeys(p.readers) {
		m := p.readers[u]
		if u == a.Thread || acquiredFrom(a.Acquired, u) >= m.epoch {
			continue
		}
		out = append(out, p.conflict(ReadWrite, UnorderedRead, a, u, m.version, m.stack))
	}

	v := p.versionCounter
	p.versionCounter++
	p.latest = v
	p.lastWriter = a.Thread
	p.writeStack = a.Stack
	p.globalVersion = version.Undefined
	p.readers = nil

	if p.unavailable == nil {
		p.unavailable = make(map[version.ThreadID]version.Version)
	}
	p.unavailable[a.Thread] = v
	p.setVisible(a.Thread, v)

	for i := range out {
		out[i].Version = v
	}
	return out
}

// read applies a read by a.Thread and returns the conflicts it raises.
func (p *VersionedRange) read(a Access) []Conflict {
	var out []Conflict

	if !p.visibleTo(a.Thread) {
		reason := NotAcquired
		if v, ok := p.unavailable[p.lastWriter]; ok && v == p.latest {
			reason = PendingWrite
		}
		c := p.conflict(WriteRead, reason, a, p.lastWriter, p.latest, p.writeStack)
		c.Version = p.latest
		out = append(out, c)
	}

	if p.readers == nil {
		p.readers = make(map[version.ThreadID]readMark)
	}
	m := p.readers[a.Thread]
	p.readers[a.Thread] = readMark{epoch: max(a.Epoch, m.epoch), version: p.latest, stack: a.Stack}
	return out
}

// acquire makes the published version visible to tid.
func (p *VersionedRange) acquire(tid version.ThreadID) {
	if p.globalVersion.IsDefined() && p.globalVersion > p.visible[tid] {
		p.setVisible(tid, p.globalVersion)
	}
}

// release publishes tid's pending version. A pending version that was
// overwritten by a later write is dropped without being published.
func (p *VersionedRange) release(tid version.ThreadID) {
	v, ok := p.unavailable[tid]
	if !ok {
		return
	}
	delete(p.unavailable, tid)
	if len(p.unavailable) == 0 {
		p.unavailable = nil
	}
	if v == p.latest {
		p.globalVersion = v
	}
}

func (p *VersionedRange) setVisible(tid version.ThreadID, v version.Version) {
	if p.visible == nil {
		p.visible = make(map[version.ThreadID]version.Version)
	}
	p.visible[tid] = v
}

func (p *VersionedRange) stackOf(tid version.ThreadID) uint64 {
	if tid == p.lastWriter {
		return p.writeStack
	}
	return 0
}

func (p *VersionedRange) conflict(k Kind, why Reason, a Access, prev version.ThreadID, prevVersion version.Version, prevStack uint64) Conflict {
	return Conflict{
		Kind:        k,
		Reason:      why,
		Range:       p.Range,
		Thread:      a.Thread,
		PrevThread:  prev,
		PrevVersion: prevVersion,
		PrevStack:   prevStack,
	}
}

func acquiredFrom(c *relclock.Clock, tid version.ThreadID) uint64 {
	if c == nil {
		return 0
	}
	return c.Get(tid)
}

func sortedKeys[V any](m map[version.ThreadID]V) []version.ThreadID {
	if len(m) == 0 {
		return nil
	}
	return slices.Sorted(maps.Keys(m))
}
