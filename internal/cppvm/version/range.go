package version

import "strconv"

// Range is a half-open byte interval [Begin, End) inside a storage block.
type Range struct {
	Begin uint64
	End   uint64
}

// NewRange returns the range covering size bytes starting at offset.
func NewRange(offset, size uint64) Range {
	return Range{Begin: offset, End: offset + size}
}

// Len returns the number of bytes in r.
func (r Range) Len() uint64 {
	if r.End <= r.Begin {
		return 0
	}
	return r.End - r.Begin
}

// Empty reports whether r covers no bytes.
func (r Range) Empty() bool {
	return r.End <= r.Begin
}

// Intersects reports whether r and other share at least one byte.
//
// Two ranges intersect iff r.Begin < other.End && other.Begin < r.End.
// Empty ranges intersect nothing.
func (r Range) Intersects(other Range) bool {
	if r.Empty() || other.Empty() {
		return false
	}
	return r.Begin < other.End && other.Begin < r.End
}

// Contains reports whether other lies entirely inside r.
func (r Range) Contains(other Range) bool {
	return r.Begin <= other.Begin && other.End <= r.End
}

// Intersection returns the overlap of r and other.
// The result is empty when they do not intersect.
func (r Range) Intersection(other Range) Range {
	out := Range{Begin: max(r.Begin, other.Begin), End: min(r.End, other.End)}
	if out.End < out.Begin {
		out.End = out.Begin
	}
	return out
}

// String returns "[begin,end)".
func (r Range) String() string {
	return "[" + strconv.FormatUint(r.Begin, 10) + "," + strconv.FormatUint(r.End, 10) + ")"
}
