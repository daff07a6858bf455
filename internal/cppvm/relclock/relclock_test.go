package relclock

import (
	"testing"

	"github.com/kolkov/lfas/internal/cppvm/version"
)

// TestNew verifies a fresh clock is empty.
func TestNew(t *testing.T) {
	vc := New()
	if vc.Len() != 0 {
		t.Errorf("Len() = %d, want 0", vc.Len())
	}
	if got := vc.Get(12); got != 0 {
		t.Errorf("Get(12) on empty clock = %d, want 0", got)
	}
	if got := vc.String(); got != "{}" {
		t.Errorf("String() = %q, want {}", got)
	}
}

// TestIncrementGrows verifies Increment allocates missing slots.
func TestIncrementGrows(t *testing.T) {
	vc := New()
	if got := vc.Increment(3); got != 1 {
		t.Errorf("Increment(3) = %d, want 1", got)
	}
	if got := vc.Increment(3); got != 2 {
		t.Errorf("Increment(3) = %d, want 2", got)
	}
	if vc.Len() != 4 {
		t.Errorf("Len() = %d, want 4", vc.Len())
	}
	if got := vc.String(); got != "{T3:2}" {
		t.Errorf("String() = %q, want {T3:2}", got)
	}
}

// TestJoin verifies point-wise maximum, including clocks of different length.
func TestJoin(t *testing.T) {
	a := New()
	a.Set(version.MainThread, 5)
	a.Set(1, 1)

	b := New()
	b.Set(1, 4)
	b.Set(3, 2)

	a.Join(b)

	want := map[version.ThreadID]uint64{0: 5, 1: 4, 2: 0, 3: 2}
	for tid, w := range want {
		if got := a.Get(tid); got != w {
			t.Errorf("after Join, Get(%v) = %d, want %d", tid, got, w)
		}
	}

	if !b.LessOrEqual(a) {
		t.Error("b should be <= a after a.Join(b)")
	}
	if a.LessOrEqual(b) {
		t.Error("a should not be <= b")
	}
}

// TestClone verifies Clone is independent of the original.
func TestClone(t *testing.T) {
	a := New()
	a.Set(2, 7)

	c := a.Clone()
	c.Increment(2)

	if a.Get(2) != 7 {
		t.Errorf("original changed after clone mutation: %d", a.Get(2))
	}
	if c.Get(2) != 8 {
		t.Errorf("clone Get(2) = %d, want 8", c.Get(2))
	}
}
