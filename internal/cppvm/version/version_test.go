package version

import "testing"

// TestVersionString verifies the debug representation of versions.
func TestVersionString(t *testing.T) {
	tests := []struct {
		v    Version
		want string
	}{
		{InitialVersion, "v0"},
		{42, "v42"},
		{Undefined, "undefined"},
	}

	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("Version(%d).String() = %q, want %q", uint64(tt.v), got, tt.want)
		}
	}

	if Undefined.IsDefined() {
		t.Error("Undefined.IsDefined() = true, want false")
	}
	if !InitialVersion.IsDefined() {
		t.Error("InitialVersion.IsDefined() = false, want true")
	}
}

// TestThreadIDString verifies the reserved thread names.
func TestThreadIDString(t *testing.T) {
	if got := MainThread.String(); got != "main" {
		t.Errorf("MainThread.String() = %q, want main", got)
	}
	if got := NoThread.String(); got != "none" {
		t.Errorf("NoThread.String() = %q, want none", got)
	}
	if got := ThreadID(7).String(); got != "T7" {
		t.Errorf("ThreadID(7).String() = %q, want T7", got)
	}
}

// TestRangeIntersects checks the half-open intersection rule.
func TestRangeIntersects(t *testing.T) {
	tests := []struct {
		name string
		a, b Range
		want bool
	}{
		{"identical", Range{0, 8}, Range{0, 8}, true},
		{"overlap", Range{0, 8}, Range{4, 12}, true},
		{"contained", Range{0, 16}, Range{4, 8}, true},
		{"adjacent", Range{0, 4}, Range{4, 8}, false},
		{"disjoint", Range{0, 4}, Range{8, 12}, false},
		{"empty left", Range{4, 4}, Range{0, 8}, false},
		{"empty right", Range{0, 8}, Range{3, 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Intersects(tt.b); got != tt.want {
				t.Errorf("%v.Intersects(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := tt.b.Intersects(tt.a); got != tt.want {
				t.Errorf("%v.Intersects(%v) = %v, want %v (symmetry)", tt.b, tt.a, got, tt.want)
			}
		})
	}
}

// TestRangeIntersection checks overlap computation and empty results.
func TestRangeIntersection(t *testing.T) {
	got := Range{0, 8}.Intersection(Range{4, 12})
	if got != (Range{4, 8}) {
		t.Errorf("Intersection = %v, want [4,8)", got)
	}

	got = Range{0, 4}.Intersection(Range{8, 12})
	if !got.Empty() {
		t.Errorf("Intersection of disjoint ranges = %v, want empty", got)
	}

	if NewRange(8, 4) != (Range{8, 12}) {
		t.Errorf("NewRange(8, 4) = %v, want [8,12)", NewRange(8, 4))
	}
	if n := NewRange(3, 0).Len(); n != 0 {
		t.Errorf("zero-size range Len() = %d, want 0", n)
	}
	if !(Range{0, 16}).Contains(Range{4, 8}) {
		t.Error("[0,16) should contain [4,8)")
	}
}
