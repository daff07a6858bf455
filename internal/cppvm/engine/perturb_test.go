package engine

import (
	"testing"
	"time"

	"github.com/kolkov/lfas/internal/cppvm/thread"
)

func TestPerturbationDefaults(t *testing.T) {
	got := NewPerturber(Perturbation{}).Config()
	if got.YieldProbability != DefaultYieldProbability {
		t.Errorf("YieldProbability = %v, want %v", got.YieldProbability, DefaultYieldProbability)
	}
	if got.PauseProbability != DefaultPauseProbability {
		t.Errorf("PauseProbability = %v, want %v", got.PauseProbability, DefaultPauseProbability)
	}
	if got.MaxPause != DefaultMaxPause {
		t.Errorf("MaxPause = %v, want %v", got.MaxPause, DefaultMaxPause)
	}
}

func TestPerturberPoint(t *testing.T) {
	tests := []struct {
		name   string
		config Perturbation
		want   PerturbStats
	}{
		{"disabled", Perturbation{Disabled: true}, PerturbStats{}},
		{"always yield", Perturbation{YieldProbability: 1, PauseProbability: -1}, PerturbStats{Points: 100, Yields: 100}},
		{"always pause", Perturbation{YieldProbability: -1, PauseProbability: 1, MaxPause: time.Microsecond}, PerturbStats{Points: 100, Pauses: 100}},
		{"silent", Perturbation{YieldProbability: -1, PauseProbability: -1}, PerturbStats{Points: 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPerturber(tt.config)
			ctx := thread.Alloc(1, "t", 1)
			for range 100 {
				p.Point(ctx)
			}
			if got := p.Stats(); got != tt.want {
				t.Errorf("Stats() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPerturberRate(t *testing.T) {
	p := NewPerturber(Perturbation{YieldProbability: 0.5, PauseProbability: -1})
	ctx := thread.Alloc(1, "t", 7)
	const n = 10000
	for range n {
		p.Point(ctx)
	}
	s := p.Stats()
	if s.Yields < n*4/10 || s.Yields > n*6/10 {
		t.Errorf("Yields = %d of %d, want about half", s.Yields, n)
	}
}
