package suites

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/kolkov/lfas/internal/sweep"
)

func TestSuites(t *testing.T) {
	for _, s := range All() {
		t.Run(s.Name, func(t *testing.T) {
			sum, err := sweep.Run(context.Background(), sweep.Options{
				Seeds:  10,
				Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
			}, s.Build)
			if err != nil {
				t.Fatalf("Run error: %v", err)
			}
			if r, ok := sum.FirstFailed(); ok {
				t.Fatalf("seed %d failed: %v", r.Seed, r.Err)
			}
			if s.ExpectRace {
				if sum.Racy != sum.Runs {
					t.Errorf("%d of %d runs racy, want all", sum.Racy, sum.Runs)
				}
			} else {
				if sum.Racy != 0 {
					r, _ := sum.FirstRacy()
					t.Errorf("%d of %d runs racy, want none; seed %d: %s", sum.Racy, sum.Runs, r.Seed, r.Races[0].Summary())
				}
				if sum.Leaky != 0 {
					t.Errorf("%d runs leaked", sum.Leaky)
				}
			}
		})
	}
}

func TestLookup(t *testing.T) {
	for _, name := range Names() {
		s, ok := Lookup(name)
		if !ok || s.Name != name {
			t.Errorf("Lookup(%q) = %q, %v", name, s.Name, ok)
		}
	}
	if _, ok := Lookup("nope"); ok {
		t.Error("Lookup(nope) succeeded")
	}
}
