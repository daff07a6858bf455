package litmus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/kolkov/lfas/cppvm"
	"github.com/kolkov/lfas/internal/sweep"
)

func sweepOptions() sweep.Options {
	return sweep.Options{
		Seeds:  8,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestLoad(t *testing.T) {
	lt, err := Load("testdata/mp.lua")
	if err != nil {
		t.Fatal(err)
	}
	if lt.Name != "mp.lua" {
		t.Errorf("Name = %q", lt.Name)
	}
	if lt.ExpectRace == nil || *lt.ExpectRace {
		t.Errorf("ExpectRace = %v, want false", lt.ExpectRace)
	}
	if lt.RequireVersion != "v0.1.0" {
		t.Errorf("RequireVersion = %q", lt.RequireVersion)
	}
	if len(lt.Storages) != 1 || lt.Storages[0] != (Decl{"data", 8}) {
		t.Errorf("Storages = %v", lt.Storages)
	}
	if len(lt.Atomics) != 1 || lt.Atomics[0] != (Decl{"flag", 0}) {
		t.Errorf("Atomics = %v", lt.Atomics)
	}
	if strings.Join(lt.Threads, ",") != "writer,reader" {
		t.Errorf("Threads = %v", lt.Threads)
	}
}

func TestRunFiles(t *testing.T) {
	for _, name := range []string{"mp.lua", "mp_relaxed.lua", "fence.lua"} {
		t.Run(name, func(t *testing.T) {
			lt, err := Load("testdata/" + name)
			if err != nil {
				t.Fatal(err)
			}
			s, err := Run(context.Background(), lt, sweepOptions())
			if err != nil {
				t.Fatalf("Run error: %v", err)
			}
			if s.Runs != 8 {
				t.Errorf("Runs = %d, want 8", s.Runs)
			}
		})
	}
}

func TestVerdictMismatch(t *testing.T) {
	src := `
expect_race(false)
local x = storage("x", 4)
thread("a", function(t) t.write(x, 0, 4) end)
thread("b", function(t) t.write(x, 0, 4) end)
`
	lt, err := Parse("ww", src)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Run(context.Background(), lt, sweepOptions())
	if err == nil || !strings.Contains(err.Error(), "expected no race") {
		t.Errorf("Run error = %v, want expected no race", err)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name, src, want string
	}{
		{"no threads", `storage("x", 4)`, "no threads"},
		{"zero size", `storage("x") thread("a", function(t) end)`, "positive size"},
		{"duplicate", `storage("x", 4) atomic("x") thread("a", function(t) end)`, "already declared"},
		{"duplicate thread", `thread("a", function(t) end) thread("a", function(t) end)`, "already declared"},
		{"bad version", `require_version("1.0")`, "not a semantic version"},
		{"future version", `require_version("v99.0.0")`, "test needs v99.0.0"},
		{"syntax", `thread(`, "litmus syntax"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.name, tt.src)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestUsageErrorInThread(t *testing.T) {
	src := `
local x = storage("x", 4)
thread("a", function(t) t.read(x, 2, 4) end)
`
	lt, err := Parse("oob", src)
	if err != nil {
		t.Fatal(err)
	}
	s, err := sweep.Run(context.Background(), sweepOptions(), lt.Build)
	if err != nil {
		t.Fatal(err)
	}
	r, ok := s.FirstFailed()
	if !ok {
		t.Fatal("no failed seed")
	}
	var ue *cppvm.UsageError
	if !errors.As(r.Err, &ue) || !errors.Is(r.Err, cppvm.ErrOutOfBounds) {
		t.Errorf("Err = %v, want *UsageError wrapping ErrOutOfBounds", r.Err)
	}
}

func TestLuaErrorInThread(t *testing.T) {
	src := `
local a = atomic("a")
thread("a", function(t) t.load(a, "sideways") end)
`
	lt, err := Parse("badorder", src)
	if err != nil {
		t.Fatal(err)
	}
	s, err := sweep.Run(context.Background(), sweepOptions(), lt.Build)
	if err != nil {
		t.Fatal(err)
	}
	r, ok := s.FirstFailed()
	if !ok {
		t.Fatal("no failed seed")
	}
	var pe *cppvm.PanicError
	if !errors.As(r.Err, &pe) || !strings.Contains(pe.Error(), "sideways") {
		t.Errorf("Err = %v, want *PanicError mentioning the order", r.Err)
	}
}

func TestUsageErrorStopsSpinningThread(t *testing.T) {
	src := `
local x = storage("x", 4)
thread("bad", function(t) t.read(x, 2, 4) end)
thread("spin", function(t)
	while true do
		t.yield()
	end
end)
`
	lt, err := Parse("spin", src)
	if err != nil {
		t.Fatal(err)
	}
	opts := sweepOptions()
	opts.Seeds = 2
	opts.Timeout = 5 * time.Second
	s, err := sweep.Run(context.Background(), opts, lt.Build)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range s.Results {
		var ue *cppvm.UsageError
		if !errors.As(r.Err, &ue) || !errors.Is(r.Err, cppvm.ErrOutOfBounds) {
			t.Errorf("seed %d: Err = %v, want *UsageError wrapping ErrOutOfBounds", r.Seed, r.Err)
		}
		var te *cppvm.TimeoutError
		if errors.As(r.Err, &te) {
			t.Errorf("seed %d: run timed out", r.Seed)
		}
		if r.Duration >= opts.Timeout {
			t.Errorf("seed %d: run took %v", r.Seed, r.Duration)
		}
	}
}

func TestBuildFailureDestroysObjects(t *testing.T) {
	src := `
local d = storage("d", 8)
local a = atomic("a")
local b = atomic("b")
thread("t", function(t) end)
`
	lt, err := Parse("partial", src)
	if err != nil {
		t.Fatal(err)
	}

	errCreate := errors.New("no more atomics")
	created := 0
	newAtomic = func(vm *cppvm.VM, name string, init uint64) (*cppvm.Atomic[uint64], error) {
		if created == 1 {
			return nil, errCreate
		}
		created++
		return cppvm.NewAtomic(vm, name, init)
	}
	defer func() { newAtomic = cppvm.NewAtomic[uint64] }()

	vm, err := cppvm.New(cppvm.Config{Output: io.Discard})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lt.Build(vm); !errors.Is(err, errCreate) {
		t.Fatalf("Build error = %v, want %v", err, errCreate)
	}
	if err := vm.CheckForUncommittedChanges(); err != nil {
		t.Errorf("CheckForUncommittedChanges after failed Build = %v", err)
	}
	if err := vm.Close(); err != nil {
		t.Errorf("Close error = %v", err)
	}
}

func TestCheckVersion(t *testing.T) {
	if err := checkVersion("v" + cppvm.Version); err != nil {
		t.Errorf("checkVersion(current) = %v", err)
	}
	if err := checkVersion("v0.0.1"); err != nil {
		t.Errorf("checkVersion(v0.0.1) = %v", err)
	}
}
