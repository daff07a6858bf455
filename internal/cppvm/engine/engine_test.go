package engine

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/kolkov/lfas/internal/cppvm/memrange"
	"github.com/kolkov/lfas/internal/cppvm/registry"
	"github.com/kolkov/lfas/internal/cppvm/thread"
	"github.com/kolkov/lfas/internal/cppvm/version"
)

func newTestEngine(t *testing.T) (*Engine, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	e := New(Options{
		Perturbation: Perturbation{Disabled: true},
		Output:       &out,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return e, &out
}

func newStorage(t *testing.T, e *Engine, name string, size uint64) registry.Handle {
	t.Helper()
	var h registry.Handle
	if err := e.StorageCreate(&h, name, size); err != nil {
		t.Fatalf("StorageCreate error: %v", err)
	}
	return h
}

func threads(e *Engine, names ...string) []*thread.Context {
	out := make([]*thread.Context, len(names))
	for i, n := range names {
		out[i] = thread.Alloc(version.ThreadID(i+1), n, uint64(i))
		e.RegisterThread(out[i])
	}
	return out
}

// TestMessagePassing verifies release/acquire orders a write before a read.
func TestMessagePassing(t *testing.T) {
	e, out := newTestEngine(t)
	h := newStorage(t, e, "data", 8)
	ts := threads(e, "writer", "reader")

	if _, err := e.Write(ts[0], h, 0, 8); err != nil {
		t.Fatal(err)
	}
	e.FenceRelease(ts[0])
	e.FenceAcquire(ts[1])

	races, err := e.Read(ts[1], h, 0, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(races) != 0 || e.RacesDetected() != 0 {
		t.Errorf("races = %d, want 0\n%s", e.RacesDetected(), out)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected output:\n%s", out)
	}
}

// TestMissingAcquire verifies a read without acquire is reported once.
func TestMissingAcquire(t *testing.T) {
	e, out := newTestEngine(t)
	h := newStorage(t, e, "data", 8)
	ts := threads(e, "writer", "reader")

	_, _ = e.Write(ts[0], h, 0, 8)
	e.FenceRelease(ts[0])

	races, err := e.Read(ts[1], h, 0, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(races) != 1 {
		t.Fatalf("got %d races, want 1", len(races))
	}
	r := races[0]
	if r.Kind != memrange.WriteRead || r.Reason != memrange.NotAcquired {
		t.Errorf("race = %v/%v, want write-read/release not acquired", r.Kind, r.Reason)
	}
	if r.Current.ThreadName != "reader" || r.Previous.ThreadName != "writer" {
		t.Errorf("thread names = %q/%q", r.Current.ThreadName, r.Previous.ThreadName)
	}

	// Same race again is deduplicated.
	if again, _ := e.Read(ts[1], h, 0, 8); len(again) != 0 {
		t.Errorf("duplicate race reported %d times", len(again))
	}
	if e.RacesDetected() != 1 {
		t.Errorf("RacesDetected() = %d, want 1", e.RacesDetected())
	}

	text := out.String()
	if strings.Count(text, "WARNING: DATA RACE") != 1 {
		t.Errorf("output should contain exactly one report:\n%s", text)
	}
	if !strings.Contains(text, `Read of [0,8) in "data" by thread T2 (reader)`) {
		t.Errorf("output missing current access line:\n%s", text)
	}
	if !strings.Contains(text, `Previous write of [0,8) in "data" by thread T1 (writer)`) {
		t.Errorf("output missing previous access line:\n%s", text)
	}
}

// TestConcurrentWrites verifies unordered writes always race.
func TestConcurrentWrites(t *testing.T) {
	e, _ := newTestEngine(t)
	h := newStorage(t, e, "x", 4)
	ts := threads(e, "a", "b")

	_, _ = e.Write(ts[0], h, 0, 4)
	races, _ := e.Write(ts[1], h, 0, 4)
	if len(races) != 1 || races[0].Kind != memrange.WriteWrite {
		t.Fatalf("races = %v, want one write-write", races)
	}
	if races[0].Current.Type != AccessWrite || races[0].Previous.Type != AccessWrite {
		t.Errorf("access types = %v/%v", races[0].Current.Type, races[0].Previous.Type)
	}
}

// TestReadThenWrite verifies a write must be ordered after earlier reads.
func TestReadThenWrite(t *testing.T) {
	e, _ := newTestEngine(t)
	h := newStorage(t, e, "x", 4)
	ts := threads(e, "reader", "writer")

	_, _ = e.Read(ts[0], h, 0, 4)
	races, _ := e.Write(ts[1], h, 0, 4)
	if len(races) != 1 || races[0].Kind != memrange.ReadWrite {
		t.Fatalf("races = %v, want one read-write", races)
	}

	// Ordered: reader releases after the read, writer acquires first.
	e2, _ := newTestEngine(t)
	h2 := newStorage(t, e2, "x", 4)
	ts2 := threads(e2, "reader", "writer")
	_, _ = e2.Read(ts2[0], h2, 0, 4)
	e2.FenceRelease(ts2[0])
	e2.FenceAcquire(ts2[1])
	if races, _ := e2.Write(ts2[1], h2, 0, 4); len(races) != 0 {
		t.Errorf("ordered read/write raced: %v", races)
	}
}

// TestPublishReads verifies joined threads' reads are ordered before the
// joiner's writes, while their writes stay pending.
func TestPublishReads(t *testing.T) {
	e, _ := newTestEngine(t)
	h := newStorage(t, e, "x", 8)
	ts := threads(e, "script")
	harness := thread.Alloc(0, "main", 0)

	_, _ = e.Read(ts[0], h, 0, 4)
	_, _ = e.Write(ts[0], h, 4, 4)
	e.PublishReads(ts[0])
	e.FenceAcquire(harness)

	if races, _ := e.Write(harness, h, 0, 4); len(races) != 0 {
		t.Errorf("write after join raced with joined read: %v", races)
	}
	if got := e.Uncommitted(); len(got) != 1 || got[0].Thread != ts[0].ID {
		t.Errorf("Uncommitted() = %+v, want the script's write", got)
	}
}

// TestAcquireReleaseFence verifies acq_rel both receives and publishes.
func TestAcquireReleaseFence(t *testing.T) {
	e, _ := newTestEngine(t)
	h := newStorage(t, e, "x", 8)
	ts := threads(e, "a", "b", "c")

	_, _ = e.Write(ts[0], h, 0, 8)
	e.FenceRelease(ts[0])

	// b forwards a's write and its own.
	e.FenceAcquireRelease(ts[1])
	_, _ = e.Write(ts[1], h, 0, 4)
	e.Fence(ts[1], FenceAcquireRelease)

	e.Fence(ts[2], FenceAcquire)
	if races, _ := e.Read(ts[2], h, 0, 8); len(races) != 0 {
		t.Errorf("chained acq_rel raced: %v", races)
	}
}

// TestRelaxedFenceOrdersNothing verifies relaxed fences have no effect.
func TestRelaxedFenceOrdersNothing(t *testing.T) {
	e, _ := newTestEngine(t)
	h := newStorage(t, e, "x", 8)
	ts := threads(e, "a", "b")

	_, _ = e.Write(ts[0], h, 0, 8)
	e.Fence(ts[0], FenceRelaxed)
	e.Fence(ts[1], FenceRelaxed)
	if races, _ := e.Read(ts[1], h, 0, 8); len(races) != 1 {
		t.Errorf("got %d races, want 1", len(races))
	}
}

// TestStorageLifecycle verifies usage errors on storage handles.
func TestStorageLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)
	h := newStorage(t, e, "buf", 8)
	ts := threads(e, "a")

	if err := e.StorageCreate(&h, "buf", 8); !errors.Is(err, registry.ErrAlreadyLive) {
		t.Errorf("double create error = %v, want ErrAlreadyLive", err)
	}
	if _, err := e.Write(ts[0], h, 4, 8); !errors.Is(err, memrange.ErrOutOfBounds) {
		t.Errorf("out of bounds error = %v, want ErrOutOfBounds", err)
	}

	_, _ = e.Write(ts[0], h, 0, 8)
	if err := e.StorageDestroy(h); !errors.Is(err, registry.ErrUncommitted) {
		t.Fatalf("destroy with pending write error = %v, want ErrUncommitted", err)
	}

	e.FenceRelease(ts[0])
	if err := e.StorageDestroy(h); err != nil {
		t.Fatalf("destroy after release error: %v", err)
	}
	if _, err := e.Read(ts[0], h, 0, 8); !errors.Is(err, registry.ErrNotLive) {
		t.Errorf("read after destroy error = %v, want ErrNotLive", err)
	}
	if err := e.StorageDestroy(h); !errors.Is(err, registry.ErrNotLive) {
		t.Errorf("double destroy error = %v, want ErrNotLive", err)
	}
}

// TestAtomicLifecycle verifies usage errors on atomic handles.
func TestAtomicLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)

	var h registry.Handle
	if err := e.CheckAtomic(h); !errors.Is(err, registry.ErrNotLive) {
		t.Errorf("CheckAtomic(zero) error = %v, want ErrNotLive", err)
	}
	if err := e.AtomicCreate(&h, "flag"); err != nil {
		t.Fatal(err)
	}
	if err := e.AtomicCreate(&h, "flag"); !errors.Is(err, registry.ErrAlreadyLive) {
		t.Errorf("double create error = %v, want ErrAlreadyLive", err)
	}
	if got := e.LiveAtomics(); len(got) != 1 || got[0].Name != "flag" {
		t.Errorf("LiveAtomics() = %v", got)
	}
	if err := e.AtomicDestroy(h); err != nil {
		t.Fatal(err)
	}
	if err := e.CheckAtomic(h); !errors.Is(err, registry.ErrNotLive) {
		t.Errorf("CheckAtomic after destroy error = %v, want ErrNotLive", err)
	}
}

// TestGlobalLockExclusion verifies seq_cst sections never overlap.
func TestGlobalLockExclusion(t *testing.T) {
	e, _ := newTestEngine(t)

	var (
		wg     sync.WaitGroup
		inside int
		maxIn  int
		mu     sync.Mutex
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				l := e.GlobalLock(true)
				mu.Lock()
				inside++
				maxIn = max(maxIn, inside)
				mu.Unlock()

				mu.Lock()
				inside--
				mu.Unlock()
				l.Unlock()
			}
		}()
	}
	wg.Wait()

	if maxIn != 1 {
		t.Errorf("max concurrent seq_cst sections = %d, want 1", maxIn)
	}
}

// TestScopedLock verifies the no-op lock and idempotent Unlock.
func TestScopedLock(t *testing.T) {
	e, _ := newTestEngine(t)

	l := e.GlobalLock(false)
	if l.Held() {
		t.Error("non seq_cst lock should hold nothing")
	}
	l.Unlock()

	l = e.GlobalLock(true)
	if !l.Held() {
		t.Error("seq_cst lock not held")
	}
	l.Unlock()
	l.Unlock()

	// The lock is free again.
	l2 := e.GlobalLock(true)
	l2.Unlock()
}

// TestSpuriousFailure verifies the configured failure rate bounds.
func TestSpuriousFailure(t *testing.T) {
	ctx := thread.Alloc(1, "t", 9)

	off := New(Options{DisableSpuriousFailures: true, Output: io.Discard})
	for i := 0; i < 1000; i++ {
		if off.SpuriousFailure(ctx) {
			t.Fatal("spurious failure while disabled")
		}
	}

	always := New(Options{SpuriousFailureOneIn: 1, Output: io.Discard})
	for i := 0; i < 100; i++ {
		if !always.SpuriousFailure(ctx) {
			t.Fatal("one-in-one rate did not fail")
		}
	}

	def := New(Options{Output: io.Discard})
	if def.SpuriousFailureOneIn() != DefaultSpuriousFailureOneIn {
		t.Errorf("default rate = %d, want %d", def.SpuriousFailureOneIn(), DefaultSpuriousFailureOneIn)
	}
	fails := 0
	const n = 40000
	for i := 0; i < n; i++ {
		if def.SpuriousFailure(ctx) {
			fails++
		}
	}
	if fails < n/10 || fails > n/6 {
		t.Errorf("default rate failed %d/%d times, want about 1/8", fails, n)
	}
}

// TestDisjointStoragesIndependent verifies blocks never interfere.
func TestDisjointStoragesIndependent(t *testing.T) {
	e, _ := newTestEngine(t)
	a := newStorage(t, e, "a", 8)
	b := newStorage(t, e, "b", 8)
	ts := threads(e, "x", "y")

	_, _ = e.Write(ts[0], a, 0, 8)
	if races, _ := e.Write(ts[1], b, 0, 8); len(races) != 0 {
		t.Errorf("writes to different blocks raced: %v", races)
	}
}

// TestFenceString verifies fence names.
func TestFenceString(t *testing.T) {
	if FenceAcquireRelease.String() != "acq_rel" || FenceRelaxed.String() != "relaxed" {
		t.Error("unexpected fence names")
	}
}
