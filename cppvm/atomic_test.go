package cppvm_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/kolkov/lfas/cppvm"
)

func TestAtomicOperations(t *testing.T) {
	vm, _ := newVM(t, 0)
	a, err := cppvm.NewAtomic[int32](vm, "a", 10)
	if err != nil {
		t.Fatal(err)
	}
	th := vm.Main()

	tests := []struct {
		name    string
		op      func() int32
		wantOld int32
		wantNew int32
	}{
		{"FetchAdd", func() int32 { return a.FetchAdd(th, 5, cppvm.Relaxed) }, 10, 15},
		{"FetchSub", func() int32 { return a.FetchSub(th, 3, cppvm.Release) }, 15, 12},
		{"FetchAnd", func() int32 { return a.FetchAnd(th, 0b1010, cppvm.Acquire) }, 12, 8},
		{"FetchOr", func() int32 { return a.FetchOr(th, 0b0011, cppvm.AcqRel) }, 8, 11},
		{"FetchXor", func() int32 { return a.FetchXor(th, 0b1111, cppvm.SeqCst) }, 11, 4},
		{"Exchange", func() int32 { return a.Exchange(th, -7, cppvm.SeqCst) }, 4, -7},
	}
	for _, tt := range tests {
		if old := tt.op(); old != tt.wantOld {
			t.Errorf("%s returned %d, want %d", tt.name, old, tt.wantOld)
		}
		if got := a.Load(th, cppvm.SeqCst); got != tt.wantNew {
			t.Errorf("after %s value = %d, want %d", tt.name, got, tt.wantNew)
		}
	}

	a.Store(th, 1, cppvm.Release)
	if got := a.Load(th, cppvm.Acquire); got != 1 {
		t.Errorf("Load after Store = %d, want 1", got)
	}
}

func TestCompareExchangeStrong(t *testing.T) {
	vm, _ := newVM(t, 0)
	a, err := cppvm.NewAtomic[uint64](vm, "a", 5)
	if err != nil {
		t.Fatal(err)
	}
	th := vm.Main()

	expected := uint64(4)
	if a.CompareExchangeStrong(th, &expected, 9, cppvm.SeqCst) {
		t.Fatal("CompareExchangeStrong succeeded on a mismatch")
	}
	if expected != 5 {
		t.Errorf("expected = %d after failure, want 5", expected)
	}
	if !a.CompareExchangeStrongExplicit(th, &expected, 9, cppvm.AcqRel, cppvm.Acquire) {
		t.Fatal("CompareExchangeStrongExplicit failed on a match")
	}
	if got := a.Load(th, cppvm.Relaxed); got != 9 {
		t.Errorf("value = %d, want 9", got)
	}
}

func TestCompareExchangeWeakSpurious(t *testing.T) {
	vm, err := cppvm.New(cppvm.Config{
		SpuriousFailureOneIn: 2,
		Output:               io.Discard,
		Logger:               slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	a, err := cppvm.NewAtomic[uint32](vm, "a", 0)
	if err != nil {
		t.Fatal(err)
	}
	th := vm.Main()

	spurious := 0
	for i := range uint32(200) {
		expected := i
		attempts := 0
		for !a.CompareExchangeWeakExplicit(th, &expected, i+1, cppvm.Release, cppvm.Relaxed) {
			if expected != i {
				t.Fatalf("expected = %d after spurious failure, want %d", expected, i)
			}
			attempts++
		}
		spurious += attempts
	}
	if spurious == 0 {
		t.Error("no spurious failures with SpuriousFailureOneIn = 2")
	}
	if got := a.Load(th, cppvm.Relaxed); got != 200 {
		t.Errorf("value = %d, want 200", got)
	}
}

func TestAtomicUseAfterDestroy(t *testing.T) {
	vm, _ := newVM(t, 0)
	a := mustAtomic(t, vm, "gone")
	if err := a.Destroy(); err != nil {
		t.Fatal(err)
	}
	if err := a.Destroy(); !errors.Is(err, cppvm.ErrNotLive) {
		t.Errorf("second Destroy error = %v, want ErrNotLive", err)
	}

	err := vm.RunParallel([]*cppvm.Script{
		vm.CreateScript("user", func(th *cppvm.Thread) { a.FetchAdd(th, 1, cppvm.Relaxed) }),
	}, runTimeout)
	var ue *cppvm.UsageError
	if !errors.As(err, &ue) || !errors.Is(err, cppvm.ErrNotLive) {
		t.Fatalf("RunParallel error = %v, want *UsageError wrapping ErrNotLive", err)
	}
	if ue.Op != "Atomic.FetchAdd" {
		t.Errorf("Op = %q, want Atomic.FetchAdd", ue.Op)
	}

	// The atomic's lock was released when the operation failed.
	err = vm.RunParallel([]*cppvm.Script{
		vm.CreateScript("again", func(th *cppvm.Thread) { a.Load(th, cppvm.Relaxed) }),
	}, runTimeout)
	if !errors.Is(err, cppvm.ErrNotLive) {
		t.Fatalf("second RunParallel error = %v, want ErrNotLive", err)
	}
}

func TestGlobalLock(t *testing.T) {
	vm, _ := newVM(t, 0)
	th := vm.Main()

	l := th.AtomicGlobalLock(true)
	if !l.Held() {
		t.Fatal("seq-cst lock not held")
	}
	l.Unlock()
	l.Unlock()
	if l.Held() {
		t.Error("lock still held after Unlock")
	}

	none := th.AtomicGlobalLock(false)
	if none.Held() {
		t.Error("non seq-cst lock holds the global mutex")
	}
	none.Unlock()

	// The lock is free again, so a seq-cst operation does not block.
	a := mustAtomic(t, vm, "a")
	a.Store(th, 1, cppvm.SeqCst)
}

func TestSeqCstCounter(t *testing.T) {
	vm, _ := newVM(t, 5)
	counter, err := cppvm.NewNonAtomic(vm, "counter", 0)
	if err != nil {
		t.Fatal(err)
	}

	scripts := make([]*cppvm.Script, 4)
	for i := range scripts {
		scripts[i] = vm.CreateScript("", func(th *cppvm.Thread) {
			for range 25 {
				l := th.AtomicGlobalLock(true)
				th.ThreadFenceAcquire()
				counter.Set(th, counter.Get(th)+1)
				th.ThreadFenceRelease()
				l.Unlock()
			}
		})
	}
	if err := vm.RunParallel(scripts, runTimeout); err != nil {
		t.Fatalf("RunParallel error: %v", err)
	}
	if got := counter.Get(vm.Main()); got != 100 {
		t.Errorf("counter = %d, want 100", got)
	}
}

func TestStorageData(t *testing.T) {
	vm, _ := newVM(t, 0)
	s, err := cppvm.NewStorage(vm, "buf", 16)
	if err != nil {
		t.Fatal(err)
	}
	th := vm.Main()
	s.WriteAt(th, []byte("hello"), 4)
	got := make([]byte, 5)
	s.ReadAt(th, got, 4)
	if string(got) != "hello" {
		t.Errorf("ReadAt = %q, want hello", got)
	}
	if s.Size() != 16 {
		t.Errorf("Size = %d, want 16", s.Size())
	}
	if err := s.Destroy(); !errors.Is(err, cppvm.ErrUncommitted) {
		t.Errorf("Destroy error = %v, want ErrUncommitted", err)
	}
	cppvm.MemoryBarrier(th, cppvm.Release)
	if err := s.Destroy(); err != nil {
		t.Errorf("Destroy after release error: %v", err)
	}
}

func TestParseMemoryOrder(t *testing.T) {
	tests := []struct {
		in   string
		want cppvm.MemoryOrder
		ok   bool
	}{
		{"relaxed", cppvm.Relaxed, true},
		{"memory_order_acquire", cppvm.Acquire, true},
		{"release", cppvm.Release, true},
		{"acq_rel", cppvm.AcqRel, true},
		{"memory_order_seq_cst", cppvm.SeqCst, true},
		{"consume", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, err := cppvm.ParseMemoryOrder(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseMemoryOrder(%q) error = %v", tt.in, err)
			continue
		}
		if tt.ok && got != tt.want {
			t.Errorf("ParseMemoryOrder(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if tt.ok && got.String() != tt.want.String() {
			t.Errorf("String() = %q", got.String())
		}
	}
	if got := cppvm.MemoryOrder(42).String(); got != "MemoryOrder(42)" {
		t.Errorf("String() = %q", got)
	}
}
