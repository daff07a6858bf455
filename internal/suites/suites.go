// Package suites holds the built-in scenarios run by lfas run.
package suites

import (
	"errors"
	"fmt"
	"slices"

	"github.com/kolkov/lfas/cppvm"
	"github.com/kolkov/lfas/internal/sweep"
	"github.com/kolkov/lfas/lockfree"
)

// Suite is a named scenario.
type Suite struct {
	Name        string
	Description string

	// ExpectRace is true for scenarios that are racy by construction.
	ExpectRace bool

	Build sweep.BuildFunc
}

var all = []Suite{
	{"mp", "message passing through a relaxed flag", true, messagePassing(cppvm.Relaxed, cppvm.Relaxed)},
	{"mp-norace", "message passing through a release/acquire flag", false, messagePassing(cppvm.Release, cppvm.Acquire)},
	{"ww", "two unordered writes to the same bytes", true, writeWrite},
	{"sb", "store buffering on seq-cst atomics", false, storeBuffering},
	{"iriw", "independent reads of independent seq-cst writes", false, iriw},
	{"spinlock", "counter guarded by a spinlock", false, spinlock(false)},
	{"spinlock-relaxed", "counter guarded by a spinlock with relaxed orders", true, spinlock(true)},
	{"barrier", "slot exchange across barrier phases", false, barrier},
}

// All returns every built-in suite.
func All() []Suite {
	return slices.Clone(all)
}

// Lookup returns the suite named name.
func Lookup(name string) (Suite, bool) {
	i := slices.IndexFunc(all, func(s Suite) bool { return s.Name == name })
	if i < 0 {
		return Suite{}, false
	}
	return all[i], true
}

// Names returns the names of all suites.
func Names() []string {
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = s.Name
	}
	return names
}

type destroyer interface {
	Destroy() error
}

// destroyAll destroys objs. Blocks still holding unreleased writes stay
// live; the leak check reports them.
func destroyAll(objs ...destroyer) func() error {
	return func() error {
		var errs []error
		for _, o := range objs {
			if err := o.Destroy(); err != nil && !errors.Is(err, cppvm.ErrUncommitted) {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

func messagePassing(store, load cppvm.MemoryOrder) sweep.BuildFunc {
	return func(vm *cppvm.VM) (*sweep.Case, error) {
		data, err := cppvm.NewNonAtomic(vm, "data", 0)
		if err != nil {
			return nil, err
		}
		flag, err := cppvm.NewAtomic[uint32](vm, "flag", 0)
		if err != nil {
			return nil, err
		}
		got := -1
		return &sweep.Case{
			Scripts: []*cppvm.Script{
				vm.CreateScript("writer", func(t *cppvm.Thread) {
					data.Set(t, 42)
					flag.Store(t, 1, store)
				}),
				vm.CreateScript("reader", func(t *cppvm.Thread) {
					for flag.Load(t, load) == 0 {
						t.Pause()
					}
					got = data.Get(t)
				}),
			},
			Check: func() error {
				if got != 42 {
					return fmt.Errorf("reader saw %d, want 42", got)
				}
				return nil
			},
			Cleanup: destroyAll(data, flag),
		}, nil
	}
}

func writeWrite(vm *cppvm.VM) (*sweep.Case, error) {
	var h cppvm.StorageHandle
	if err := vm.StorageCreate(&h, "x", 4); err != nil {
		return nil, err
	}
	write := func(t *cppvm.Thread) { t.StorageWriteAccess(h, 0, 4) }
	return &sweep.Case{
		Scripts: []*cppvm.Script{
			vm.CreateScript("A", write),
			vm.CreateScript("B", write),
		},
		Cleanup: func() error {
			if err := vm.StorageDestroy(h); err != nil && !errors.Is(err, cppvm.ErrUncommitted) {
				return err
			}
			return nil
		},
	}, nil
}

func storeBuffering(vm *cppvm.VM) (*sweep.Case, error) {
	x, err := cppvm.NewAtomic[uint32](vm, "x", 0)
	if err != nil {
		return nil, err
	}
	y, err := cppvm.NewAtomic[uint32](vm, "y", 0)
	if err != nil {
		return nil, err
	}
	var r1, r2 uint32
	return &sweep.Case{
		Scripts: []*cppvm.Script{
			vm.CreateScript("t1", func(t *cppvm.Thread) {
				x.Store(t, 1, cppvm.SeqCst)
				r1 = y.Load(t, cppvm.SeqCst)
			}),
			vm.CreateScript("t2", func(t *cppvm.Thread) {
				y.Store(t, 1, cppvm.SeqCst)
				r2 = x.Load(t, cppvm.SeqCst)
			}),
		},
		Check: func() error {
			if r1 == 0 && r2 == 0 {
				return errors.New("both threads read 0: stores were reordered after loads")
			}
			return nil
		},
		Cleanup: destroyAll(x, y),
	}, nil
}

func iriw(vm *cppvm.VM) (*sweep.Case, error) {
	x, err := cppvm.NewAtomic[uint32](vm, "x", 0)
	if err != nil {
		return nil, err
	}
	y, err := cppvm.NewAtomic[uint32](vm, "y", 0)
	if err != nil {
		return nil, err
	}
	var r1x, r1y, r2y, r2x uint32
	return &sweep.Case{
		Scripts: []*cppvm.Script{
			vm.CreateScript("wx", func(t *cppvm.Thread) { x.Store(t, 1, cppvm.SeqCst) }),
			vm.CreateScript("wy", func(t *cppvm.Thread) { y.Store(t, 1, cppvm.SeqCst) }),
			vm.CreateScript("r1", func(t *cppvm.Thread) {
				r1x = x.Load(t, cppvm.SeqCst)
				r1y = y.Load(t, cppvm.SeqCst)
			}),
			vm.CreateScript("r2", func(t *cppvm.Thread) {
				r2y = y.Load(t, cppvm.SeqCst)
				r2x = x.Load(t, cppvm.SeqCst)
			}),
		},
		Check: func() error {
			if r1x == 1 && r1y == 0 && r2y == 1 && r2x == 0 {
				return errors.New("readers observed the writes to x and y in opposite orders")
			}
			return nil
		},
		Cleanup: destroyAll(x, y),
	}, nil
}

func spinlock(relaxed bool) sweep.BuildFunc {
	const scripts, rounds = 3, 10
	return func(vm *cppvm.VM) (*sweep.Case, error) {
		flag, err := lockfree.NewSimWord(vm, "lock", 0)
		if err != nil {
			return nil, err
		}
		l := lockfree.NewSpinlock(flag)
		if relaxed {
			l = lockfree.NewRelaxedSpinlock(flag)
		}
		counter, err := cppvm.NewNonAtomic(vm, "counter", 0)
		if err != nil {
			return nil, err
		}

		c := &sweep.Case{
			Check: func() error {
				if got := counter.Get(vm.Main()); got != scripts*rounds {
					return fmt.Errorf("counter = %d, want %d", got, scripts*rounds)
				}
				return nil
			},
			Cleanup: destroyAll(flag, counter),
		}
		for range scripts {
			c.Scripts = append(c.Scripts, vm.CreateScript("", func(t *cppvm.Thread) {
				for range rounds {
					l.Lock(t)
					counter.Set(t, counter.Get(t)+1)
					l.Unlock(t)
				}
			}))
		}
		return c, nil
	}
}

func barrier(vm *cppvm.VM) (*sweep.Case, error) {
	const parties, phases = 3, 3
	arrived, err := lockfree.NewSimWord(vm, "arrived", 0)
	if err != nil {
		return nil, err
	}
	phase, err := lockfree.NewSimWord(vm, "phase", 0)
	if err != nil {
		return nil, err
	}
	b := lockfree.NewBarrier(parties, arrived, phase)
	slots, err := cppvm.NewStorage(vm, "slots", parties*8)
	if err != nil {
		return nil, err
	}

	c := &sweep.Case{Cleanup: destroyAll(arrived, phase, slots)}
	for i := range parties {
		c.Scripts = append(c.Scripts, vm.CreateScript("", func(t *cppvm.Thread) {
			mine := make([]byte, 8)
			all := make([]byte, parties*8)
			for p := range phases {
				mine[0] = byte(p)
				slots.WriteAt(t, mine, uint64(i)*8)
				b.Wait(t)
				slots.ReadAt(t, all, 0)
				for j := range parties {
					if all[j*8] != byte(p) {
						panic(fmt.Sprintf("phase %d: slot %d holds %d", p, j, all[j*8]))
					}
				}
				b.Wait(t)
			}
		}))
	}
	return c, nil
}
