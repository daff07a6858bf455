package litmus

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/kolkov/lfas/cppvm"
)

// runner executes one thread of a test in its own Lua state.
type runner struct {
	th   *cppvm.Thread
	objs *objects

	// usage holds a VM usage error raised inside a Lua call, so it can be
	// re-raised once the Lua stack unwound.
	usage *cppvm.UsageError

	// aborted is set when the VM ended the run from inside a Lua call.
	aborted bool
}

// runThread runs the file in a fresh state, picks the thread's function
// and calls it.
func (t *Test) runThread(th *cppvm.Thread, objs *objects) {
	L := newState()
	defer L.Close()

	var fn *lua.LFunction
	noop := L.NewFunction(func(L *lua.LState) int {
		L.Push(L.Get(1))
		return 1
	})
	L.SetGlobal("storage", noop)
	L.SetGlobal("atomic", noop)
	L.SetGlobal("expect_race", noop)
	L.SetGlobal("require_version", noop)
	L.SetGlobal("thread", L.NewFunction(func(L *lua.LState) int {
		if L.CheckString(1) == th.Name() {
			fn = L.CheckFunction(2)
		}
		return 0
	}))
	if err := L.DoString(t.Source); err != nil {
		panic(fmt.Errorf("litmus %s: thread %s: %w", t.Name, th.Name(), err))
	}
	if fn == nil {
		panic(fmt.Errorf("litmus %s: thread %s vanished on reload", t.Name, th.Name()))
	}

	r := &runner{th: th, objs: objs}
	err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, r.table(L))
	if r.aborted {
		panic(cppvm.ErrAborted)
	}
	if r.usage != nil {
		panic(r.usage)
	}
	if err != nil {
		panic(fmt.Errorf("litmus %s: thread %s: %w", t.Name, th.Name(), err))
	}
}

func (r *runner) table(L *lua.LState) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("name", lua.LString(r.th.Name()))
	for name, fn := range map[string]lua.LGFunction{
		"read":       r.access(false),
		"write":      r.access(true),
		"load":       r.load,
		"store":      r.store,
		"exchange":   r.exchange,
		"fetch_add":  r.fetch(false),
		"fetch_sub":  r.fetch(true),
		"cas_weak":   r.cas(true),
		"cas_strong": r.cas(false),
		"fence":      r.fence,
		"yield":      r.yield,
	} {
		tbl.RawSetString(name, L.NewFunction(r.guard(fn)))
	}
	return tbl
}

// guard turns a VM usage or abort panic into a Lua error and remembers
// it.
func (r *runner) guard(fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) (n int) {
		defer func() {
			if v := recover(); v != nil {
				err, _ := v.(error)
				var ue *cppvm.UsageError
				switch {
				case errors.Is(err, cppvm.ErrAborted):
					r.aborted = true
					L.RaiseError("%v", err)
				case errors.As(err, &ue):
					r.usage = ue
					L.RaiseError("%v", ue)
				}
				panic(v)
			}
		}()
		return fn(L)
	}
}

func (r *runner) storage(L *lua.LState, n int) cppvm.StorageHandle {
	name := L.CheckString(n)
	h, ok := r.objs.storages[name]
	if !ok {
		L.ArgError(n, fmt.Sprintf("no storage %q", name))
	}
	return h
}

func (r *runner) atomic(L *lua.LState, n int) *cppvm.Atomic[uint64] {
	name := L.CheckString(n)
	a, ok := r.objs.atomics[name]
	if !ok {
		L.ArgError(n, fmt.Sprintf("no atomic %q", name))
	}
	return a
}

func order(L *lua.LState, n int) cppvm.MemoryOrder {
	o, err := cppvm.ParseMemoryOrder(L.OptString(n, "seq_cst"))
	if err != nil {
		L.ArgError(n, err.Error())
	}
	return o
}

func value(L *lua.LState, n int) uint64 {
	v := L.CheckInt64(n)
	if v < 0 {
		L.ArgError(n, "must not be negative")
	}
	return uint64(v)
}

func (r *runner) access(write bool) lua.LGFunction {
	return func(L *lua.LState) int {
		h := r.storage(L, 1)
		off, size := value(L, 2), value(L, 3)
		if write {
			r.th.StorageWriteAccess(h, off, size)
		} else {
			r.th.StorageReadAccess(h, off, size)
		}
		return 0
	}
}

func (r *runner) load(L *lua.LState) int {
	a := r.atomic(L, 1)
	L.Push(lua.LNumber(a.Load(r.th, order(L, 2))))
	return 1
}

func (r *runner) store(L *lua.LState) int {
	a := r.atomic(L, 1)
	a.Store(r.th, value(L, 2), order(L, 3))
	return 0
}

func (r *runner) exchange(L *lua.LState) int {
	a := r.atomic(L, 1)
	L.Push(lua.LNumber(a.Exchange(r.th, value(L, 2), order(L, 3))))
	return 1
}

func (r *runner) fetch(sub bool) lua.LGFunction {
	return func(L *lua.LState) int {
		a := r.atomic(L, 1)
		delta, o := value(L, 2), order(L, 3)
		var old uint64
		if sub {
			old = a.FetchSub(r.th, delta, o)
		} else {
			old = a.FetchAdd(r.th, delta, o)
		}
		L.Push(lua.LNumber(old))
		return 1
	}
}

// cas returns ok and the value observed.
func (r *runner) cas(weak bool) lua.LGFunction {
	return func(L *lua.LState) int {
		a := r.atomic(L, 1)
		expected, desired, o := value(L, 2), value(L, 3), order(L, 4)
		var ok bool
		if weak {
			ok = a.CompareExchangeWeak(r.th, &expected, desired, o)
		} else {
			ok = a.CompareExchangeStrong(r.th, &expected, desired, o)
		}
		L.Push(lua.LBool(ok))
		L.Push(lua.LNumber(expected))
		return 2
	}
}

func (r *runner) fence(L *lua.LState) int {
	cppvm.MemoryBarrier(r.th, order(L, 1))
	return 0
}

func (r *runner) yield(L *lua.LState) int {
	r.th.Yield()
	return 0
}
