// Package litmus loads litmus tests written in Lua and runs them on the
// virtual machine.
//
// A litmus file declares shared objects and threads at top level:
//
//	require_version("v0.1.0")
//	expect_race(false)
//
//	local data = storage("data", 8)
//	local flag = atomic("flag", 0)
//
//	thread("writer", function(t)
//		t.write(data, 0, 8)
//		t.store(flag, 1, "release")
//	end)
//
//	thread("reader", function(t)
//		while t.load(flag, "acquire") == 0 do t.yield() end
//		t.read(data, 0, 8)
//	end)
//
// Thread functions receive a table with read, write, load, store,
// exchange, cas_weak, cas_strong, fetch_add, fetch_sub, fence, yield and
// the thread's name. Memory orders are C++ spellings and default to
// "seq_cst".
//
// Lua states are not safe for concurrent use, so every thread runs the
// file again in a state of its own and only then calls its function. Top
// level code must therefore be declarations only.
package litmus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	lua "github.com/yuin/gopher-lua"
	"golang.org/x/mod/semver"

	"github.com/kolkov/lfas/cppvm"
	"github.com/kolkov/lfas/internal/sweep"
)

// Decl is a storage block or atomic declared by a test.
type Decl struct {
	Name  string
	Value uint64 // size of a storage block, initial value of an atomic
}

// Test is a parsed litmus test.
type Test struct {
	Name   string
	Source string

	// ExpectRace is nil when the test does not state an expectation.
	ExpectRace *bool

	// RequireVersion is the minimum cppvm version, "" if none.
	RequireVersion string

	Storages []Decl
	Atomics  []Decl
	Threads  []string
}

// Load reads and parses the litmus file at path.
func Load(path string) (*Test, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(filepath.Base(path), string(src))
}

// Parse runs the top level of src and collects its declarations.
func Parse(name, src string) (*Test, error) {
	t := &Test{Name: name, Source: src}
	L := newState()
	defer L.Close()

	seen := make(map[string]bool)
	declare := func(kind string, list *[]Decl) lua.LGFunction {
		return func(L *lua.LState) int {
			n := L.CheckString(1)
			v := L.OptInt64(2, 0)
			if v < 0 {
				L.ArgError(2, "must not be negative")
			}
			if seen[n] {
				L.RaiseError("%s %q: name already declared", kind, n)
			}
			seen[n] = true
			*list = append(*list, Decl{Name: n, Value: uint64(v)})
			L.Push(lua.LString(n))
			return 1
		}
	}
	L.SetGlobal("storage", L.NewFunction(declare("storage", &t.Storages)))
	L.SetGlobal("atomic", L.NewFunction(declare("atomic", &t.Atomics)))
	L.SetGlobal("thread", L.NewFunction(func(L *lua.LState) int {
		n := L.CheckString(1)
		L.CheckFunction(2)
		if slices.Contains(t.Threads, n) {
			L.RaiseError("thread %q: name already declared", n)
		}
		t.Threads = append(t.Threads, n)
		return 0
	}))
	L.SetGlobal("expect_race", L.NewFunction(func(L *lua.LState) int {
		b := L.CheckBool(1)
		t.ExpectRace = &b
		return 0
	}))
	L.SetGlobal("require_version", L.NewFunction(func(L *lua.LState) int {
		v := L.CheckString(1)
		if err := checkVersion(v); err != nil {
			L.RaiseError("%v", err)
		}
		t.RequireVersion = v
		return 0
	}))

	if err := L.DoString(src); err != nil {
		return nil, fmt.Errorf("litmus %s: %w", name, err)
	}
	if len(t.Threads) == 0 {
		return nil, fmt.Errorf("litmus %s: no threads declared", name)
	}
	for _, s := range t.Storages {
		if s.Value == 0 {
			return nil, fmt.Errorf("litmus %s: storage %q needs a positive size", name, s.Name)
		}
	}
	return t, nil
}

// checkVersion fails unless this build satisfies the minimum version v.
func checkVersion(v string) error {
	if !semver.IsValid(v) {
		return fmt.Errorf("require_version: %q is not a semantic version", v)
	}
	have := "v" + cppvm.Version
	if semver.Compare(have, v) < 0 {
		return fmt.Errorf("require_version: test needs %s, have %s", v, have)
	}
	return nil
}

// newState returns a Lua state with the base, table, string and math
// libraries only.
func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			panic(err)
		}
	}
	return L
}

// objects are the VM objects of one test instance.
type objects struct {
	storages map[string]cppvm.StorageHandle
	atomics  map[string]*cppvm.Atomic[uint64]
}

// destroy unregisters every object. Storages with writes no one released
// are still destroyed.
func (o *objects) destroy(vm *cppvm.VM) error {
	var errs []error
	for _, h := range o.storages {
		if err := vm.StorageDestroy(h); err != nil && !errors.Is(err, cppvm.ErrUncommitted) {
			errs = append(errs, err)
		}
	}
	for _, a := range o.atomics {
		errs = append(errs, a.Destroy())
	}
	return errors.Join(errs...)
}

var newAtomic = cppvm.NewAtomic[uint64]

// Build creates the test's objects and scripts on vm. If creating an
// object fails, the ones already created are destroyed.
func (t *Test) Build(vm *cppvm.VM) (*sweep.Case, error) {
	objs := &objects{
		storages: make(map[string]cppvm.StorageHandle),
		atomics:  make(map[string]*cppvm.Atomic[uint64]),
	}
	for _, d := range t.Storages {
		var h cppvm.StorageHandle
		if err := vm.StorageCreate(&h, d.Name, d.Value); err != nil {
			return nil, errors.Join(err, objs.destroy(vm))
		}
		objs.storages[d.Name] = h
	}
	for _, d := range t.Atomics {
		a, err := newAtomic(vm, d.Name, d.Value)
		if err != nil {
			return nil, errors.Join(err, objs.destroy(vm))
		}
		objs.atomics[d.Name] = a
	}

	c := &sweep.Case{Cleanup: func() error { return objs.destroy(vm) }}
	for _, name := range t.Threads {
		c.Scripts = append(c.Scripts, vm.CreateScript(name, func(th *cppvm.Thread) {
			t.runThread(th, objs)
		}))
	}
	return c, nil
}

// Verdict compares a sweep of t with its stated expectation.
func (t *Test) Verdict(s *sweep.Summary) error {
	if r, ok := s.FirstFailed(); ok {
		return fmt.Errorf("litmus %s: seed %d: %w", t.Name, r.Seed, r.Err)
	}
	if t.ExpectRace == nil {
		return nil
	}
	switch {
	case *t.ExpectRace && s.Racy < s.Runs:
		return fmt.Errorf("litmus %s: expected a race, %d of %d runs were race-free", t.Name, s.Runs-s.Racy, s.Runs)
	case !*t.ExpectRace && s.Racy > 0:
		r, _ := s.FirstRacy()
		return fmt.Errorf("litmus %s: expected no race, seed %d: %s", t.Name, r.Seed, r.Races[0].Summary())
	}
	return nil
}

// Run sweeps t over opts.Seeds seeds and checks the verdict. The summary
// is returned even when the verdict fails.
func Run(ctx context.Context, t *Test, opts sweep.Options) (*sweep.Summary, error) {
	s, err := sweep.Run(ctx, opts, t.Build)
	if err != nil {
		return nil, err
	}
	return s, t.Verdict(s)
}
