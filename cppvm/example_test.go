package cppvm_test

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kolkov/lfas/cppvm"
)

// Example shows message passing through a release store and an acquire
// load.
func Example() {
	vm, err := cppvm.New(cppvm.Config{Seed: 1, Output: io.Discard})
	if err != nil {
		panic(err)
	}
	defer vm.Close()

	data, _ := cppvm.NewNonAtomic(vm, "data", 0)
	flag, _ := cppvm.NewAtomic[uint32](vm, "flag", 0)

	writer := vm.CreateScript("writer", func(t *cppvm.Thread) {
		data.Set(t, 42)
		flag.Store(t, 1, cppvm.Release)
	})
	reader := vm.CreateScript("reader", func(t *cppvm.Thread) {
		for flag.Load(t, cppvm.Acquire) == 0 {
			t.Pause()
		}
		fmt.Println(data.Get(t))
	})

	err = vm.RunParallel([]*cppvm.Script{writer, reader}, time.Second)
	fmt.Println("error:", err)

	// Output:
	// 42
	// error: <nil>
}

// Example_race shows the report for two unordered writes.
func Example_race() {
	vm, err := cppvm.New(cppvm.Config{Output: io.Discard})
	if err != nil {
		panic(err)
	}

	var h cppvm.StorageHandle
	if err := vm.StorageCreate(&h, "x", 4); err != nil {
		panic(err)
	}
	write := func(t *cppvm.Thread) { t.StorageWriteAccess(h, 0, 4) }

	err = vm.RunParallel([]*cppvm.Script{
		vm.CreateScript("A", write),
		vm.CreateScript("B", write),
	}, time.Second)

	var re *cppvm.RaceError
	if errors.As(err, &re) {
		fmt.Println(re.Races[0].Kind, re.Races[0].Range)
	}
	fmt.Println(vm.CheckForUncommittedChanges() != nil)

	// Output:
	// write-write [0,4)
	// true
}
