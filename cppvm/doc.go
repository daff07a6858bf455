// Package cppvm is a virtual machine that emulates the C++ memory model so
// lock-free and wait-free algorithms can be exercised from Go under
// randomized interleavings, with data races detected deterministically.
//
// # Quick Start
//
//	vm, err := cppvm.New(cppvm.Config{Seed: 42})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer vm.Close()
//
//	data, _ := cppvm.NewNonAtomic(vm, "data", 0)
//	flag, _ := cppvm.NewAtomic[uint32](vm, "flag", 0)
//
//	writer := vm.CreateScript("writer", func(t *cppvm.Thread) {
//		data.Set(t, 42)
//		flag.Store(t, 1, cppvm.Release)
//	})
//	reader := vm.CreateScript("reader", func(t *cppvm.Thread) {
//		for flag.Load(t, cppvm.Acquire) == 0 {
//			t.Pause()
//		}
//		_ = data.Get(t)
//	})
//	if err := vm.RunParallel([]*cppvm.Script{writer, reader}, time.Second); err != nil {
//		log.Fatal(err)
//	}
//
// Replace Release and Acquire with Relaxed and RunParallel returns a
// *RaceError describing the write-read race on "data".
//
// # Model
//
// Every storage block is split into byte ranges that carry a version
// history. A write allocates a new version that stays pending for the
// writing thread until it executes a release. A release publishes the
// thread's pending versions; an acquire makes every published version
// visible to the acquiring thread. A read is race-free if the latest
// version of each byte it touches is its own or visible to it.
//
// Races are found by direct lookups in that history, not by observing
// the schedule: a missing acquire is reported in every run that reaches
// the read, whatever the interleaving.
//
// Memory orders map to fences:
//
//	Relaxed   no fence, a scheduling point only
//	Acquire   acquire fence after the operation
//	Release   release fence
//	AcqRel    acquire then release
//	SeqCst    AcqRel under the VM's global lock, one total order
//
// # Threads
//
// Scripts run on their own goroutine with their own *Thread, which carries
// the logical thread identity, the set of acquired releases and a random
// stream seeded from Config.Seed. The harness is the main thread; it
// releases before RunParallel starts the scripts and acquires after they
// all joined.
//
// # Findings
//
// RunParallel returns nil on a clean run. Races come back as *RaceError
// and are printed to Config.Output in the familiar WARNING: DATA RACE
// format; scripts still running at the deadline give a *TimeoutError;
// misuse of the API gives a *UsageError. CheckForUncommittedChanges reports
// unreleased writes and objects never destroyed as a *LeakError.
package cppvm
