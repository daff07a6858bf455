package cppvm

import (
	"fmt"
	"strings"

	"github.com/kolkov/lfas/internal/cppvm/engine"
)

// MemoryOrder is a C++ std::memory_order. Consume is not modeled.
type MemoryOrder int

const (
	Relaxed MemoryOrder = iota
	Acquire
	Release
	AcqRel
	SeqCst
)

var orderNames = [...]string{
	Relaxed: "relaxed",
	Acquire: "acquire",
	Release: "release",
	AcqRel:  "acq_rel",
	SeqCst:  "seq_cst",
}

// String returns the C++ spelling without the memory_order_ prefix.
func (o MemoryOrder) String() string {
	if o >= 0 && int(o) < len(orderNames) {
		return orderNames[o]
	}
	return fmt.Sprintf("MemoryOrder(%d)", int(o))
}

// ParseMemoryOrder parses "relaxed", "acquire", "release", "acq_rel" or
// "seq_cst", with or without the "memory_order_" prefix.
func ParseMemoryOrder(s string) (MemoryOrder, error) {
	s = strings.TrimPrefix(s, "memory_order_")
	for o, name := range orderNames {
		if s == name {
			return MemoryOrder(o), nil
		}
	}
	return 0, fmt.Errorf("unknown memory order %q", s)
}

// fence maps an order to the fence it implies. Sequential consistency is
// an acquire-release fence plus the global lock taken by the caller.
func (o MemoryOrder) fence() engine.Fence {
	switch o {
	case Acquire:
		return engine.FenceAcquire
	case Release:
		return engine.FenceRelease
	case AcqRel, SeqCst:
		return engine.FenceAcquireRelease
	default:
		return engine.FenceRelaxed
	}
}

// MemoryBarrier emulates std::atomic_thread_fence(order) on t.
func MemoryBarrier(t *Thread, order MemoryOrder) {
	t.Fence(order)
	t.Yield()
}
