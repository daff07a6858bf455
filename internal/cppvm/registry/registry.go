// Package registry tracks the lifetime of simulated atomics and storage
// blocks.
//
// Objects are identified by generation-checked arena handles instead of
// addresses. A Handle names a slot index and the generation of the object
// that occupied the slot when the handle was issued. Destroying an object
// frees the slot; reusing the slot issues a new generation, so every handle
// to a destroyed object is structurally dead and can never alias the new
// occupant.
//
// Key Concepts:
//
//	Create(h):   *h must not name a live object (double create is an error)
//	Get(h):      h must name a live object (use after destroy is an error)
//	Destroy(h):  h must name a live object (double destroy is an error)
//
// Thread Safety: each Registry is guarded by one sync.RWMutex. Lookups take
// the read lock; Create and Destroy take the write lock. No lock is held
// after a method returns, except inside Each while the callback runs.
package registry

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotLive is returned for handles that were never created, were
	// destroyed, or belong to an earlier occupant of the slot.
	ErrNotLive = errors.New("handle is not live")

	// ErrAlreadyLive is returned when creating over a handle that still
	// names a live object.
	ErrAlreadyLive = errors.New("handle is already live")
)

// Handle identifies an object in a Registry.
//
// The zero Handle is "never created" and is never live.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h was never assigned by Create.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

// Index returns the arena slot of h.
func (h Handle) Index() uint32 {
	return h.index
}

// Generation returns the generation of h. Zero means never created.
func (h Handle) Generation() uint32 {
	return h.gen
}

// String returns "#index.gen", or "#nil" for the zero handle.
func (h Handle) String() string {
	if h.IsZero() {
		return "#nil"
	}
	return fmt.Sprintf("#%d.%d", h.index, h.gen)
}

type slot[T any] struct {
	gen  uint32
	live bool
	val  T
}

// Registry is an arena of objects of type T addressed by Handle.
type Registry[T any] struct {
	mu    sync.RWMutex
	slots []slot[T]
	free  []uint32
	live  int
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{}
}

// Create registers v and stores its handle into *h.
//
// Returns ErrAlreadyLive if *h still names a live object. A stale or zero
// *h is overwritten.
func (r *Registry[T]) Create(h *Handle, v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lookupLocked(*h); ok {
		return fmt.Errorf("%w: %v", ErrAlreadyLive, *h)
	}

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, slot[T]{})
	}

	s := &r.slots[idx]
	s.gen++
	if s.gen == 0 {
		// Skip the reserved zero generation on wrap-around.
		s.gen = 1
	}
	s.live = true
	s.val = v
	r.live++

	*h = Handle{index: idx, gen: s.gen}
	return nil
}

// Get returns the object named by h, or ErrNotLive.
func (r *Registry[T]) Get(h Handle) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.lookupLocked(h)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrNotLive, h)
	}
	return s.val, nil
}

// Live reports whether h names a live object.
func (r *Registry[T]) Live(h Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.lookupLocked(h)
	return ok
}

// Destroy removes the object named by h and returns it.
//
// If check is non-nil it runs under the write lock before removal; a
// non-nil result aborts the destroy and is returned unchanged, leaving the
// object live.
func (r *Registry[T]) Destroy(h Handle, check func(T) error) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	s, ok := r.lookupLocked(h)
	if !ok {
		return zero, fmt.Errorf("%w: %v", ErrNotLive, h)
	}
	if check != nil {
		if err := check(s.val); err != nil {
			return zero, err
		}
	}

	v := s.val
	s.val = zero
	s.live = false
	r.free = append(r.free, h.index)
	r.live--
	return v, nil
}

// Len returns the number of live objects.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live
}

// Handles returns the handles of all live objects in slot order.
func (r *Registry[T]) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handle, 0, r.live)
	for i := range r.slots {
		if r.slots[i].live {
			out = append(out, Handle{index: uint32(i), gen: r.slots[i].gen})
		}
	}
	return out
}

// Each calls fn for every live object in slot order while holding the read
// lock. fn must not call Create or Destroy on the same registry.
func (r *Registry[T]) Each(fn func(Handle, T)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.slots {
		s := &r.slots[i]
		if s.live {
			fn(Handle{index: uint32(i), gen: s.gen}, s.val)
		}
	}
}

func (r *Registry[T]) lookupLocked(h Handle) (*slot[T], bool) {
	if h.IsZero() || int(h.index) >= len(r.slots) {
		return nil, false
	}
	s := &r.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil, false
	}
	return s, true
}
