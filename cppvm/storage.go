package cppvm

import (
	"sync"
	"unsafe"
)

// Storage is a block of simulated non-atomic memory. Every ReadAt and
// WriteAt is recorded with the VM, so unordered accesses from different
// threads are reported as races.
//
// The bytes are guarded by a host lock: a race found by the VM is a race in
// the algorithm under test, never a data race in the host process.
type Storage struct {
	vm *VM
	h  StorageHandle

	mu  sync.Mutex
	buf []byte
}

// NewStorage registers a zeroed block of size bytes.
func NewStorage(vm *VM, name string, size uint64) (*Storage, error) {
	s := &Storage{vm: vm, buf: make([]byte, size)}
	if err := vm.StorageCreate(&s.h, name, size); err != nil {
		return nil, err
	}
	return s, nil
}

// Handle returns the registry handle of s.
func (s *Storage) Handle() StorageHandle {
	return s.h
}

// Size returns the block size in bytes.
func (s *Storage) Size() uint64 {
	return uint64(len(s.buf))
}

// ReadAt copies len(p) bytes at off into p on behalf of t.
func (s *Storage) ReadAt(t *Thread, p []byte, off uint64) {
	t.StorageReadAccess(s.h, off, uint64(len(p)))
	s.mu.Lock()
	copy(p, s.buf[off:])
	s.mu.Unlock()
}

// WriteAt copies p into the block at off on behalf of t. The write stays
// pending until t releases.
func (s *Storage) WriteAt(t *Thread, p []byte, off uint64) {
	t.StorageWriteAccess(s.h, off, uint64(len(p)))
	s.mu.Lock()
	copy(s.buf[off:], p)
	s.mu.Unlock()
}

// Destroy unregisters s. It fails with ErrUncommitted while a write to s
// is unreleased.
func (s *Storage) Destroy() error {
	return s.vm.StorageDestroy(s.h)
}

// NonAtomic is a plain variable of type T whose every Get and Set is
// checked for races, the Go counterpart of wrapping a field in a
// race-detecting wrapper.
type NonAtomic[T any] struct {
	vm   *VM
	h    StorageHandle
	size uint64

	mu sync.Mutex
	v  T
}

// NewNonAtomic registers a variable named name holding init. The initial
// value counts as written and released by the main thread.
func NewNonAtomic[T any](vm *VM, name string, init T) (*NonAtomic[T], error) {
	var zero T
	size := uint64(unsafe.Sizeof(zero))
	if size == 0 {
		size = 1
	}
	n := &NonAtomic[T]{vm: vm, size: size, v: init}
	if err := vm.StorageCreate(&n.h, name, size); err != nil {
		return nil, err
	}
	return n, nil
}

// Handle returns the registry handle of the backing storage.
func (n *NonAtomic[T]) Handle() StorageHandle {
	return n.h
}

// Get reads the variable on behalf of t.
func (n *NonAtomic[T]) Get(t *Thread) T {
	t.StorageReadAccess(n.h, 0, n.size)
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.v
}

// Set writes the variable on behalf of t.
func (n *NonAtomic[T]) Set(t *Thread, v T) {
	t.StorageWriteAccess(n.h, 0, n.size)
	n.mu.Lock()
	n.v = v
	n.mu.Unlock()
}

// Destroy unregisters the variable.
func (n *NonAtomic[T]) Destroy() error {
	return n.vm.StorageDestroy(n.h)
}
