package registry

import (
	"errors"
	"fmt"

	"github.com/kolkov/lfas/internal/cppvm/memrange"
)

// ErrUncommitted is returned when destroying a storage block that still
// holds writes no thread has released.
var ErrUncommitted = errors.New("storage has unreleased writes")

// Atomic is the registry entry of a simulated atomic variable.
type Atomic struct {
	Name string
}

// Storage is the registry entry of a simulated memory block. It owns the
// block's memory range tracker.
type Storage struct {
	Name    string
	Tracker *memrange.Tracker
}

// NewStorage creates a storage entry of size bytes.
func NewStorage(name string, size uint64) *Storage {
	return &Storage{Name: name, Tracker: memrange.NewTracker(size)}
}

// Size returns the block size in bytes.
func (s *Storage) Size() uint64 {
	return s.Tracker.Size()
}

// CheckCommitted returns ErrUncommitted if any write is still pending.
// It is used as the Destroy check for storage registries.
func (s *Storage) CheckCommitted() error {
	pending := s.Tracker.Uncommitted()
	if len(pending) == 0 {
		return nil
	}
	p := pending[0]
	return fmt.Errorf("%w: %q %v written by %v at %v (%d pending)",
		ErrUncommitted, s.Name, p.Range, p.Thread, p.Version, len(pending))
}

// Atomics is the AtomicRegistry.
type Atomics = Registry[*Atomic]

// Storages is the StorageRegistry.
type Storages = Registry[*Storage]
