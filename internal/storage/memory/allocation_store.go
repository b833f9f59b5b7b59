package memory

import (
	"context"
	"sort"
	"sync"

	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/storage"
)

// AllocationStore is an in-memory implementation of storage.AllocationStore.
type AllocationStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FIFOAllocation // keyed by allocation_id
}

// NewAllocationStore creates a new in-memory allocation store.
func NewAllocationStore() *AllocationStore {
	return &AllocationStore{
		data: make(map[string]*domain.FIFOAllocation),
	}
}

// Compile-time interface check.
var _ storage.AllocationStore = (*AllocationStore)(nil)

// InsertBulk adds all allocations of a version atomically.
func (s *AllocationStore) InsertBulk(_ context.Context, allocs []*domain.FIFOAllocation) error {
	if len(allocs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(allocs))
	for _, a := range allocs {
		if a == nil || a.AllocationID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[a.AllocationID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[a.AllocationID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[a.AllocationID] = struct{}{}
	}

	for _, a := range allocs {
		copy := *a
		s.data[a.AllocationID] = &copy
	}
	return nil
}

// GetByVersion retrieves all allocations of a version, ordered by (symbol ASC, seq ASC).
func (s *AllocationStore) GetByVersion(_ context.Context, namespace string, number int64) ([]*domain.FIFOAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FIFOAllocation
	for _, a := range s.data {
		if a.Namespace == namespace && a.VersionNumber == number {
			copy := *a
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Symbol != result[j].Symbol {
			return result[i].Symbol < result[j].Symbol
		}
		return result[i].Seq < result[j].Seq
	})
	return result, nil
}
