package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/storage"
)

// VersionStore is an in-memory implementation of storage.VersionStore.
type VersionStore struct {
	mu       sync.Mutex
	versions map[string]map[int64]*domain.AllocationVersion // namespace -> number -> version
	current  map[string]int64                               // namespace -> current number
}

// NewVersionStore creates a new in-memory version store.
func NewVersionStore() *VersionStore {
	return &VersionStore{
		versions: make(map[string]map[int64]*domain.AllocationVersion),
		current:  make(map[string]int64),
	}
}

// Compile-time interface check.
var _ storage.VersionStore = (*VersionStore)(nil)

// Create reserves the next version number atomically, status COMPUTING.
func (s *VersionStore) Create(_ context.Context, namespace string, cutoffMs int64, symbols []string) (*domain.AllocationVersion, error) {
	if namespace == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.versions[namespace]
	if ns == nil {
		ns = make(map[int64]*domain.AllocationVersion)
		s.versions[namespace] = ns
	}

	var next int64 = 1
	for n := range ns {
		if n >= next {
			next = n + 1
		}
	}

	v := &domain.AllocationVersion{
		Namespace:   namespace,
		Number:      next,
		Status:      domain.VersionComputing,
		CutoffMs:    cutoffMs,
		CreatedAtMs: time.Now().UnixMilli(),
		Symbols:     append([]string(nil), symbols...),
		ResidueQty:  decimal.Zero,
	}
	ns[next] = v

	copy := *v
	return &copy, nil
}

// Get retrieves a version by number. Returns ErrNotFound if not exists.
func (s *VersionStore) Get(_ context.Context, namespace string, number int64) (*domain.AllocationVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[namespace][number]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *v
	return &copy, nil
}

// GetCurrent retrieves the current version for the namespace.
func (s *VersionStore) GetCurrent(_ context.Context, namespace string) (*domain.AllocationVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	number, ok := s.current[namespace]
	if !ok {
		return nil, storage.ErrNotFound
	}
	v := s.versions[namespace][number]
	copy := *v
	return &copy, nil
}

// SetStatus transitions a version's status.
func (s *VersionStore) SetStatus(_ context.Context, namespace string, number int64, status domain.VersionStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[namespace][number]
	if !ok {
		return storage.ErrNotFound
	}

	if !transitionAllowed(v.Status, status) {
		return storage.ErrInvalidTransition
	}

	v.Status = status
	if status == domain.VersionInvalid {
		v.InvalidReason = reason
	}
	return nil
}

// SetResidue records the total unmatched sell residue quantity.
func (s *VersionStore) SetResidue(_ context.Context, namespace string, number int64, qty decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[namespace][number]
	if !ok {
		return storage.ErrNotFound
	}
	v.ResidueQty = qty
	return nil
}

// Promote atomically makes a VALID version current, superseding the prior one.
func (s *VersionStore) Promote(_ context.Context, namespace string, number int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[namespace][number]
	if !ok {
		return storage.ErrNotFound
	}
	if v.Status != domain.VersionValid {
		return storage.ErrInvalidTransition
	}

	if prev, ok := s.current[namespace]; ok && prev != number {
		s.versions[namespace][prev].Status = domain.VersionSuperseded
	}
	s.current[namespace] = number
	return nil
}

// ListByNamespace retrieves all versions for a namespace, ordered by number ASC.
func (s *VersionStore) ListByNamespace(_ context.Context, namespace string) ([]*domain.AllocationVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.AllocationVersion
	for _, v := range s.versions[namespace] {
		copy := *v
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Number < result[j].Number
	})
	return result, nil
}

// transitionAllowed encodes the version lifecycle:
// COMPUTING -> VALID | INVALID, VALID -> SUPERSEDED.
func transitionAllowed(from, to domain.VersionStatus) bool {
	switch from {
	case domain.VersionComputing:
		return to == domain.VersionValid || to == domain.VersionInvalid
	case domain.VersionValid:
		return to == domain.VersionSuperseded
	default:
		return false
	}
}
