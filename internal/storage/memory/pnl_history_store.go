package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/storage"
)

// PnLHistoryStore is an in-memory implementation of storage.PnLHistoryStore.
type PnLHistoryStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PnLHistoryPoint
}

// NewPnLHistoryStore creates a new in-memory P&L history store.
func NewPnLHistoryStore() *PnLHistoryStore {
	return &PnLHistoryStore{
		data: make(map[string]*domain.PnLHistoryPoint),
	}
}

// Compile-time interface check.
var _ storage.PnLHistoryStore = (*PnLHistoryStore)(nil)

func historyKey(p *domain.PnLHistoryPoint) string {
	return fmt.Sprintf("%s|%d|%s|%s", p.Namespace, p.VersionNumber, p.Symbol, p.SellOrderID)
}

// InsertBulk adds multiple points. Fails entire batch on any duplicate.
func (s *PnLHistoryStore) InsertBulk(_ context.Context, points []*domain.PnLHistoryPoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(points))
	for _, p := range points {
		if p == nil || p.SellOrderID == "" {
			return storage.ErrInvalidInput
		}
		k := historyKey(p)
		if _, exists := s.data[k]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[k]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[k] = struct{}{}
	}

	for _, p := range points {
		copy := *p
		s.data[historyKey(p)] = &copy
	}
	return nil
}

// GetByVersion retrieves all points of a version, ordered by executed_at ASC.
func (s *PnLHistoryStore) GetByVersion(_ context.Context, namespace string, number int64) ([]*domain.PnLHistoryPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PnLHistoryPoint
	for _, p := range s.data {
		if p.Namespace == namespace && p.VersionNumber == number {
			copy := *p
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ExecutedAtMs != result[j].ExecutedAtMs {
			return result[i].ExecutedAtMs < result[j].ExecutedAtMs
		}
		return result[i].SellOrderID < result[j].SellOrderID
	})
	return result, nil
}
