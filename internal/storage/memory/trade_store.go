package memory

import (
	"context"
	"sort"
	"sync"

	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TradeRecord // keyed by (order_id, symbol)
}

// NewTradeStore creates a new in-memory trade ledger.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string]*domain.TradeRecord),
	}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// Insert adds a new fill. Returns ErrDuplicateKey if (order_id, symbol) exists.
func (s *TradeStore) Insert(_ context.Context, t *domain.TradeRecord) error {
	if t == nil || t.OrderID == "" || t.Symbol == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.Key()]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *t
	s.data[t.Key()] = &copy
	return nil
}

// InsertBulk adds multiple fills atomically. Fails entire batch on any duplicate.
func (s *TradeStore) InsertBulk(_ context.Context, trades []*domain.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[string]struct{}, len(trades))

	// First pass: check for duplicates (existing + intra-batch)
	for _, t := range trades {
		if t == nil || t.OrderID == "" || t.Symbol == "" {
			return storage.ErrInvalidInput
		}

		if _, exists := s.data[t.Key()]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[t.Key()]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[t.Key()] = struct{}{}
	}

	// Second pass: insert all
	for _, t := range trades {
		copy := *t
		s.data[t.Key()] = &copy
	}

	return nil
}

// GetByOrderID retrieves one fill. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByOrderID(_ context.Context, orderID, symbol string) (*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[orderID+"|"+symbol]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *t
	return &copy, nil
}

// ScanForAllocation retrieves all fills with ingestion timestamp <= cutoff,
// ordered by (executed_at ASC, order_id ASC).
func (s *TradeStore) ScanForAllocation(_ context.Context, symbols []string, cutoffMs int64) ([]*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := symbolSet(symbols)

	var result []*domain.TradeRecord
	for _, t := range s.data {
		if t.IngestedAt > cutoffMs {
			continue
		}
		if wanted != nil {
			if _, ok := wanted[t.Symbol]; !ok {
				continue
			}
		}
		copy := *t
		result = append(result, &copy)
	}

	sortFIFO(result)
	return result, nil
}

// GetByWindow retrieves fills whose exchange timestamp falls within [startMs, endMs].
func (s *TradeStore) GetByWindow(_ context.Context, symbols []string, startMs, endMs int64) ([]*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := symbolSet(symbols)

	var result []*domain.TradeRecord
	for _, t := range s.data {
		if t.ExecutedAt < startMs || t.ExecutedAt > endMs {
			continue
		}
		if wanted != nil {
			if _, ok := wanted[t.Symbol]; !ok {
				continue
			}
		}
		copy := *t
		result = append(result, &copy)
	}

	sortFIFO(result)
	return result, nil
}

// Symbols returns the distinct symbols present in the ledger, sorted ASC.
func (s *TradeStore) Symbols(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, t := range s.data {
		seen[t.Symbol] = struct{}{}
	}

	result := make([]string, 0, len(seen))
	for sym := range seen {
		result = append(result, sym)
	}
	sort.Strings(result)
	return result, nil
}

// sortFIFO orders records by (executed_at ASC, order_id ASC), the FIFO total order.
func sortFIFO(records []*domain.TradeRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].ExecutedAt != records[j].ExecutedAt {
			return records[i].ExecutedAt < records[j].ExecutedAt
		}
		return records[i].OrderID < records[j].OrderID
	})
}

// symbolSet returns nil for an empty filter (meaning all symbols).
func symbolSet(symbols []string) map[string]struct{} {
	if len(symbols) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return set
}
