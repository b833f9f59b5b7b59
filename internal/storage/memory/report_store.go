package memory

import (
	"context"
	"sort"
	"sync"

	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/storage"
)

// ReportStore is an in-memory implementation of storage.ReportStore.
type ReportStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ReconciliationReport // keyed by report_id
}

// NewReportStore creates a new in-memory reconciliation report store.
func NewReportStore() *ReportStore {
	return &ReportStore{
		data: make(map[string]*domain.ReconciliationReport),
	}
}

// Compile-time interface check.
var _ storage.ReportStore = (*ReportStore)(nil)

// Insert adds a report. Returns ErrDuplicateKey if report_id exists.
func (s *ReportStore) Insert(_ context.Context, r *domain.ReconciliationReport) error {
	if r == nil || r.ReportID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.ReportID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *r
	copy.Symbols = append([]string(nil), r.Symbols...)
	copy.Discrepancies = append([]domain.Discrepancy(nil), r.Discrepancies...)
	s.data[r.ReportID] = &copy
	return nil
}

// GetByID retrieves a report. Returns ErrNotFound if not exists.
func (s *ReportStore) GetByID(_ context.Context, reportID string) (*domain.ReconciliationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[reportID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *r
	copy.Symbols = append([]string(nil), r.Symbols...)
	copy.Discrepancies = append([]domain.Discrepancy(nil), r.Discrepancies...)
	return &copy, nil
}

// GetByTimeRange retrieves reports created within [startMs, endMs], ordered by created_at ASC.
func (s *ReportStore) GetByTimeRange(_ context.Context, namespace string, startMs, endMs int64) ([]*domain.ReconciliationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ReconciliationReport
	for _, r := range s.data {
		if r.Namespace != namespace {
			continue
		}
		if r.CreatedAtMs < startMs || r.CreatedAtMs > endMs {
			continue
		}
		copy := *r
		copy.Symbols = append([]string(nil), r.Symbols...)
		copy.Discrepancies = append([]domain.Discrepancy(nil), r.Discrepancies...)
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAtMs != result[j].CreatedAtMs {
			return result[i].CreatedAtMs < result[j].CreatedAtMs
		}
		return result[i].ReportID < result[j].ReportID
	})
	return result, nil
}
