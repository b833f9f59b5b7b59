package allocation

import (
	"errors"
	"sort"

	"trade-pnl-lab/internal/domain"
)

// ErrInvalidOrdering is returned when records are not in the FIFO total order.
var ErrInvalidOrdering = errors.New("records are not in deterministic FIFO order")

// SortRecords orders fills by (executed_at ASC, order_id ASC).
// This is the FIFO total order: it is the tie-break for equal timestamps
// and must be stable and reproducible across runs.
func SortRecords(records []*domain.TradeRecord) {
	sort.Slice(records, func(i, j int) bool {
		return CompareRecords(records[i], records[j]) < 0
	})
}

// ValidateOrdering checks that records are strictly ordered by the FIFO
// total order. Returns ErrInvalidOrdering if not.
func ValidateOrdering(records []*domain.TradeRecord) error {
	for i := 1; i < len(records); i++ {
		if CompareRecords(records[i-1], records[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// CompareRecords returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (executed_at ASC, order_id ASC)
func CompareRecords(a, b *domain.TradeRecord) int {
	if a.ExecutedAt != b.ExecutedAt {
		if a.ExecutedAt < b.ExecutedAt {
			return -1
		}
		return 1
	}
	if a.OrderID != b.OrderID {
		if a.OrderID < b.OrderID {
			return -1
		}
		return 1
	}
	return 0
}
