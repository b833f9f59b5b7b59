// Package stub provides a fixed in-memory fill source for tests.
package stub

import (
	"context"
	"sort"

	"trade-pnl-lab/internal/exchange"
)

// FillSource returns fixed in-memory fills for testing.
// Implements exchange.FillSource.
type FillSource struct {
	fills []*exchange.Fill

	// Unavailable makes every call fail with ErrSourceUnavailable.
	Unavailable bool

	// FailOrders makes GetFill fail with ErrSourceUnavailable for the
	// listed order identifiers, simulating partial fetch failure.
	FailOrders map[string]bool
}

// NewFillSource creates a new stub fill source with the given fills.
func NewFillSource(fills []*exchange.Fill) *FillSource {
	return &FillSource{fills: fills}
}

// Compile-time interface check.
var _ exchange.FillSource = (*FillSource)(nil)

// ListFills returns fills matching the symbol and time range.
// Returns copies to prevent mutation.
func (s *FillSource) ListFills(_ context.Context, symbol string, startMs, endMs int64) ([]*exchange.Fill, error) {
	if s.Unavailable {
		return nil, exchange.ErrSourceUnavailable
	}

	var result []*exchange.Fill
	for _, f := range s.fills {
		if f.Symbol == symbol && f.ExecutedAt >= startMs && f.ExecutedAt <= endMs {
			copy := *f
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ExecutedAt != result[j].ExecutedAt {
			return result[i].ExecutedAt < result[j].ExecutedAt
		}
		return result[i].OrderID < result[j].OrderID
	})
	return result, nil
}

// GetFill returns the fill for one order identifier.
func (s *FillSource) GetFill(_ context.Context, symbol, orderID string) (*exchange.Fill, error) {
	if s.Unavailable {
		return nil, exchange.ErrSourceUnavailable
	}
	if s.FailOrders[orderID] {
		return nil, exchange.ErrSourceUnavailable
	}

	for _, f := range s.fills {
		if f.Symbol == symbol && f.OrderID == orderID {
			copy := *f
			return &copy, nil
		}
	}
	return nil, exchange.ErrFillNotFound
}
