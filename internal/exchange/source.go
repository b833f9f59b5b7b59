// Package exchange defines the external fill-history source contract and
// its Binance implementation. The source is the authoritative record the
// reconciliation engine compares the local ledger against.
package exchange

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"trade-pnl-lab/internal/domain"
)

var (
	// ErrSourceUnavailable is returned when the external source is
	// unreachable or times out. Callers must abort, never treat this
	// as "zero fills".
	ErrSourceUnavailable = errors.New("external fill source unavailable")

	// ErrFillNotFound is returned on a definitive not-found response.
	// Not retried.
	ErrFillNotFound = errors.New("fill not found on external source")
)

// Fill is one normalized external fill, aggregated per order.
type Fill struct {
	OrderID    string
	Symbol     string
	Side       domain.Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal // quantity-weighted average across partial fills
	Fee        decimal.Decimal
	ExecutedAt int64 // ms, latest partial fill time
}

// FillSource is the capability interface for exchange fill history.
// Components requiring fill data declare exactly these operations and
// fail fast at wiring time when no implementation is supplied.
type FillSource interface {
	// ListFills returns all fills for a symbol within [startMs, endMs],
	// one entry per order, ordered by (executed_at ASC, order_id ASC).
	ListFills(ctx context.Context, symbol string, startMs, endMs int64) ([]*Fill, error)

	// GetFill returns the fill for one order identifier.
	// Returns ErrFillNotFound when the exchange has no record of it.
	GetFill(ctx context.Context, symbol, orderID string) (*Fill, error)
}

// Record converts a fill into a ledger TradeRecord.
func (f *Fill) Record(ingestedAtMs int64, source domain.TradeSource) *domain.TradeRecord {
	return &domain.TradeRecord{
		OrderID:    f.OrderID,
		Symbol:     f.Symbol,
		Side:       f.Side,
		Quantity:   f.Quantity,
		Price:      f.Price,
		Fee:        f.Fee,
		ExecutedAt: f.ExecutedAt,
		IngestedAt: ingestedAtMs,
		Source:     source,
	}
}
