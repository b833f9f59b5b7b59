// Package backfill repairs ledger gaps found by reconciliation: it
// fetches missing fills from the external source and inserts them into
// the trade ledger, then requests a fresh allocation computation.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/exchange"
	"trade-pnl-lab/internal/storage"
)

// AllocationRequester is notified when backfilled records require a new
// allocation version. The coordinator never computes allocations itself.
type AllocationRequester interface {
	RequestAllocation(ctx context.Context, namespace string, symbols []string) error
}

// FailedFetch describes one missing fill that could not be backfilled.
type FailedFetch struct {
	Symbol  string
	OrderID string
	Reason  string
}

// PartialBackfillError reports that a subset of fetches failed. The
// succeeded subset is already committed; the remainder is left for a
// retry rather than blocking the successful portion.
type PartialBackfillError struct {
	Failed []FailedFetch
}

func (e *PartialBackfillError) Error() string {
	ids := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		ids[i] = f.OrderID
	}
	return fmt.Sprintf("backfill incomplete: %d fill(s) not inserted: %s", len(e.Failed), strings.Join(ids, ", "))
}

// Coordinator drives backfill from a reconciliation report.
type Coordinator struct {
	trades    storage.TradeStore
	source    exchange.FillSource
	requester AllocationRequester // optional
	logger    zerolog.Logger
}

// CoordinatorOptions contains configuration for creating a Coordinator.
type CoordinatorOptions struct {
	TradeStore storage.TradeStore
	FillSource exchange.FillSource
	Requester  AllocationRequester // nil disables the allocation trigger
	Logger     zerolog.Logger
}

// NewCoordinator creates a new backfill coordinator.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	return &Coordinator{
		trades:    opts.TradeStore,
		source:    opts.FillSource,
		requester: opts.Requester,
		logger:    opts.Logger,
	}
}

// Result contains statistics from one backfill run.
type Result struct {
	Inserted   int
	Duplicates int // already-present order ids, skipped as no-ops
	Failed     []FailedFetch
	Symbols    []string // symbols with at least one inserted record
}

// Run backfills every MissingTrade discrepancy of the report.
// Insertion is idempotent: an already-present order identifier is a
// no-op, so the coordinator is safe to re-run after partial failure.
// Returns a PartialBackfillError when a subset of fetches failed.
func (c *Coordinator) Run(ctx context.Context, report *domain.ReconciliationReport) (*Result, error) {
	missing := report.MissingOrderIDs()

	symbols := make([]string, 0, len(missing))
	for symbol := range missing {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	result := &Result{}
	affected := make(map[string]struct{})

	for _, symbol := range symbols {
		for _, orderID := range missing[symbol] {
			fill, err := c.source.GetFill(ctx, symbol, orderID)
			if err != nil {
				if errors.Is(err, exchange.ErrFillNotFound) {
					// Definitive not-found: record it, do not retry.
					result.Failed = append(result.Failed, FailedFetch{Symbol: symbol, OrderID: orderID, Reason: "not found on source"})
					continue
				}
				result.Failed = append(result.Failed, FailedFetch{Symbol: symbol, OrderID: orderID, Reason: err.Error()})
				continue
			}

			record := fill.Record(time.Now().UnixMilli(), domain.SourceBackfill)
			if err := c.trades.Insert(ctx, record); err != nil {
				if errors.Is(err, storage.ErrDuplicateKey) {
					result.Duplicates++
					continue
				}
				return result, fmt.Errorf("insert backfilled record %s: %w", orderID, err)
			}

			result.Inserted++
			affected[symbol] = struct{}{}
			c.logger.Info().
				Str("symbol", symbol).
				Str("order_id", orderID).
				Msg("backfilled missing fill")
		}
	}

	for symbol := range affected {
		result.Symbols = append(result.Symbols, symbol)
	}
	sort.Strings(result.Symbols)

	if result.Inserted > 0 && c.requester != nil {
		if err := c.requester.RequestAllocation(ctx, report.Namespace, result.Symbols); err != nil {
			return result, fmt.Errorf("request allocation after backfill: %w", err)
		}
	}

	if len(result.Failed) > 0 {
		return result, &PartialBackfillError{Failed: result.Failed}
	}
	return result, nil
}
