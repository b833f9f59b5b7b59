// Package allocation implements the FIFO allocation engine: it matches
// sell fills against the oldest open buy lots of the same symbol and
// produces an immutable allocation version with realized P&L per match.
package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/idhash"
	"trade-pnl-lab/internal/storage"
)

// Engine computes FIFO allocation versions from ledger snapshots.
// Re-running on an identical snapshot produces an identical allocation
// set: the matching loop depends only on the snapshot's FIFO total
// order, never on wall-clock time or map iteration order.
type Engine struct {
	trades      storage.TradeStore
	allocations storage.AllocationStore
	versions    storage.VersionStore
	history     storage.PnLHistoryStore // optional analytics sink
	logger      zerolog.Logger
}

// EngineOptions contains configuration for creating an Engine.
type EngineOptions struct {
	TradeStore      storage.TradeStore
	AllocationStore storage.AllocationStore
	VersionStore    storage.VersionStore
	HistoryStore    storage.PnLHistoryStore // nil disables analytics rows
	Logger          zerolog.Logger
}

// NewEngine creates a new FIFO allocation engine.
func NewEngine(opts EngineOptions) *Engine {
	return &Engine{
		trades:      opts.TradeStore,
		allocations: opts.AllocationStore,
		versions:    opts.VersionStore,
		history:     opts.HistoryStore,
		logger:      opts.Logger,
	}
}

// Request describes one allocation computation.
type Request struct {
	Namespace string
	Symbols   []string // empty means all symbols in the ledger
	CutoffMs  int64    // ledger snapshot cutoff; 0 means now
}

// Result contains the outcome of one allocation computation.
// The version is returned in status COMPUTING; validation and promotion
// are the caller's responsibility.
type Result struct {
	Version     *domain.AllocationVersion
	Allocations []*domain.FIFOAllocation
	Matched     int             // matched lot slices emitted
	Residues    int             // unmatched sell residue rows emitted
	ResidueQty  decimal.Decimal // total unmatched sell quantity
	RealizedPnL decimal.Decimal // total realized P&L across matches
	Duration    time.Duration
}

// Compute scans the ledger snapshot, runs FIFO matching per symbol and
// persists a complete allocation version in status COMPUTING.
func (e *Engine) Compute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	cutoff := req.CutoffMs
	if cutoff == 0 {
		cutoff = time.Now().UnixMilli()
	}

	symbols := req.Symbols
	if len(symbols) == 0 {
		all, err := e.trades.Symbols(ctx)
		if err != nil {
			return nil, fmt.Errorf("list ledger symbols: %w", err)
		}
		symbols = all
	}

	version, err := e.versions.Create(ctx, req.Namespace, cutoff, symbols)
	if err != nil {
		return nil, fmt.Errorf("create version: %w", err)
	}

	e.logger.Info().
		Str("namespace", req.Namespace).
		Int64("version", version.Number).
		Int64("cutoff_ms", cutoff).
		Strs("symbols", symbols).
		Msg("allocation computation started")

	records, err := e.trades.ScanForAllocation(ctx, symbols, cutoff)
	if err != nil {
		return nil, e.abort(ctx, version, fmt.Errorf("scan ledger snapshot: %w", err))
	}

	result := &Result{
		Version:     version,
		ResidueQty:  decimal.Zero,
		RealizedPnL: decimal.Zero,
	}

	// The scan is ordered globally; matching is independent per symbol
	// and symbols slices preserve the global order.
	bySymbol := make(map[string][]*domain.TradeRecord)
	for _, r := range records {
		bySymbol[r.Symbol] = append(bySymbol[r.Symbol], r)
	}

	var history []*domain.PnLHistoryPoint
	for _, symbol := range symbols {
		allocs, points, err := e.matchSymbol(version, symbol, bySymbol[symbol])
		if err != nil {
			return nil, e.abort(ctx, version, fmt.Errorf("match symbol %s: %w", symbol, err))
		}
		result.Allocations = append(result.Allocations, allocs...)
		history = append(history, points...)
	}

	for _, a := range result.Allocations {
		if a.Residue {
			result.Residues++
			result.ResidueQty = result.ResidueQty.Add(a.MatchedQty)
		} else {
			result.Matched++
			result.RealizedPnL = result.RealizedPnL.Add(a.RealizedPnL)
		}
	}

	if err := e.allocations.InsertBulk(ctx, result.Allocations); err != nil {
		return nil, e.abort(ctx, version, fmt.Errorf("write allocations for version %d: %w", version.Number, err))
	}
	if err := e.versions.SetResidue(ctx, req.Namespace, version.Number, result.ResidueQty); err != nil {
		return nil, e.abort(ctx, version, fmt.Errorf("record residue for version %d: %w", version.Number, err))
	}

	if e.history != nil && len(history) > 0 {
		if err := e.history.InsertBulk(ctx, history); err != nil {
			// Analytics rows are not part of the audit trail; a failed
			// write must not invalidate the version.
			e.logger.Warn().Err(err).Int64("version", version.Number).Msg("pnl history write failed")
		}
	}

	version.ResidueQty = result.ResidueQty
	result.Duration = time.Since(start)

	e.logger.Info().
		Str("namespace", req.Namespace).
		Int64("version", version.Number).
		Int("matched", result.Matched).
		Int("residues", result.Residues).
		Str("realized_pnl", result.RealizedPnL.String()).
		Dur("duration", result.Duration).
		Msg("allocation computation finished")

	return result, nil
}

// abort marks a half-computed version INVALID so it never lingers in
// COMPUTING, then returns cause for the caller to propagate.
func (e *Engine) abort(ctx context.Context, version *domain.AllocationVersion, cause error) error {
	reason := fmt.Sprintf("computation aborted: %v", cause)
	if err := e.versions.SetStatus(ctx, version.Namespace, version.Number, domain.VersionInvalid, reason); err != nil {
		e.logger.Error().Err(err).
			Str("namespace", version.Namespace).
			Int64("version", version.Number).
			Msg("failed to invalidate aborted version")
	}
	return cause
}

// matchSymbol runs the FIFO matching loop for one symbol.
// records must already be in FIFO total order.
func (e *Engine) matchSymbol(version *domain.AllocationVersion, symbol string, records []*domain.TradeRecord) ([]*domain.FIFOAllocation, []*domain.PnLHistoryPoint, error) {
	if err := ValidateOrdering(records); err != nil {
		return nil, nil, err
	}

	queue := newLotQueue()
	var allocs []*domain.FIFOAllocation
	var points []*domain.PnLHistoryPoint
	seq := 0

	for _, rec := range records {
		switch rec.Side {
		case domain.SideBuy:
			queue.push(rec)

		case domain.SideSell:
			sellRemaining := rec.Quantity
			sellMatched := decimal.Zero
			sellPnL := decimal.Zero

			for sellRemaining.IsPositive() {
				lot := queue.front()
				if lot == nil {
					break
				}

				matched := decimal.Min(sellRemaining, lot.remaining)
				fee := proRataFee(lot.record, rec, matched)
				pnl := matched.Mul(rec.Price.Sub(lot.record.Price)).Sub(fee)

				allocs = append(allocs, &domain.FIFOAllocation{
					AllocationID:  idhash.ComputeAllocationID(version.Namespace, version.Number, symbol, rec.OrderID, lot.record.OrderID, seq),
					Namespace:     version.Namespace,
					VersionNumber: version.Number,
					Symbol:        symbol,
					BuyOrderID:    lot.record.OrderID,
					SellOrderID:   rec.OrderID,
					MatchedQty:    matched,
					BuyPrice:      lot.record.Price,
					SellPrice:     rec.Price,
					FeeAllocated:  fee,
					RealizedPnL:   pnl,
					Seq:           seq,
				})
				seq++

				queue.consume(matched)
				sellRemaining = sellRemaining.Sub(matched)
				sellMatched = sellMatched.Add(matched)
				sellPnL = sellPnL.Add(pnl)
			}

			// Insufficient buy history: emit an explicitly flagged residue
			// row with zero cost basis instead of fabricating a buy lot.
			// Quantity is never silently dropped.
			if sellRemaining.IsPositive() {
				allocs = append(allocs, &domain.FIFOAllocation{
					AllocationID:  idhash.ComputeAllocationID(version.Namespace, version.Number, symbol, rec.OrderID, "", seq),
					Namespace:     version.Namespace,
					VersionNumber: version.Number,
					Symbol:        symbol,
					SellOrderID:   rec.OrderID,
					MatchedQty:    sellRemaining,
					BuyPrice:      decimal.Zero,
					SellPrice:     rec.Price,
					FeeAllocated:  decimal.Zero,
					RealizedPnL:   decimal.Zero,
					Residue:       true,
					Seq:           seq,
				})
				seq++

				e.logger.Warn().
					Str("namespace", version.Namespace).
					Int64("version", version.Number).
					Str("symbol", symbol).
					Str("sell_order_id", rec.OrderID).
					Str("residue_qty", sellRemaining.String()).
					Msg("unmatched sell residue")
			}

			points = append(points, &domain.PnLHistoryPoint{
				Namespace:     version.Namespace,
				VersionNumber: version.Number,
				Symbol:        symbol,
				SellOrderID:   rec.OrderID,
				ExecutedAtMs:  rec.ExecutedAt,
				MatchedQty:    sellMatched.InexactFloat64(),
				ResidueQty:    sellRemaining.InexactFloat64(),
				RealizedPnL:   sellPnL.InexactFloat64(),
			})

		default:
			return nil, nil, fmt.Errorf("order %s: unknown side %q", rec.OrderID, rec.Side)
		}
	}

	return allocs, points, nil
}

// proRataFee allocates fees to a matched slice proportionally to each
// parent order's total filled quantity:
// buyFee*matched/buyQty + sellFee*matched/sellQty.
func proRataFee(buy, sell *domain.TradeRecord, matched decimal.Decimal) decimal.Decimal {
	fee := decimal.Zero
	if buy.Quantity.IsPositive() {
		fee = fee.Add(buy.Fee.Mul(matched).Div(buy.Quantity))
	}
	if sell.Quantity.IsPositive() {
		fee = fee.Add(sell.Fee.Mul(matched).Div(sell.Quantity))
	}
	return fee
}
