// Package reconciliation compares the local trade ledger against the
// exchange's fill history in tiers of increasing strictness. Runs are
// read-only: the engine reports discrepancies, it never mutates state.
package reconciliation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/exchange"
	"trade-pnl-lab/internal/storage"
)

// Engine runs tiered reconciliation against an external fill source.
type Engine struct {
	trades  storage.TradeStore
	source  exchange.FillSource
	reports storage.ReportStore // optional audit persistence
	logger  zerolog.Logger
}

// EngineOptions contains configuration for creating an Engine.
type EngineOptions struct {
	TradeStore  storage.TradeStore
	FillSource  exchange.FillSource
	ReportStore storage.ReportStore // nil disables report persistence
	Logger      zerolog.Logger
}

// NewEngine creates a new reconciliation engine.
func NewEngine(opts EngineOptions) *Engine {
	return &Engine{
		trades:  opts.TradeStore,
		source:  opts.FillSource,
		reports: opts.ReportStore,
		logger:  opts.Logger,
	}
}

// Request describes one reconciliation run.
type Request struct {
	Namespace     string
	Tier          domain.ReconciliationTier
	Symbols       []string // empty means all ledger symbols
	WindowStartMs int64
	WindowEndMs   int64
}

// Run executes one reconciliation tier over the request window.
// If the external source is unreachable the run aborts with the
// source error and produces no report: absence of evidence is never
// evidence of absence.
func (e *Engine) Run(ctx context.Context, req Request) (*domain.ReconciliationReport, error) {
	if req.Tier != domain.TierPresence && req.Tier != domain.TierValues {
		return nil, fmt.Errorf("unknown reconciliation tier %d", req.Tier)
	}

	symbols := req.Symbols
	if len(symbols) == 0 {
		all, err := e.trades.Symbols(ctx)
		if err != nil {
			return nil, fmt.Errorf("list ledger symbols: %w", err)
		}
		symbols = all
	}

	cutoff := time.Now().UnixMilli()

	var discrepancies []domain.Discrepancy
	for _, symbol := range symbols {
		found, err := e.runSymbol(ctx, req, symbol)
		if err != nil {
			return nil, err
		}
		discrepancies = append(discrepancies, found...)
	}

	sortDiscrepancies(discrepancies)

	report := &domain.ReconciliationReport{
		ReportID:      uuid.NewString(),
		Namespace:     req.Namespace,
		Tier:          req.Tier,
		Symbols:       symbols,
		WindowStartMs: req.WindowStartMs,
		WindowEndMs:   req.WindowEndMs,
		CutoffMs:      cutoff,
		CreatedAtMs:   time.Now().UnixMilli(),
		Discrepancies: discrepancies,
	}

	if e.reports != nil {
		if err := e.reports.Insert(ctx, report); err != nil {
			return nil, fmt.Errorf("persist reconciliation report: %w", err)
		}
	}

	e.logger.Info().
		Str("namespace", req.Namespace).
		Int("tier", int(req.Tier)).
		Strs("symbols", symbols).
		Int("discrepancies", len(discrepancies)).
		Msg("reconciliation run finished")

	return report, nil
}

// runSymbol reconciles one symbol for the requested tier.
func (e *Engine) runSymbol(ctx context.Context, req Request, symbol string) ([]domain.Discrepancy, error) {
	external, err := e.source.ListFills(ctx, symbol, req.WindowStartMs, req.WindowEndMs)
	if err != nil {
		return nil, fmt.Errorf("fetch external fills for %s: %w", symbol, err)
	}

	local, err := e.trades.GetByWindow(ctx, []string{symbol}, req.WindowStartMs, req.WindowEndMs)
	if err != nil {
		return nil, fmt.Errorf("read ledger window for %s: %w", symbol, err)
	}

	externalByID := make(map[string]*exchange.Fill, len(external))
	for _, f := range external {
		externalByID[f.OrderID] = f
	}
	localByID := make(map[string]*domain.TradeRecord, len(local))
	for _, t := range local {
		localByID[t.OrderID] = t
	}

	switch req.Tier {
	case domain.TierPresence:
		return presenceCheck(symbol, localByID, external), nil
	case domain.TierValues:
		return valueCheck(symbol, localByID, external), nil
	default:
		return nil, fmt.Errorf("unknown reconciliation tier %d", req.Tier)
	}
}

// presenceCheck compares order identifier sets (tier 1).
func presenceCheck(symbol string, local map[string]*domain.TradeRecord, external []*exchange.Fill) []domain.Discrepancy {
	var out []domain.Discrepancy

	externalIDs := make(map[string]struct{}, len(external))
	for _, f := range external {
		externalIDs[f.OrderID] = struct{}{}
		if _, ok := local[f.OrderID]; !ok {
			out = append(out, domain.Discrepancy{
				Kind:    domain.MissingTrade,
				Symbol:  symbol,
				OrderID: f.OrderID,
			})
		}
	}

	// Present locally but absent externally. Flagged only: the ledger
	// is insert-only, removal requires manual review.
	for id := range local {
		if _, ok := externalIDs[id]; !ok {
			out = append(out, domain.Discrepancy{
				Kind:    domain.ExtraTrade,
				Symbol:  symbol,
				OrderID: id,
			})
		}
	}

	return out
}

// valueCheck compares quantity, price and fee for orders present on
// both sides (tier 2). Presence gaps are tier 1's concern.
func valueCheck(symbol string, local map[string]*domain.TradeRecord, external []*exchange.Fill) []domain.Discrepancy {
	var out []domain.Discrepancy

	for _, f := range external {
		t, ok := local[f.OrderID]
		if !ok {
			continue
		}

		if !t.Quantity.Equal(f.Quantity) {
			out = append(out, mismatch(symbol, f.OrderID, "quantity", t.Quantity.String(), f.Quantity.String()))
		}
		if !t.Price.Equal(f.Price) {
			out = append(out, mismatch(symbol, f.OrderID, "price", t.Price.String(), f.Price.String()))
		}
		if !t.Fee.Equal(f.Fee) {
			out = append(out, mismatch(symbol, f.OrderID, "fee", t.Fee.String(), f.Fee.String()))
		}
	}

	return out
}

func mismatch(symbol, orderID, field, local, external string) domain.Discrepancy {
	return domain.Discrepancy{
		Kind:          domain.AmountMismatch,
		Symbol:        symbol,
		OrderID:       orderID,
		Field:         field,
		LocalValue:    local,
		ExternalValue: external,
	}
}

// sortDiscrepancies orders findings deterministically for stable reports.
func sortDiscrepancies(d []domain.Discrepancy) {
	sort.Slice(d, func(i, j int) bool {
		if d[i].Symbol != d[j].Symbol {
			return d[i].Symbol < d[j].Symbol
		}
		if d[i].OrderID != d[j].OrderID {
			return d[i].OrderID < d[j].OrderID
		}
		if d[i].Kind != d[j].Kind {
			return d[i].Kind < d[j].Kind
		}
		return d[i].Field < d[j].Field
	})
}
