// Package validation checks structural invariants of a finished
// allocation version: conservation of quantity, no over-consumed lots,
// and FIFO consumption order. It judges; the version manager transitions.
package validation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trade-pnl-lab/internal/allocation"
	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/storage"
)

// Violation is one structural invariant breach.
type Violation struct {
	Check   string // conservation | lot_bounds | fifo_order | completeness
	Symbol  string
	OrderID string
	Detail  string
}

// Verdict is the result of validating one allocation version.
type Verdict struct {
	Namespace  string
	Number     int64
	Valid      bool
	Violations []Violation
}

// Reason flattens the violations into a structured reason string for
// the version row. Empty when the verdict is valid.
func (v *Verdict) Reason() string {
	if v.Valid || len(v.Violations) == 0 {
		return ""
	}
	first := v.Violations[0]
	return fmt.Sprintf("%s: %s (order %s) and %d more", first.Check, first.Detail, first.OrderID, len(v.Violations)-1)
}

// Validator checks allocation versions against their ledger snapshot.
type Validator struct {
	trades      storage.TradeStore
	allocations storage.AllocationStore
	versions    storage.VersionStore
	logger      zerolog.Logger
}

// ValidatorOptions contains configuration for creating a Validator.
type ValidatorOptions struct {
	TradeStore      storage.TradeStore
	AllocationStore storage.AllocationStore
	VersionStore    storage.VersionStore
	Logger          zerolog.Logger
}

// NewValidator creates a new validation engine.
func NewValidator(opts ValidatorOptions) *Validator {
	return &Validator{
		trades:      opts.TradeStore,
		allocations: opts.AllocationStore,
		versions:    opts.VersionStore,
		logger:      opts.Logger,
	}
}

// Validate checks the version's allocations against the ledger snapshot
// it was computed from. An unmatched sell residue is not a violation;
// it is an audit-visible condition the version may legitimately carry.
func (v *Validator) Validate(ctx context.Context, namespace string, number int64) (*Verdict, error) {
	version, err := v.versions.Get(ctx, namespace, number)
	if err != nil {
		return nil, fmt.Errorf("load version %d: %w", number, err)
	}

	allocs, err := v.allocations.GetByVersion(ctx, namespace, number)
	if err != nil {
		return nil, fmt.Errorf("load allocations for version %d: %w", number, err)
	}

	records, err := v.trades.ScanForAllocation(ctx, version.Symbols, version.CutoffMs)
	if err != nil {
		return nil, fmt.Errorf("load ledger snapshot for version %d: %w", number, err)
	}

	verdict := &Verdict{Namespace: namespace, Number: number, Valid: true}

	recordsByID := make(map[string]*domain.TradeRecord, len(records))
	for _, r := range records {
		recordsByID[r.OrderID+"|"+r.Symbol] = r
	}

	v.checkLotBounds(verdict, allocs, recordsByID)
	v.checkConservation(verdict, allocs, recordsByID)
	v.checkFIFOOrder(verdict, allocs, records)

	verdict.Valid = len(verdict.Violations) == 0

	v.logger.Info().
		Str("namespace", namespace).
		Int64("version", number).
		Bool("valid", verdict.Valid).
		Int("violations", len(verdict.Violations)).
		Msg("validation finished")

	return verdict, nil
}

// checkLotBounds verifies no allocation exceeds either parent's quantity.
func (v *Validator) checkLotBounds(verdict *Verdict, allocs []*domain.FIFOAllocation, records map[string]*domain.TradeRecord) {
	for _, a := range allocs {
		sell, ok := records[a.SellOrderID+"|"+a.Symbol]
		if !ok {
			verdict.Violations = append(verdict.Violations, Violation{
				Check: "lot_bounds", Symbol: a.Symbol, OrderID: a.SellOrderID,
				Detail: "allocation references sell absent from snapshot",
			})
			continue
		}
		if a.MatchedQty.GreaterThan(sell.Quantity) {
			verdict.Violations = append(verdict.Violations, Violation{
				Check: "lot_bounds", Symbol: a.Symbol, OrderID: a.SellOrderID,
				Detail: fmt.Sprintf("matched %s exceeds sell quantity %s", a.MatchedQty, sell.Quantity),
			})
		}

		if a.Residue {
			continue
		}
		buy, ok := records[a.BuyOrderID+"|"+a.Symbol]
		if !ok {
			verdict.Violations = append(verdict.Violations, Violation{
				Check: "lot_bounds", Symbol: a.Symbol, OrderID: a.BuyOrderID,
				Detail: "allocation references buy absent from snapshot",
			})
			continue
		}
		if a.MatchedQty.GreaterThan(buy.Quantity) {
			verdict.Violations = append(verdict.Violations, Violation{
				Check: "lot_bounds", Symbol: a.Symbol, OrderID: a.BuyOrderID,
				Detail: fmt.Sprintf("matched %s exceeds buy quantity %s", a.MatchedQty, buy.Quantity),
			})
		}
	}
}

// checkConservation verifies per sell that matched plus residue equals
// the sell's quantity exactly: quantity is never dropped or duplicated.
func (v *Validator) checkConservation(verdict *Verdict, allocs []*domain.FIFOAllocation, records map[string]*domain.TradeRecord) {
	covered := make(map[string]decimal.Decimal)
	for _, a := range allocs {
		key := a.SellOrderID + "|" + a.Symbol
		covered[key] = covered[key].Add(a.MatchedQty)
	}

	for key, r := range records {
		if r.Side != domain.SideSell {
			continue
		}
		total := covered[key]
		if total.GreaterThan(r.Quantity) {
			verdict.Violations = append(verdict.Violations, Violation{
				Check: "conservation", Symbol: r.Symbol, OrderID: r.OrderID,
				Detail: fmt.Sprintf("covered quantity %s exceeds sell quantity %s", total, r.Quantity),
			})
		} else if !total.Equal(r.Quantity) {
			verdict.Violations = append(verdict.Violations, Violation{
				Check: "completeness", Symbol: r.Symbol, OrderID: r.OrderID,
				Detail: fmt.Sprintf("covered quantity %s short of sell quantity %s", total, r.Quantity),
			})
		}
	}
}

// checkFIFOOrder verifies lot consumption follows FIFO: consumed buy
// quantities must form a prefix of the buy sequence, and a sell's
// residue may only exist when every buy lot executed before that sell
// is fully consumed. Buy lots executed after the sell are legitimately
// open; a ledger that starts mid-position sells before its first buy.
func (v *Validator) checkFIFOOrder(verdict *Verdict, allocs []*domain.FIFOAllocation, records []*domain.TradeRecord) {
	consumed := make(map[string]decimal.Decimal)
	residueSells := make(map[string][]string)
	for _, a := range allocs {
		if a.Residue {
			residueSells[a.Symbol] = append(residueSells[a.Symbol], a.SellOrderID)
			continue
		}
		key := a.BuyOrderID + "|" + a.Symbol
		consumed[key] = consumed[key].Add(a.MatchedQty)
	}

	recordsByID := make(map[string]*domain.TradeRecord, len(records))
	buysBySymbol := make(map[string][]*domain.TradeRecord)
	var symbols []string
	for _, r := range records {
		recordsByID[r.OrderID+"|"+r.Symbol] = r
		if r.Side != domain.SideBuy {
			continue
		}
		if _, seen := buysBySymbol[r.Symbol]; !seen {
			symbols = append(symbols, r.Symbol)
		}
		buysBySymbol[r.Symbol] = append(buysBySymbol[r.Symbol], r)
	}

	for _, symbol := range symbols {
		buys := buysBySymbol[symbol]
		allocation.SortRecords(buys)

		openSeen := false
		for _, buy := range buys {
			used := consumed[buy.OrderID+"|"+symbol]
			if openSeen && used.IsPositive() {
				verdict.Violations = append(verdict.Violations, Violation{
					Check: "fifo_order", Symbol: symbol, OrderID: buy.OrderID,
					Detail: "buy consumed while an earlier buy retains unmatched quantity",
				})
			}
			if used.LessThan(buy.Quantity) {
				openSeen = true
			}
		}

		for _, sellID := range residueSells[symbol] {
			sell, ok := recordsByID[sellID+"|"+symbol]
			if !ok {
				// lot_bounds already reports the missing sell
				continue
			}
			for _, buy := range buys {
				if allocation.CompareRecords(buy, sell) > 0 {
					break
				}
				if consumed[buy.OrderID+"|"+symbol].LessThan(buy.Quantity) {
					verdict.Violations = append(verdict.Violations, Violation{
						Check: "fifo_order", Symbol: symbol, OrderID: sellID,
						Detail: fmt.Sprintf("residue emitted while earlier buy %s remains open", buy.OrderID),
					})
					break
				}
			}
		}
	}
}
