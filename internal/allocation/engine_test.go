package allocation

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/storage/memory"
)

func newTestEngine() (*Engine, *memory.TradeStore, *memory.AllocationStore, *memory.VersionStore) {
	trades := memory.NewTradeStore()
	allocs := memory.NewAllocationStore()
	versions := memory.NewVersionStore()
	engine := NewEngine(EngineOptions{
		TradeStore:      trades,
		AllocationStore: allocs,
		VersionStore:    versions,
		HistoryStore:    memory.NewPnLHistoryStore(),
		Logger:          zerolog.Nop(),
	})
	return engine, trades, allocs, versions
}

func fill(orderID, symbol string, side domain.Side, qty, price, fee string, executedAt int64) *domain.TradeRecord {
	return &domain.TradeRecord{
		OrderID:    orderID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   decimal.RequireFromString(qty),
		Price:      decimal.RequireFromString(price),
		Fee:        decimal.RequireFromString(fee),
		ExecutedAt: executedAt,
		IngestedAt: executedAt,
		Source:     domain.SourceNormal,
	}
}

func TestEngine_FIFOAcrossTwoLots(t *testing.T) {
	engine, trades, _, _ := newTestEngine()
	ctx := context.Background()

	// buy 10 @ 100, buy 5 @ 110, sell 12 @ 120
	require.NoError(t, trades.Insert(ctx, fill("B1", "BTCUSDT", domain.SideBuy, "10", "100", "0", 1)))
	require.NoError(t, trades.Insert(ctx, fill("B2", "BTCUSDT", domain.SideBuy, "5", "110", "0", 2)))
	require.NoError(t, trades.Insert(ctx, fill("S1", "BTCUSDT", domain.SideSell, "12", "120", "0", 3)))

	result, err := engine.Compute(ctx, Request{Namespace: "default", CutoffMs: 10})
	require.NoError(t, err)

	require.Len(t, result.Allocations, 2)
	require.Equal(t, 2, result.Matched)
	require.Equal(t, 0, result.Residues)

	first := result.Allocations[0]
	assert.Equal(t, "B1", first.BuyOrderID)
	assert.Equal(t, "S1", first.SellOrderID)
	assert.True(t, first.MatchedQty.Equal(decimal.RequireFromString("10")))
	assert.True(t, first.BuyPrice.Equal(decimal.RequireFromString("100")))
	// 10 * (120 - 100) = 200
	assert.True(t, first.RealizedPnL.Equal(decimal.RequireFromString("200")))

	second := result.Allocations[1]
	assert.Equal(t, "B2", second.BuyOrderID)
	assert.True(t, second.MatchedQty.Equal(decimal.RequireFromString("2")))
	assert.True(t, second.BuyPrice.Equal(decimal.RequireFromString("110")))
	// 2 * (120 - 110) = 20
	assert.True(t, second.RealizedPnL.Equal(decimal.RequireFromString("20")))

	assert.True(t, result.RealizedPnL.Equal(decimal.RequireFromString("220")))
	// second buy lot retains 3 units open; nothing emitted for them
	assert.True(t, result.ResidueQty.IsZero())
}

func TestEngine_FailedComputationInvalidatesVersion(t *testing.T) {
	engine, trades, _, versions := newTestEngine()
	ctx := context.Background()

	require.NoError(t, trades.Insert(ctx, fill("B1", "BTCUSDT", domain.SideBuy, "10", "100", "0", 1)))
	require.NoError(t, trades.Insert(ctx, fill("H1", "BTCUSDT", domain.Side("HOLD"), "1", "100", "0", 2)))

	_, err := engine.Compute(ctx, Request{Namespace: "default", CutoffMs: 10})
	require.Error(t, err)

	// the aborted version must not linger in COMPUTING
	v, err := versions.Get(ctx, "default", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.VersionInvalid, v.Status)
	assert.Contains(t, v.InvalidReason, "computation aborted")
}

func TestEngine_UnmatchedSellResidue(t *testing.T) {
	engine, trades, _, versions := newTestEngine()
	ctx := context.Background()

	// sell with no prior buy of that symbol
	require.NoError(t, trades.Insert(ctx, fill("S1", "ETHUSDT", domain.SideSell, "8", "50", "0.1", 5)))

	result, err := engine.Compute(ctx, Request{Namespace: "default", CutoffMs: 10})
	require.NoError(t, err)

	require.Len(t, result.Allocations, 1)
	require.Equal(t, 0, result.Matched)
	require.Equal(t, 1, result.Residues)

	residue := result.Allocations[0]
	assert.True(t, residue.Residue)
	assert.Equal(t, "", residue.BuyOrderID)
	assert.Equal(t, "S1", residue.SellOrderID)
	assert.True(t, residue.MatchedQty.Equal(decimal.RequireFromString("8")))
	assert.True(t, residue.BuyPrice.IsZero())
	assert.True(t, residue.RealizedPnL.IsZero())

	// residue is recorded on the version row for audit
	v, err := versions.Get(ctx, "default", result.Version.Number)
	require.NoError(t, err)
	assert.True(t, v.ResidueQty.Equal(decimal.RequireFromString("8")))
	assert.Equal(t, domain.VersionComputing, v.Status)
}

func TestEngine_ProRataFees(t *testing.T) {
	engine, trades, _, _ := newTestEngine()
	ctx := context.Background()

	// buy 10 @ 100 with fee 1, sell 4 @ 110 with fee 0.8
	require.NoError(t, trades.Insert(ctx, fill("B1", "BTCUSDT", domain.SideBuy, "10", "100", "1", 1)))
	require.NoError(t, trades.Insert(ctx, fill("S1", "BTCUSDT", domain.SideSell, "4", "110", "0.8", 2)))

	result, err := engine.Compute(ctx, Request{Namespace: "default", CutoffMs: 10})
	require.NoError(t, err)

	require.Len(t, result.Allocations, 1)
	a := result.Allocations[0]

	// fee = 1*4/10 + 0.8*4/4 = 0.4 + 0.8 = 1.2
	assert.True(t, a.FeeAllocated.Equal(decimal.RequireFromString("1.2")), "fee was %s", a.FeeAllocated)
	// pnl = 4*(110-100) - 1.2 = 38.8
	assert.True(t, a.RealizedPnL.Equal(decimal.RequireFromString("38.8")), "pnl was %s", a.RealizedPnL)
}

func TestEngine_TimestampTieBreakByOrderID(t *testing.T) {
	engine, trades, _, _ := newTestEngine()
	ctx := context.Background()

	// two buys at the same exchange timestamp: order_id breaks the tie
	require.NoError(t, trades.Insert(ctx, fill("B2", "BTCUSDT", domain.SideBuy, "1", "200", "0", 1)))
	require.NoError(t, trades.Insert(ctx, fill("B1", "BTCUSDT", domain.SideBuy, "1", "100", "0", 1)))
	require.NoError(t, trades.Insert(ctx, fill("S1", "BTCUSDT", domain.SideSell, "1", "150", "0", 2)))

	result, err := engine.Compute(ctx, Request{Namespace: "default", CutoffMs: 10})
	require.NoError(t, err)

	require.Len(t, result.Allocations, 1)
	assert.Equal(t, "B1", result.Allocations[0].BuyOrderID)
}

func TestEngine_Determinism(t *testing.T) {
	ctx := context.Background()

	records := []*domain.TradeRecord{
		fill("B1", "BTCUSDT", domain.SideBuy, "3.5", "100.25", "0.01", 1),
		fill("B2", "BTCUSDT", domain.SideBuy, "2.25", "101.5", "0.02", 2),
		fill("S1", "BTCUSDT", domain.SideSell, "4", "103", "0.03", 3),
		fill("B3", "ETHUSDT", domain.SideBuy, "10", "20", "0.05", 1),
		fill("S2", "ETHUSDT", domain.SideSell, "12", "22", "0.06", 4),
		fill("S3", "BTCUSDT", domain.SideSell, "1", "99", "0.01", 5),
	}

	run := func() []*domain.FIFOAllocation {
		engine, trades, _, _ := newTestEngine()
		require.NoError(t, trades.InsertBulk(ctx, records))
		result, err := engine.Compute(ctx, Request{Namespace: "default", CutoffMs: 10})
		require.NoError(t, err)
		return result.Allocations
	}

	first := run()
	second := run()

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].AllocationID, second[i].AllocationID)
		assert.True(t, first[i].MatchedQty.Equal(second[i].MatchedQty))
		assert.True(t, first[i].RealizedPnL.Equal(second[i].RealizedPnL))
		assert.Equal(t, first[i].Seq, second[i].Seq)
	}
}

func TestEngine_Conservation(t *testing.T) {
	engine, trades, _, _ := newTestEngine()
	ctx := context.Background()

	require.NoError(t, trades.Insert(ctx, fill("B1", "BTCUSDT", domain.SideBuy, "5", "100", "0", 1)))
	require.NoError(t, trades.Insert(ctx, fill("S1", "BTCUSDT", domain.SideSell, "3", "110", "0", 2)))
	require.NoError(t, trades.Insert(ctx, fill("S2", "BTCUSDT", domain.SideSell, "4", "120", "0", 3)))

	result, err := engine.Compute(ctx, Request{Namespace: "default", CutoffMs: 10})
	require.NoError(t, err)

	// sells total 7, buys total 5: 5 matched, 2 residue
	matched := decimal.Zero
	residue := decimal.Zero
	for _, a := range result.Allocations {
		if a.Residue {
			residue = residue.Add(a.MatchedQty)
		} else {
			matched = matched.Add(a.MatchedQty)
		}
	}
	assert.True(t, matched.Equal(decimal.RequireFromString("5")))
	assert.True(t, residue.Equal(decimal.RequireFromString("2")))
}

func TestEngine_CutoffExcludesLateIngestion(t *testing.T) {
	engine, trades, _, _ := newTestEngine()
	ctx := context.Background()

	buy := fill("B1", "BTCUSDT", domain.SideBuy, "1", "100", "0", 1)
	late := fill("S1", "BTCUSDT", domain.SideSell, "1", "110", "0", 2)
	late.IngestedAt = 100 // ingested after the cutoff

	require.NoError(t, trades.Insert(ctx, buy))
	require.NoError(t, trades.Insert(ctx, late))

	result, err := engine.Compute(ctx, Request{Namespace: "default", CutoffMs: 50})
	require.NoError(t, err)

	assert.Empty(t, result.Allocations)
}

func TestEngine_SymbolScope(t *testing.T) {
	engine, trades, _, _ := newTestEngine()
	ctx := context.Background()

	require.NoError(t, trades.Insert(ctx, fill("B1", "BTCUSDT", domain.SideBuy, "1", "100", "0", 1)))
	require.NoError(t, trades.Insert(ctx, fill("S1", "BTCUSDT", domain.SideSell, "1", "110", "0", 2)))
	require.NoError(t, trades.Insert(ctx, fill("B2", "ETHUSDT", domain.SideBuy, "1", "10", "0", 1)))
	require.NoError(t, trades.Insert(ctx, fill("S2", "ETHUSDT", domain.SideSell, "1", "12", "0", 2)))

	result, err := engine.Compute(ctx, Request{Namespace: "default", Symbols: []string{"ETHUSDT"}, CutoffMs: 10})
	require.NoError(t, err)

	require.Len(t, result.Allocations, 1)
	assert.Equal(t, "ETHUSDT", result.Allocations[0].Symbol)
}

func TestEngine_PersistsAllocations(t *testing.T) {
	engine, trades, allocs, _ := newTestEngine()
	ctx := context.Background()

	require.NoError(t, trades.Insert(ctx, fill("B1", "BTCUSDT", domain.SideBuy, "2", "100", "0", 1)))
	require.NoError(t, trades.Insert(ctx, fill("S1", "BTCUSDT", domain.SideSell, "2", "105", "0", 2)))

	result, err := engine.Compute(ctx, Request{Namespace: "default", CutoffMs: 10})
	require.NoError(t, err)

	stored, err := allocs.GetByVersion(ctx, "default", result.Version.Number)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, result.Allocations[0].AllocationID, stored[0].AllocationID)
}
