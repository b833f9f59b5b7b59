package reconciliation

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/exchange"
	"trade-pnl-lab/internal/exchange/stub"
	"trade-pnl-lab/internal/storage/memory"
)

func ledgerFill(orderID, symbol string, side domain.Side, qty, price, fee string, executedAt int64) *domain.TradeRecord {
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

func externalFill(orderID, symbol string, side domain.Side, qty, price, fee string, executedAt int64) *exchange.Fill {
	return &exchange.Fill{
		OrderID:    orderID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   decimal.RequireFromString(qty),
		Price:      decimal.RequireFromString(price),
		Fee:        decimal.RequireFromString(fee),
		ExecutedAt: executedAt,
	}
}

func newTestEngine(fills []*exchange.Fill, trades ...*domain.TradeRecord) (*Engine, *stub.FillSource, *memory.ReportStore) {
	tradeStore := memory.NewTradeStore()
	for _, t := range trades {
		if err := tradeStore.Insert(context.Background(), t); err != nil {
			panic(err)
		}
	}
	source := stub.NewFillSource(fills)
	reports := memory.NewReportStore()
	engine := NewEngine(EngineOptions{
		TradeStore:  tradeStore,
		FillSource:  source,
		ReportStore: reports,
		Logger:      zerolog.Nop(),
	})
	return engine, source, reports
}

func TestTier1_IdenticalSets_ZeroDiscrepancies(t *testing.T) {
	engine, _, _ := newTestEngine(
		[]*exchange.Fill{
			externalFill("1", "BTCUSDT", domain.SideBuy, "1", "100", "0.1", 10),
			externalFill("2", "BTCUSDT", domain.SideSell, "1", "110", "0.1", 20),
		},
		ledgerFill("1", "BTCUSDT", domain.SideBuy, "1", "100", "0.1", 10),
		ledgerFill("2", "BTCUSDT", domain.SideSell, "1", "110", "0.1", 20),
	)

	report, err := engine.Run(context.Background(), Request{
		Namespace: "default", Tier: domain.TierPresence,
		Symbols: []string{"BTCUSDT"}, WindowStartMs: 0, WindowEndMs: 100,
	})
	require.NoError(t, err)
	assert.Empty(t, report.Discrepancies)
}

func TestTier1_MissingTrade(t *testing.T) {
	engine, _, _ := newTestEngine(
		[]*exchange.Fill{
			externalFill("1", "BTCUSDT", domain.SideBuy, "1", "100", "0.1", 10),
			externalFill("X123", "BTCUSDT", domain.SideSell, "2", "105", "0.2", 20),
		},
		ledgerFill("1", "BTCUSDT", domain.SideBuy, "1", "100", "0.1", 10),
	)

	report, err := engine.Run(context.Background(), Request{
		Namespace: "default", Tier: domain.TierPresence,
		Symbols: []string{"BTCUSDT"}, WindowStartMs: 0, WindowEndMs: 100,
	})
	require.NoError(t, err)

	require.Len(t, report.Discrepancies, 1)
	d := report.Discrepancies[0]
	assert.Equal(t, domain.MissingTrade, d.Kind)
	assert.Equal(t, "X123", d.OrderID)
	assert.Equal(t, "BTCUSDT", d.Symbol)

	missing := report.MissingOrderIDs()
	assert.Equal(t, []string{"X123"}, missing["BTCUSDT"])
}

func TestTier1_ExtraTrade_FlaggedNotRemoved(t *testing.T) {
	engine, _, _ := newTestEngine(
		nil,
		ledgerFill("local-only", "BTCUSDT", domain.SideBuy, "1", "100", "0.1", 10),
	)

	report, err := engine.Run(context.Background(), Request{
		Namespace: "default", Tier: domain.TierPresence,
		Symbols: []string{"BTCUSDT"}, WindowStartMs: 0, WindowEndMs: 100,
	})
	require.NoError(t, err)

	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, domain.ExtraTrade, report.Discrepancies[0].Kind)
	assert.Equal(t, "local-only", report.Discrepancies[0].OrderID)
}

func TestTier2_AmountMismatch(t *testing.T) {
	engine, _, _ := newTestEngine(
		[]*exchange.Fill{
			externalFill("1", "BTCUSDT", domain.SideBuy, "2", "100", "0.3", 10),
		},
		ledgerFill("1", "BTCUSDT", domain.SideBuy, "2", "100", "0.1", 10),
	)

	report, err := engine.Run(context.Background(), Request{
		Namespace: "default", Tier: domain.TierValues,
		Symbols: []string{"BTCUSDT"}, WindowStartMs: 0, WindowEndMs: 100,
	})
	require.NoError(t, err)

	require.Len(t, report.Discrepancies, 1)
	d := report.Discrepancies[0]
	assert.Equal(t, domain.AmountMismatch, d.Kind)
	assert.Equal(t, "fee", d.Field)
	assert.Equal(t, "0.1", d.LocalValue)
	assert.Equal(t, "0.3", d.ExternalValue)
}

func TestTier2_IgnoresPresenceGaps(t *testing.T) {
	engine, _, _ := newTestEngine(
		[]*exchange.Fill{
			externalFill("external-only", "BTCUSDT", domain.SideBuy, "1", "100", "0.1", 10),
		},
		ledgerFill("local-only", "BTCUSDT", domain.SideBuy, "1", "100", "0.1", 10),
	)

	report, err := engine.Run(context.Background(), Request{
		Namespace: "default", Tier: domain.TierValues,
		Symbols: []string{"BTCUSDT"}, WindowStartMs: 0, WindowEndMs: 100,
	})
	require.NoError(t, err)
	assert.Empty(t, report.Discrepancies)
}

func TestRun_SourceUnavailable_NoReport(t *testing.T) {
	engine, source, reports := newTestEngine(
		nil,
		ledgerFill("1", "BTCUSDT", domain.SideBuy, "1", "100", "0.1", 10),
	)
	source.Unavailable = true

	report, err := engine.Run(context.Background(), Request{
		Namespace: "default", Tier: domain.TierPresence,
		Symbols: []string{"BTCUSDT"}, WindowStartMs: 0, WindowEndMs: 100,
	})
	require.ErrorIs(t, err, exchange.ErrSourceUnavailable)
	assert.Nil(t, report)

	// no report claiming zero discrepancies was persisted
	stored, err := reports.GetByTimeRange(context.Background(), "default", 0, int64(1)<<62)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRun_PersistsReportWithCutoff(t *testing.T) {
	engine, _, reports := newTestEngine(
		[]*exchange.Fill{externalFill("X1", "BTCUSDT", domain.SideSell, "1", "100", "0", 10)},
		ledgerFill("1", "BTCUSDT", domain.SideBuy, "1", "100", "0.1", 10),
	)

	report, err := engine.Run(context.Background(), Request{
		Namespace: "default", Tier: domain.TierPresence,
		Symbols: []string{"BTCUSDT"}, WindowStartMs: 0, WindowEndMs: 100,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, report.ReportID)
	assert.Greater(t, report.CutoffMs, int64(0))

	stored, err := reports.GetByID(context.Background(), report.ReportID)
	require.NoError(t, err)
	assert.Equal(t, report.CutoffMs, stored.CutoffMs)
	assert.Len(t, stored.Discrepancies, 2) // missing X1 + extra 1
}
