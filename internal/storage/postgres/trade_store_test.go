package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/storage"
)

func testTrade(orderID, symbol string, side domain.Side, qty, price string, executedAt, ingestedAt int64) *domain.TradeRecord {
	return &domain.TradeRecord{
		OrderID:    orderID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   decimal.RequireFromString(qty),
		Price:      decimal.RequireFromString(price),
		Fee:        decimal.RequireFromString("0.001"),
		ExecutedAt: executedAt,
		IngestedAt: ingestedAt,
		Source:     domain.SourceNormal,
	}
}

func TestTradeStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	trade := testTrade("ORD1", "BTCUSDT", domain.SideBuy, "0.5", "42000.125", 1000, 1001)
	err := store.Insert(ctx, trade)
	require.NoError(t, err)

	retrieved, err := store.GetByOrderID(ctx, "ORD1", "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, trade.OrderID, retrieved.OrderID)
	assert.Equal(t, trade.Side, retrieved.Side)
	assert.True(t, trade.Quantity.Equal(retrieved.Quantity), "quantity read back changed: %s", retrieved.Quantity)
	assert.True(t, trade.Price.Equal(retrieved.Price), "price read back changed: %s", retrieved.Price)
	assert.Equal(t, trade.ExecutedAt, retrieved.ExecutedAt)
	assert.Equal(t, domain.SourceNormal, retrieved.Source)
}

func TestTradeStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	trade := testTrade("ORD1", "BTCUSDT", domain.SideBuy, "1", "100", 1000, 1001)
	require.NoError(t, store.Insert(ctx, trade))

	err := store.Insert(ctx, trade)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestTradeStore_SameOrderIDDifferentSymbol(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	require.NoError(t, store.Insert(ctx, testTrade("ORD1", "BTCUSDT", domain.SideBuy, "1", "100", 1000, 1001)))
	require.NoError(t, store.Insert(ctx, testTrade("ORD1", "ETHUSDT", domain.SideBuy, "1", "100", 1000, 1001)))

	_, err := store.GetByOrderID(ctx, "ORD1", "ETHUSDT")
	require.NoError(t, err)
}

func TestTradeStore_GetNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	_, err := store.GetByOrderID(ctx, "MISSING", "BTCUSDT")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTradeStore_InsertBulkRollsBackOnDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	require.NoError(t, store.Insert(ctx, testTrade("ORD2", "BTCUSDT", domain.SideBuy, "1", "100", 1000, 1001)))

	batch := []*domain.TradeRecord{
		testTrade("ORD1", "BTCUSDT", domain.SideBuy, "1", "100", 1000, 1001),
		testTrade("ORD2", "BTCUSDT", domain.SideBuy, "1", "100", 1000, 1001),
	}
	err := store.InsertBulk(ctx, batch)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// ORD1 must not have been committed
	_, err = store.GetByOrderID(ctx, "ORD1", "BTCUSDT")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTradeStore_ScanForAllocationOrderAndCutoff(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	// inserted out of FIFO order; B and A share a timestamp
	require.NoError(t, store.Insert(ctx, testTrade("C", "BTCUSDT", domain.SideBuy, "1", "100", 3000, 100)))
	require.NoError(t, store.Insert(ctx, testTrade("B", "BTCUSDT", domain.SideBuy, "1", "100", 1000, 100)))
	require.NoError(t, store.Insert(ctx, testTrade("A", "BTCUSDT", domain.SideBuy, "1", "100", 1000, 100)))
	require.NoError(t, store.Insert(ctx, testTrade("D", "BTCUSDT", domain.SideBuy, "1", "100", 500, 999)))

	trades, err := store.ScanForAllocation(ctx, []string{"BTCUSDT"}, 200)
	require.NoError(t, err)

	// D is excluded by the ingestion cutoff despite the earliest executed_at
	require.Len(t, trades, 3)
	assert.Equal(t, "A", trades[0].OrderID)
	assert.Equal(t, "B", trades[1].OrderID)
	assert.Equal(t, "C", trades[2].OrderID)
}

func TestTradeStore_ScanForAllocationAllSymbols(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	require.NoError(t, store.Insert(ctx, testTrade("O1", "BTCUSDT", domain.SideBuy, "1", "100", 1000, 100)))
	require.NoError(t, store.Insert(ctx, testTrade("O2", "ETHUSDT", domain.SideBuy, "1", "100", 1000, 100)))

	trades, err := store.ScanForAllocation(ctx, nil, 200)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestTradeStore_GetByWindow(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	require.NoError(t, store.Insert(ctx, testTrade("O1", "BTCUSDT", domain.SideBuy, "1", "100", 1000, 100)))
	require.NoError(t, store.Insert(ctx, testTrade("O2", "BTCUSDT", domain.SideBuy, "1", "100", 2000, 100)))
	require.NoError(t, store.Insert(ctx, testTrade("O3", "BTCUSDT", domain.SideBuy, "1", "100", 3000, 100)))

	trades, err := store.GetByWindow(ctx, []string{"BTCUSDT"}, 1000, 2000)
	require.NoError(t, err)

	// window bounds are inclusive
	require.Len(t, trades, 2)
	assert.Equal(t, "O1", trades[0].OrderID)
	assert.Equal(t, "O2", trades[1].OrderID)
}

func TestTradeStore_Symbols(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	require.NoError(t, store.Insert(ctx, testTrade("O1", "ETHUSDT", domain.SideBuy, "1", "100", 1000, 100)))
	require.NoError(t, store.Insert(ctx, testTrade("O2", "BTCUSDT", domain.SideBuy, "1", "100", 1000, 100)))
	require.NoError(t, store.Insert(ctx, testTrade("O3", "BTCUSDT", domain.SideSell, "1", "100", 2000, 100)))

	symbols, err := store.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, symbols)
}

func TestTradeStore_DecimalPrecisionPreserved(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	trade := testTrade("PREC", "BTCUSDT", domain.SideBuy, "0.123456789012345678", "98765.43210987654321", 1000, 1001)
	require.NoError(t, store.Insert(ctx, trade))

	retrieved, err := store.GetByOrderID(ctx, "PREC", "BTCUSDT")
	require.NoError(t, err)

	assert.True(t, trade.Quantity.Equal(retrieved.Quantity), "quantity lost precision: %s", retrieved.Quantity)
	assert.True(t, trade.Price.Equal(retrieved.Price), "price lost precision: %s", retrieved.Price)
}
