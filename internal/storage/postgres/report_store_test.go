package postgres

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/storage"
)

func testReport(namespace string, createdAtMs int64) *domain.ReconciliationReport {
	return &domain.ReconciliationReport{
		ReportID:      uuid.NewString(),
		Namespace:     namespace,
		Tier:          domain.TierPresence,
		Symbols:       []string{"BTCUSDT"},
		WindowStartMs: 0,
		WindowEndMs:   10000,
		CutoffMs:      createdAtMs,
		CreatedAtMs:   createdAtMs,
		Discrepancies: []domain.Discrepancy{
			{Kind: domain.MissingTrade, Symbol: "BTCUSDT", OrderID: "X123"},
			{
				Kind:          domain.AmountMismatch,
				Symbol:        "BTCUSDT",
				OrderID:       "O1",
				Field:         "fee",
				LocalValue:    "0.1",
				ExternalValue: "0.3",
			},
		},
	}
}

func TestReportStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewReportStore(pool)

	report := testReport("default", 1000)
	require.NoError(t, store.Insert(ctx, report))

	got, err := store.GetByID(ctx, report.ReportID)
	require.NoError(t, err)

	assert.Equal(t, report.Namespace, got.Namespace)
	assert.Equal(t, domain.TierPresence, got.Tier)
	assert.Equal(t, report.Symbols, got.Symbols)
	require.Len(t, got.Discrepancies, 2)
	assert.Equal(t, domain.MissingTrade, got.Discrepancies[0].Kind)
	assert.Equal(t, "X123", got.Discrepancies[0].OrderID)
	assert.Equal(t, "fee", got.Discrepancies[1].Field)
	assert.Equal(t, "0.3", got.Discrepancies[1].ExternalValue)
}

func TestReportStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewReportStore(pool)

	report := testReport("default", 1000)
	require.NoError(t, store.Insert(ctx, report))

	err := store.Insert(ctx, report)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestReportStore_GetNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewReportStore(pool)

	_, err := store.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReportStore_EmptyDiscrepancies(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewReportStore(pool)

	report := testReport("default", 1000)
	report.Discrepancies = nil
	require.NoError(t, store.Insert(ctx, report))

	got, err := store.GetByID(ctx, report.ReportID)
	require.NoError(t, err)
	assert.Empty(t, got.Discrepancies)
}

func TestReportStore_GetByTimeRange(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewReportStore(pool)

	early := testReport("default", 1000)
	mid := testReport("default", 2000)
	late := testReport("default", 3000)
	other := testReport("other", 2000)
	for _, r := range []*domain.ReconciliationReport{late, early, mid, other} {
		require.NoError(t, store.Insert(ctx, r))
	}

	reports, err := store.GetByTimeRange(ctx, "default", 1000, 2000)
	require.NoError(t, err)

	// inclusive bounds, ordered by created_at, namespace scoped
	require.Len(t, reports, 2)
	assert.Equal(t, early.ReportID, reports[0].ReportID)
	assert.Equal(t, mid.ReportID, reports[1].ReportID)
}
