package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"trade-pnl-lab/internal/domain"
)

// TradeStore provides access to the append-only trade ledger.
// Uniqueness key is (order_id, symbol); inserts never update existing rows.
type TradeStore interface {
	// Insert adds a new fill. Returns ErrDuplicateKey if (order_id, symbol) exists.
	Insert(ctx context.Context, t *domain.TradeRecord) error

	// InsertBulk adds multiple fills atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, trades []*domain.TradeRecord) error

	// GetByOrderID retrieves one fill. Returns ErrNotFound if not exists.
	GetByOrderID(ctx context.Context, orderID, symbol string) (*domain.TradeRecord, error)

	// ScanForAllocation retrieves all fills with ingestion timestamp <= cutoff
	// for the given symbols (empty slice means all symbols), ordered by
	// (executed_at ASC, order_id ASC). The ordering is the FIFO total order
	// and must be stable across runs.
	ScanForAllocation(ctx context.Context, symbols []string, cutoffMs int64) ([]*domain.TradeRecord, error)

	// GetByWindow retrieves fills whose exchange timestamp falls within
	// [startMs, endMs] (inclusive) for the given symbols.
	GetByWindow(ctx context.Context, symbols []string, startMs, endMs int64) ([]*domain.TradeRecord, error)

	// Symbols returns the distinct symbols present in the ledger, sorted ASC.
	Symbols(ctx context.Context) ([]string, error)
}

// VersionStore tracks allocation versions and the current pointer per namespace.
// Version rows are never deleted; supersede is a status transition only.
type VersionStore interface {
	// Create reserves the next version number for the namespace atomically and
	// returns the new version in status COMPUTING. Returns ErrVersionConflict
	// if a concurrent computation claimed the same number.
	Create(ctx context.Context, namespace string, cutoffMs int64, symbols []string) (*domain.AllocationVersion, error)

	// Get retrieves a version by number. Returns ErrNotFound if not exists.
	Get(ctx context.Context, namespace string, number int64) (*domain.AllocationVersion, error)

	// GetCurrent retrieves the current version for the namespace.
	// Returns ErrNotFound when no version has been promoted yet.
	GetCurrent(ctx context.Context, namespace string) (*domain.AllocationVersion, error)

	// SetStatus transitions a version's status. Allowed transitions:
	// COMPUTING -> VALID|INVALID, VALID -> SUPERSEDED.
	// Returns ErrInvalidTransition otherwise.
	SetStatus(ctx context.Context, namespace string, number int64, status domain.VersionStatus, reason string) error

	// SetResidue records the total unmatched sell residue quantity on the version.
	SetResidue(ctx context.Context, namespace string, number int64, qty decimal.Decimal) error

	// Promote atomically makes the version current for its namespace,
	// marking the prior current version SUPERSEDED. The version must be VALID.
	Promote(ctx context.Context, namespace string, number int64) error

	// ListByNamespace retrieves all versions for a namespace, ordered by number ASC.
	ListByNamespace(ctx context.Context, namespace string) ([]*domain.AllocationVersion, error)
}

// AllocationStore provides access to FIFO allocation rows.
type AllocationStore interface {
	// InsertBulk adds all allocations of a version atomically.
	// Fails entire batch on any duplicate allocation_id.
	InsertBulk(ctx context.Context, allocs []*domain.FIFOAllocation) error

	// GetByVersion retrieves all allocations of a version, ordered by
	// (symbol ASC, seq ASC). Historical versions must always read back.
	GetByVersion(ctx context.Context, namespace string, number int64) ([]*domain.FIFOAllocation, error)
}

// ReportStore persists reconciliation reports as audit records.
type ReportStore interface {
	// Insert adds a report. Returns ErrDuplicateKey if report_id exists.
	Insert(ctx context.Context, r *domain.ReconciliationReport) error

	// GetByID retrieves a report. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, reportID string) (*domain.ReconciliationReport, error)

	// GetByTimeRange retrieves reports for a namespace created within
	// [startMs, endMs] (inclusive), ordered by created_at ASC.
	GetByTimeRange(ctx context.Context, namespace string, startMs, endMs int64) ([]*domain.ReconciliationReport, error)
}

// PnLHistoryStore persists per-sell realized P&L analytics rows.
type PnLHistoryStore interface {
	// InsertBulk adds multiple points. Fails entire batch on duplicate
	// (namespace, version_number, symbol, sell_order_id).
	InsertBulk(ctx context.Context, points []*domain.PnLHistoryPoint) error

	// GetByVersion retrieves all points of a version, ordered by executed_at ASC.
	GetByVersion(ctx context.Context, namespace string, number int64) ([]*domain.PnLHistoryPoint, error)
}
