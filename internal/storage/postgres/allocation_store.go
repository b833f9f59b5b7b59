package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/storage"
)

// AllocationStore implements storage.AllocationStore using PostgreSQL.
type AllocationStore struct {
	pool *Pool
}

// NewAllocationStore creates a new AllocationStore.
func NewAllocationStore(pool *Pool) *AllocationStore {
	return &AllocationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AllocationStore = (*AllocationStore)(nil)

// InsertBulk adds all allocations of a version atomically.
// Fails entire batch on any duplicate allocation_id.
func (s *AllocationStore) InsertBulk(ctx context.Context, allocs []*domain.FIFOAllocation) error {
	if len(allocs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO fifo_allocations (
			allocation_id, namespace, version_number, symbol,
			buy_order_id, sell_order_id, matched_qty,
			buy_price, sell_price, fee_allocated, realized_pnl,
			residue, seq
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	for _, a := range allocs {
		_, err := tx.Exec(ctx, query,
			a.AllocationID, a.Namespace, a.VersionNumber, a.Symbol,
			a.BuyOrderID, a.SellOrderID, a.MatchedQty.String(),
			a.BuyPrice.String(), a.SellPrice.String(),
			a.FeeAllocated.String(), a.RealizedPnL.String(),
			a.Residue, a.Seq,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert fifo allocation in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByVersion retrieves all allocations of a version, ordered by (symbol, seq).
func (s *AllocationStore) GetByVersion(ctx context.Context, namespace string, number int64) ([]*domain.FIFOAllocation, error) {
	query := `
		SELECT
			allocation_id, namespace, version_number, symbol,
			buy_order_id, sell_order_id, matched_qty::text,
			buy_price::text, sell_price::text,
			fee_allocated::text, realized_pnl::text,
			residue, seq
		FROM fifo_allocations
		WHERE namespace = $1 AND version_number = $2
		ORDER BY symbol ASC, seq ASC
	`

	rows, err := s.pool.Query(ctx, query, namespace, number)
	if err != nil {
		return nil, fmt.Errorf("get fifo allocations by version: %w", err)
	}
	defer rows.Close()

	var allocs []*domain.FIFOAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fifo allocation row: %w", err)
		}
		allocs = append(allocs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fifo allocation rows: %w", err)
	}
	return allocs, nil
}

// scanAllocation scans a single row into a FIFOAllocation.
func scanAllocation(row pgx.Row) (*domain.FIFOAllocation, error) {
	var (
		a                               domain.FIFOAllocation
		matchedStr, buyPxStr, sellPxStr string
		feeStr, pnlStr                  string
	)

	err := row.Scan(
		&a.AllocationID, &a.Namespace, &a.VersionNumber, &a.Symbol,
		&a.BuyOrderID, &a.SellOrderID, &matchedStr,
		&buyPxStr, &sellPxStr, &feeStr, &pnlStr,
		&a.Residue, &a.Seq,
	)
	if err != nil {
		return nil, err
	}

	if a.MatchedQty, err = decimal.NewFromString(matchedStr); err != nil {
		return nil, fmt.Errorf("parse matched quantity %q: %w", matchedStr, err)
	}
	if a.BuyPrice, err = decimal.NewFromString(buyPxStr); err != nil {
		return nil, fmt.Errorf("parse buy price %q: %w", buyPxStr, err)
	}
	if a.SellPrice, err = decimal.NewFromString(sellPxStr); err != nil {
		return nil, fmt.Errorf("parse sell price %q: %w", sellPxStr, err)
	}
	if a.FeeAllocated, err = decimal.NewFromString(feeStr); err != nil {
		return nil, fmt.Errorf("parse allocated fee %q: %w", feeStr, err)
	}
	if a.RealizedPnL, err = decimal.NewFromString(pnlStr); err != nil {
		return nil, fmt.Errorf("parse realized pnl %q: %w", pnlStr, err)
	}
	return &a, nil
}
