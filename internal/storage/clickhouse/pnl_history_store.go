package clickhouse

import (
	"context"
	"fmt"

	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/storage"
)

// PnLHistoryStore implements storage.PnLHistoryStore using ClickHouse.
// MergeTree does not enforce uniqueness at insert time, so the dedup
// key (namespace, version_number, symbol, sell_order_id) is checked
// explicitly before the batch is sent.
type PnLHistoryStore struct {
	conn *Conn
}

// NewPnLHistoryStore creates a new PnLHistoryStore.
func NewPnLHistoryStore(conn *Conn) *PnLHistoryStore {
	return &PnLHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PnLHistoryStore = (*PnLHistoryStore)(nil)

// InsertBulk adds multiple points. Fails entire batch on duplicate
// (namespace, version_number, symbol, sell_order_id).
func (s *PnLHistoryStore) InsertBulk(ctx context.Context, points []*domain.PnLHistoryPoint) error {
	if len(points) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		namespace     string
		versionNumber int64
		symbol        string
		sellOrderID   string
	}
	seen := make(map[key]struct{})
	for _, p := range points {
		k := key{p.Namespace, p.VersionNumber, p.Symbol, p.SellOrderID}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, p := range points {
		exists, err := s.exists(ctx, p)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO pnl_history (
			namespace, version_number, symbol, sell_order_id,
			executed_at_ms, matched_qty, residue_qty, realized_pnl
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			p.Namespace, p.VersionNumber, p.Symbol, p.SellOrderID,
			uint64(p.ExecutedAtMs), p.MatchedQty, p.ResidueQty, p.RealizedPnL,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByVersion retrieves all points of a version, ordered by executed_at ASC.
func (s *PnLHistoryStore) GetByVersion(ctx context.Context, namespace string, number int64) ([]*domain.PnLHistoryPoint, error) {
	query := `
		SELECT
			namespace, version_number, symbol, sell_order_id,
			executed_at_ms, matched_qty, residue_qty, realized_pnl
		FROM pnl_history
		WHERE namespace = ? AND version_number = ?
		ORDER BY executed_at_ms ASC, sell_order_id ASC
	`

	rows, err := s.conn.Query(ctx, query, namespace, number)
	if err != nil {
		return nil, fmt.Errorf("query pnl history by version: %w", err)
	}
	defer rows.Close()

	return scanPnLHistory(rows)
}

// exists checks if a point with the given dedup key exists.
func (s *PnLHistoryStore) exists(ctx context.Context, p *domain.PnLHistoryPoint) (bool, error) {
	query := `
		SELECT count(*) FROM pnl_history
		WHERE namespace = ? AND version_number = ? AND symbol = ? AND sell_order_id = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, p.Namespace, p.VersionNumber, p.Symbol, p.SellOrderID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// chRows abstracts clickhouse rows for scanning helpers.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanPnLHistory scans multiple rows into a slice.
func scanPnLHistory(rows chRows) ([]*domain.PnLHistoryPoint, error) {
	var points []*domain.PnLHistoryPoint

	for rows.Next() {
		var p domain.PnLHistoryPoint
		var executedAtMs uint64

		err := rows.Scan(
			&p.Namespace, &p.VersionNumber, &p.Symbol, &p.SellOrderID,
			&executedAtMs, &p.MatchedQty, &p.ResidueQty, &p.RealizedPnL,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pnl history row: %w", err)
		}

		p.ExecutedAtMs = int64(executedAtMs)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pnl history rows: %w", err)
	}

	return points, nil
}
