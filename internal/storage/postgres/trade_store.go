package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
// Decimal columns are NUMERIC; values are passed and read back as
// strings so no precision is lost on the wire.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const tradeInsertQuery = `
	INSERT INTO trade_records (
		order_id, symbol, side, quantity, price, fee,
		executed_at, ingested_at, source
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const tradeSelectColumns = `
	order_id, symbol, side,
	quantity::text, price::text, fee::text,
	executed_at, ingested_at, source
`

// Insert adds a new fill. Returns ErrDuplicateKey if (order_id, symbol) exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.TradeRecord) error {
	_, err := s.pool.Exec(ctx, tradeInsertQuery,
		t.OrderID, t.Symbol, string(t.Side),
		t.Quantity.String(), t.Price.String(), t.Fee.String(),
		t.ExecutedAt, t.IngestedAt, string(t.Source),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade record: %w", err)
	}
	return nil
}

// InsertBulk adds multiple fills atomically. Fails entire batch on any duplicate.
func (s *TradeStore) InsertBulk(ctx context.Context, trades []*domain.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range trades {
		_, err := tx.Exec(ctx, tradeInsertQuery,
			t.OrderID, t.Symbol, string(t.Side),
			t.Quantity.String(), t.Price.String(), t.Fee.String(),
			t.ExecutedAt, t.IngestedAt, string(t.Source),
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert trade record in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByOrderID retrieves one fill. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByOrderID(ctx context.Context, orderID, symbol string) (*domain.TradeRecord, error) {
	query := `
		SELECT ` + tradeSelectColumns + `
		FROM trade_records
		WHERE order_id = $1 AND symbol = $2
	`

	row := s.pool.QueryRow(ctx, query, orderID, symbol)
	t, err := scanTradeRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade record: %w", err)
	}
	return t, nil
}

// ScanForAllocation retrieves all fills with ingested_at <= cutoff for the
// given symbols (empty means all), in FIFO order (executed_at, order_id).
func (s *TradeStore) ScanForAllocation(ctx context.Context, symbols []string, cutoffMs int64) ([]*domain.TradeRecord, error) {
	query := `
		SELECT ` + tradeSelectColumns + `
		FROM trade_records
		WHERE ingested_at <= $1
	`
	args := []any{cutoffMs}

	if len(symbols) > 0 {
		query += ` AND symbol = ANY($2)`
		args = append(args, symbols)
	}
	query += ` ORDER BY executed_at ASC, order_id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan trade records for allocation: %w", err)
	}
	defer rows.Close()

	return scanTradeRecords(rows)
}

// GetByWindow retrieves fills with executed_at in [startMs, endMs] for the
// given symbols.
func (s *TradeStore) GetByWindow(ctx context.Context, symbols []string, startMs, endMs int64) ([]*domain.TradeRecord, error) {
	query := `
		SELECT ` + tradeSelectColumns + `
		FROM trade_records
		WHERE executed_at >= $1 AND executed_at <= $2
	`
	args := []any{startMs, endMs}

	if len(symbols) > 0 {
		query += ` AND symbol = ANY($3)`
		args = append(args, symbols)
	}
	query += ` ORDER BY executed_at ASC, order_id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get trade records by window: %w", err)
	}
	defer rows.Close()

	return scanTradeRecords(rows)
}

// Symbols returns the distinct symbols present in the ledger, sorted ASC.
func (s *TradeStore) Symbols(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT symbol FROM trade_records ORDER BY symbol ASC`)
	if err != nil {
		return nil, fmt.Errorf("list trade symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("scan symbol row: %w", err)
		}
		symbols = append(symbols, sym)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate symbol rows: %w", err)
	}
	return symbols, nil
}

// scanTradeRecord scans a single row into a TradeRecord.
func scanTradeRecord(row pgx.Row) (*domain.TradeRecord, error) {
	var (
		t                domain.TradeRecord
		side, source     string
		qtyStr, priceStr string
		feeStr           string
	)

	err := row.Scan(
		&t.OrderID, &t.Symbol, &side,
		&qtyStr, &priceStr, &feeStr,
		&t.ExecutedAt, &t.IngestedAt, &source,
	)
	if err != nil {
		return nil, err
	}

	t.Side = domain.Side(side)
	t.Source = domain.TradeSource(source)
	if t.Quantity, err = decimal.NewFromString(qtyStr); err != nil {
		return nil, fmt.Errorf("parse quantity %q: %w", qtyStr, err)
	}
	if t.Price, err = decimal.NewFromString(priceStr); err != nil {
		return nil, fmt.Errorf("parse price %q: %w", priceStr, err)
	}
	if t.Fee, err = decimal.NewFromString(feeStr); err != nil {
		return nil, fmt.Errorf("parse fee %q: %w", feeStr, err)
	}

	return &t, nil
}

// scanTradeRecords scans multiple rows into a slice of TradeRecord.
func scanTradeRecords(rows pgx.Rows) ([]*domain.TradeRecord, error) {
	var trades []*domain.TradeRecord

	for rows.Next() {
		t, err := scanTradeRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade record row: %w", err)
		}
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade record rows: %w", err)
	}

	return trades, nil
}
