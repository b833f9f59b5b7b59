package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/storage"
)

// ReportStore implements storage.ReportStore using PostgreSQL.
// Discrepancy lists are stored as JSONB: reports are write-once audit
// records read back whole, never queried by individual finding.
type ReportStore struct {
	pool *Pool
}

// NewReportStore creates a new ReportStore.
func NewReportStore(pool *Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ReportStore = (*ReportStore)(nil)

// Insert adds a report. Returns ErrDuplicateKey if report_id exists.
func (s *ReportStore) Insert(ctx context.Context, r *domain.ReconciliationReport) error {
	discrepancies, err := json.Marshal(r.Discrepancies)
	if err != nil {
		return fmt.Errorf("marshal discrepancies: %w", err)
	}

	symbols := r.Symbols
	if symbols == nil {
		symbols = []string{}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO reconciliation_reports (
			report_id, namespace, tier, symbols,
			window_start_ms, window_end_ms, cutoff_ms, created_at_ms,
			discrepancies
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		r.ReportID, r.Namespace, int(r.Tier), symbols,
		r.WindowStartMs, r.WindowEndMs, r.CutoffMs, r.CreatedAtMs,
		discrepancies,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert reconciliation report: %w", err)
	}
	return nil
}

// GetByID retrieves a report. Returns ErrNotFound if not exists.
func (s *ReportStore) GetByID(ctx context.Context, reportID string) (*domain.ReconciliationReport, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			report_id, namespace, tier, symbols,
			window_start_ms, window_end_ms, cutoff_ms, created_at_ms,
			discrepancies
		FROM reconciliation_reports
		WHERE report_id = $1
	`, reportID)

	r, err := scanReport(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get reconciliation report: %w", err)
	}
	return r, nil
}

// GetByTimeRange retrieves reports created within [startMs, endMs].
func (s *ReportStore) GetByTimeRange(ctx context.Context, namespace string, startMs, endMs int64) ([]*domain.ReconciliationReport, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			report_id, namespace, tier, symbols,
			window_start_ms, window_end_ms, cutoff_ms, created_at_ms,
			discrepancies
		FROM reconciliation_reports
		WHERE namespace = $1 AND created_at_ms >= $2 AND created_at_ms <= $3
		ORDER BY created_at_ms ASC
	`, namespace, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("get reconciliation reports by time range: %w", err)
	}
	defer rows.Close()

	var reports []*domain.ReconciliationReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reconciliation report row: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reconciliation report rows: %w", err)
	}
	return reports, nil
}

// scanReport scans a single row into a ReconciliationReport.
func scanReport(row pgx.Row) (*domain.ReconciliationReport, error) {
	var (
		r    domain.ReconciliationReport
		tier int
		raw  []byte
	)

	err := row.Scan(
		&r.ReportID, &r.Namespace, &tier, &r.Symbols,
		&r.WindowStartMs, &r.WindowEndMs, &r.CutoffMs, &r.CreatedAtMs,
		&raw,
	)
	if err != nil {
		return nil, err
	}

	r.Tier = domain.ReconciliationTier(tier)
	if err := json.Unmarshal(raw, &r.Discrepancies); err != nil {
		return nil, fmt.Errorf("unmarshal discrepancies: %w", err)
	}
	return &r, nil
}
