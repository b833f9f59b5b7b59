package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/storage"
)

// VersionStore implements storage.VersionStore using PostgreSQL.
// The primary key (namespace, number) backs atomic number reservation:
// two computations racing for the same number collide on the unique
// constraint and one receives ErrVersionConflict.
type VersionStore struct {
	pool *Pool
}

// NewVersionStore creates a new VersionStore.
func NewVersionStore(pool *Pool) *VersionStore {
	return &VersionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.VersionStore = (*VersionStore)(nil)

const versionSelectColumns = `
	namespace, number, status, cutoff_ms, created_at_ms,
	symbols, residue_qty::text, invalid_reason
`

// Create reserves the next version number atomically, status COMPUTING.
func (s *VersionStore) Create(ctx context.Context, namespace string, cutoffMs int64, symbols []string) (*domain.AllocationVersion, error) {
	if namespace == "" {
		return nil, storage.ErrInvalidInput
	}
	if symbols == nil {
		symbols = []string{}
	}

	query := `
		INSERT INTO allocation_versions (
			namespace, number, status, cutoff_ms, created_at_ms, symbols
		)
		SELECT $1, COALESCE(MAX(number), 0) + 1, $2, $3, $4, $5
		FROM allocation_versions
		WHERE namespace = $1
		RETURNING number
	`

	createdAt := time.Now().UnixMilli()
	var number int64
	err := s.pool.QueryRow(ctx, query,
		namespace, string(domain.VersionComputing), cutoffMs, createdAt, symbols,
	).Scan(&number)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, storage.ErrVersionConflict
		}
		return nil, fmt.Errorf("create allocation version: %w", err)
	}

	return &domain.AllocationVersion{
		Namespace:   namespace,
		Number:      number,
		Status:      domain.VersionComputing,
		CutoffMs:    cutoffMs,
		CreatedAtMs: createdAt,
		Symbols:     append([]string(nil), symbols...),
		ResidueQty:  decimal.Zero,
	}, nil
}

// Get retrieves a version by number. Returns ErrNotFound if not exists.
func (s *VersionStore) Get(ctx context.Context, namespace string, number int64) (*domain.AllocationVersion, error) {
	query := `
		SELECT ` + versionSelectColumns + `
		FROM allocation_versions
		WHERE namespace = $1 AND number = $2
	`

	row := s.pool.QueryRow(ctx, query, namespace, number)
	v, err := scanVersion(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get allocation version: %w", err)
	}
	return v, nil
}

// GetCurrent retrieves the current version for the namespace.
func (s *VersionStore) GetCurrent(ctx context.Context, namespace string) (*domain.AllocationVersion, error) {
	// Columns must be qualified: both tables carry namespace and number.
	query := `
		SELECT v.namespace, v.number, v.status, v.cutoff_ms, v.created_at_ms,
		       v.symbols, v.residue_qty::text, v.invalid_reason
		FROM allocation_versions v
		JOIN allocation_current c
		  ON c.namespace = v.namespace AND c.number = v.number
		WHERE v.namespace = $1
	`

	row := s.pool.QueryRow(ctx, query, namespace)
	v, err := scanVersion(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get current allocation version: %w", err)
	}
	return v, nil
}

// SetStatus transitions a version's status under a row lock so that
// concurrent transitions observe each other.
func (s *VersionStore) SetStatus(ctx context.Context, namespace string, number int64, status domain.VersionStatus, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := lockVersionStatus(ctx, tx, namespace, number)
	if err != nil {
		return err
	}
	if !transitionAllowed(current, status) {
		return storage.ErrInvalidTransition
	}

	invalidReason := ""
	if status == domain.VersionInvalid {
		invalidReason = reason
	}
	_, err = tx.Exec(ctx, `
		UPDATE allocation_versions
		SET status = $3, invalid_reason = $4
		WHERE namespace = $1 AND number = $2
	`, namespace, number, string(status), invalidReason)
	if err != nil {
		return fmt.Errorf("update allocation version status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SetResidue records the total unmatched sell residue quantity.
func (s *VersionStore) SetResidue(ctx context.Context, namespace string, number int64, qty decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE allocation_versions
		SET residue_qty = $3::numeric
		WHERE namespace = $1 AND number = $2
	`, namespace, number, qty.String())
	if err != nil {
		return fmt.Errorf("update allocation version residue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Promote atomically makes a VALID version current, superseding the prior one.
func (s *VersionStore) Promote(ctx context.Context, namespace string, number int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err := lockVersionStatus(ctx, tx, namespace, number)
	if err != nil {
		return err
	}
	if status != domain.VersionValid {
		return storage.ErrInvalidTransition
	}

	var prev int64
	err = tx.QueryRow(ctx, `
		SELECT number FROM allocation_current WHERE namespace = $1 FOR UPDATE
	`, namespace).Scan(&prev)
	switch {
	case err == nil:
		if prev != number {
			_, err = tx.Exec(ctx, `
				UPDATE allocation_versions
				SET status = $3
				WHERE namespace = $1 AND number = $2 AND status = $4
			`, namespace, prev, string(domain.VersionSuperseded), string(domain.VersionValid))
			if err != nil {
				return fmt.Errorf("supersede prior version: %w", err)
			}
		}
	case isNotFoundError(err):
		// first promotion for this namespace
	default:
		return fmt.Errorf("read current version pointer: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO allocation_current (namespace, number) VALUES ($1, $2)
		ON CONFLICT (namespace) DO UPDATE SET number = EXCLUDED.number
	`, namespace, number)
	if err != nil {
		return fmt.Errorf("update current version pointer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListByNamespace retrieves all versions for a namespace, ordered by number ASC.
func (s *VersionStore) ListByNamespace(ctx context.Context, namespace string) ([]*domain.AllocationVersion, error) {
	query := `
		SELECT ` + versionSelectColumns + `
		FROM allocation_versions
		WHERE namespace = $1
		ORDER BY number ASC
	`

	rows, err := s.pool.Query(ctx, query, namespace)
	if err != nil {
		return nil, fmt.Errorf("list allocation versions: %w", err)
	}
	defer rows.Close()

	var versions []*domain.AllocationVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan allocation version row: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allocation version rows: %w", err)
	}
	return versions, nil
}

// lockVersionStatus reads the version's status under FOR UPDATE.
func lockVersionStatus(ctx context.Context, tx pgx.Tx, namespace string, number int64) (domain.VersionStatus, error) {
	var status string
	err := tx.QueryRow(ctx, `
		SELECT status FROM allocation_versions
		WHERE namespace = $1 AND number = $2
		FOR UPDATE
	`, namespace, number).Scan(&status)
	if err != nil {
		if isNotFoundError(err) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("lock allocation version: %w", err)
	}
	return domain.VersionStatus(status), nil
}

// scanVersion scans a single row into an AllocationVersion.
func scanVersion(row pgx.Row) (*domain.AllocationVersion, error) {
	var (
		v          domain.AllocationVersion
		status     string
		residueStr string
	)

	err := row.Scan(
		&v.Namespace, &v.Number, &status, &v.CutoffMs, &v.CreatedAtMs,
		&v.Symbols, &residueStr, &v.InvalidReason,
	)
	if err != nil {
		return nil, err
	}

	v.Status = domain.VersionStatus(status)
	if v.ResidueQty, err = decimal.NewFromString(residueStr); err != nil {
		return nil, fmt.Errorf("parse residue quantity %q: %w", residueStr, err)
	}
	return &v, nil
}

// transitionAllowed encodes the version lifecycle:
// COMPUTING -> VALID | INVALID, VALID -> SUPERSEDED.
func transitionAllowed(from, to domain.VersionStatus) bool {
	switch from {
	case domain.VersionComputing:
		return to == domain.VersionValid || to == domain.VersionInvalid
	case domain.VersionValid:
		return to == domain.VersionSuperseded
	default:
		return false
	}
}
