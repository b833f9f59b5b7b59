package postgres

import (
	"context"
	"fmt"
	"sync"

	"trade-pnl-lab/internal/version"
)

// Lease implements version.Lease on top of Postgres advisory locks, so
// that computations exclude each other across processes, not only
// within one. The lock is session scoped: the holding connection is
// pinned out of the pool until release.
type Lease struct {
	pool *Pool
}

// NewLease creates a new advisory-lock lease.
func NewLease(pool *Pool) *Lease {
	return &Lease{pool: pool}
}

// Compile-time interface check.
var _ version.Lease = (*Lease)(nil)

// Acquire takes the namespace lock without waiting. Returns
// ErrComputationInProgress when another holder exists.
func (l *Lease) Acquire(ctx context.Context, namespace string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for lease: %w", err)
	}

	var locked bool
	err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, namespace).Scan(&locked)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, version.ErrComputationInProgress
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// Unlock on the holding session. If this fails the
			// connection release drops the lock with the session.
			_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, namespace)
			conn.Release()
		})
	}
	return release, nil
}
