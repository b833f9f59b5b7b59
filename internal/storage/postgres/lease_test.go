package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-pnl-lab/internal/version"
)

func TestLease_MutualExclusion(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	lease := NewLease(pool)

	release, err := lease.Acquire(ctx, "default")
	require.NoError(t, err)

	_, err = lease.Acquire(ctx, "default")
	assert.ErrorIs(t, err, version.ErrComputationInProgress)

	release()

	release2, err := lease.Acquire(ctx, "default")
	require.NoError(t, err)
	release2()
}

func TestLease_NamespacesIndependent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	lease := NewLease(pool)

	release1, err := lease.Acquire(ctx, "alpha")
	require.NoError(t, err)
	defer release1()

	release2, err := lease.Acquire(ctx, "beta")
	require.NoError(t, err)
	defer release2()
}

func TestLease_ReleaseIdempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	lease := NewLease(pool)

	release, err := lease.Acquire(ctx, "default")
	require.NoError(t, err)

	release()
	release()

	release2, err := lease.Acquire(ctx, "default")
	require.NoError(t, err)
	release2()
}
