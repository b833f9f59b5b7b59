package version

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/storage"
	"trade-pnl-lab/internal/storage/memory"
)

func newTestManager() (*Manager, *memory.VersionStore) {
	store := memory.NewVersionStore()
	mgr := NewManager(ManagerOptions{
		VersionStore: store,
		Lease:        NewMemoryLease(),
		Logger:       zerolog.Nop(),
	})
	return mgr, store
}

func TestManager_LeaseMutualExclusion(t *testing.T) {
	mgr, _ := newTestManager()
	ctx := context.Background()

	release, err := mgr.Begin(ctx, "default")
	require.NoError(t, err)

	// second request while the lease is held fails fast
	_, err = mgr.Begin(ctx, "default")
	assert.ErrorIs(t, err, ErrComputationInProgress)

	// other namespaces are unaffected
	otherRelease, err := mgr.Begin(ctx, "other")
	require.NoError(t, err)
	otherRelease()

	release()

	// released lease can be reacquired
	release2, err := mgr.Begin(ctx, "default")
	require.NoError(t, err)
	release2()
}

func TestManager_ConcurrentBegin_OnlyOneWins(t *testing.T) {
	mgr, _ := newTestManager()
	ctx := context.Background()

	const attempts = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	rejected := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := mgr.Begin(ctx, "default")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, ErrComputationInProgress) {
					rejected++
				}
				return
			}
			acquired++
			_ = release // held until the end of the test
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, acquired)
	assert.Equal(t, attempts-1, rejected)
}

func TestManager_FinalizeValidPromotes(t *testing.T) {
	mgr, store := newTestManager()
	ctx := context.Background()

	v, err := store.Create(ctx, "default", 100, nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Finalize(ctx, "default", v.Number, true, ""))

	current, err := mgr.Current(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, v.Number, current.Number)
	assert.Equal(t, domain.VersionValid, current.Status)
}

func TestManager_FinalizeInvalidNeverPromotes(t *testing.T) {
	mgr, store := newTestManager()
	ctx := context.Background()

	v, err := store.Create(ctx, "default", 100, nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Finalize(ctx, "default", v.Number, false, "matched quantity exceeds sell quantity"))

	_, err = mgr.Current(ctx, "default")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// the invalid version is retained for debugging
	got, err := mgr.ByNumber(ctx, "default", v.Number)
	require.NoError(t, err)
	assert.Equal(t, domain.VersionInvalid, got.Status)
	assert.Equal(t, "matched quantity exceeds sell quantity", got.InvalidReason)
}

func TestManager_PromotionSupersedesPrior(t *testing.T) {
	mgr, store := newTestManager()
	ctx := context.Background()

	v1, err := store.Create(ctx, "default", 100, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Finalize(ctx, "default", v1.Number, true, ""))

	v2, err := store.Create(ctx, "default", 200, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Finalize(ctx, "default", v2.Number, true, ""))

	current, err := mgr.Current(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, v2.Number, current.Number)

	// superseded version reads back by explicit number
	old, err := mgr.ByNumber(ctx, "default", v1.Number)
	require.NoError(t, err)
	assert.Equal(t, domain.VersionSuperseded, old.Status)

	history, err := mgr.History(ctx, "default")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1), history[0].Number)
	assert.Equal(t, int64(2), history[1].Number)
}

func TestVersionNumbers_StrictlyIncreasing(t *testing.T) {
	_, store := newTestManager()
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		v, err := store.Create(ctx, "default", int64(i), nil)
		require.NoError(t, err)
		assert.Greater(t, v.Number, last)
		last = v.Number
	}
}
