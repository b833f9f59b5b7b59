// Package version manages allocation version lifecycle: atomic number
// allocation, the per-namespace current pointer, and the computation lease.
package version

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/storage"
)

// Manager owns version lifecycle decisions. Promotion to current only
// happens for validated versions; superseding never deletes rows, so
// reads by explicit version number always return the historical result.
type Manager struct {
	store  storage.VersionStore
	lease  Lease
	logger zerolog.Logger
}

// ManagerOptions contains configuration for creating a Manager.
type ManagerOptions struct {
	VersionStore storage.VersionStore
	Lease        Lease
	Logger       zerolog.Logger
}

// NewManager creates a new version manager.
func NewManager(opts ManagerOptions) *Manager {
	lease := opts.Lease
	if lease == nil {
		lease = NewMemoryLease()
	}
	return &Manager{
		store:  opts.VersionStore,
		lease:  lease,
		logger: opts.Logger,
	}
}

// Begin acquires the computation lease for a namespace. The returned
// release function must be called once the version reaches a terminal
// status. Returns ErrComputationInProgress when a computation is in flight.
func (m *Manager) Begin(ctx context.Context, namespace string) (func(), error) {
	release, err := m.lease.Acquire(ctx, namespace)
	if err != nil {
		return nil, err
	}
	m.logger.Debug().Str("namespace", namespace).Msg("computation lease acquired")
	return release, nil
}

// Finalize transitions a computed version to its terminal status.
// A valid version is promoted to current atomically, superseding the
// prior current version; an invalid one is retained for debugging but
// never promoted.
func (m *Manager) Finalize(ctx context.Context, namespace string, number int64, valid bool, reason string) error {
	if valid {
		if err := m.store.SetStatus(ctx, namespace, number, domain.VersionValid, ""); err != nil {
			return fmt.Errorf("mark version %d valid: %w", number, err)
		}
		if err := m.store.Promote(ctx, namespace, number); err != nil {
			return fmt.Errorf("promote version %d: %w", number, err)
		}
		m.logger.Info().
			Str("namespace", namespace).
			Int64("version", number).
			Msg("version promoted to current")
		return nil
	}

	if err := m.store.SetStatus(ctx, namespace, number, domain.VersionInvalid, reason); err != nil {
		return fmt.Errorf("mark version %d invalid: %w", number, err)
	}
	m.logger.Error().
		Str("namespace", namespace).
		Int64("version", number).
		Str("reason", reason).
		Msg("version marked invalid, not promoted")
	return nil
}

// Current returns the current version for a namespace.
func (m *Manager) Current(ctx context.Context, namespace string) (*domain.AllocationVersion, error) {
	return m.store.GetCurrent(ctx, namespace)
}

// ByNumber returns a version by explicit number, current or historical.
func (m *Manager) ByNumber(ctx context.Context, namespace string, number int64) (*domain.AllocationVersion, error) {
	return m.store.Get(ctx, namespace, number)
}

// History returns all versions of a namespace, oldest first.
func (m *Manager) History(ctx context.Context, namespace string) ([]*domain.AllocationVersion, error) {
	return m.store.ListByNamespace(ctx, namespace)
}
