package version

import (
	"context"
	"errors"
	"sync"
)

// ErrComputationInProgress is returned when a computation lease is
// already held for a namespace. Callers wait or fail fast; they must
// never compute against a partially written snapshot.
var ErrComputationInProgress = errors.New("allocation computation already in progress for namespace")

// Lease grants mutual exclusion for allocation computations per namespace.
type Lease interface {
	// Acquire takes the lease for the namespace. Returns a release
	// function on success, ErrComputationInProgress when held.
	Acquire(ctx context.Context, namespace string) (func(), error)
}

// MemoryLease is an in-process Lease for single-node deployments.
type MemoryLease struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewMemoryLease creates a new in-process lease.
func NewMemoryLease() *MemoryLease {
	return &MemoryLease{held: make(map[string]bool)}
}

// Compile-time interface check.
var _ Lease = (*MemoryLease)(nil)

// Acquire takes the lease, failing fast when already held.
func (l *MemoryLease) Acquire(_ context.Context, namespace string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[namespace] {
		return nil, ErrComputationInProgress
	}
	l.held[namespace] = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.held, namespace)
		})
	}
	return release, nil
}
