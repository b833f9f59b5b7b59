package storage

import "errors"

// Storage errors for append-only stores.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists. Append-only stores do not allow updates.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrVersionConflict is returned when two computations attempt to claim
	// the same version number for a namespace. Callers must retry later.
	ErrVersionConflict = errors.New("version conflict: number already claimed for namespace")

	// ErrInvalidTransition is returned on a disallowed version status change.
	ErrInvalidTransition = errors.New("invalid version status transition")
)
