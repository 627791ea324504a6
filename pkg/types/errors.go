package types

import (
	"errors"
)

var (
	// ErrInsufficientCapacity means no destination satisfied the request.
	// The caller may retry later or with relaxed constraints.
	ErrInsufficientCapacity = errors.New("insufficient capacity")

	// ErrAffinityConflict means affinity rules produced contradictory scopes.
	// Not retryable without changing the input.
	ErrAffinityConflict = errors.New("affinity conflict")

	// ErrResourceUnavailable means a chosen resource rejected a reservation or command
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrLockContention means the per-workload lease could not be acquired
	ErrLockContention = errors.New("lock contention")

	// ErrTimeout means a bounded wait expired
	ErrTimeout = errors.New("timeout")

	// ErrNotFound is returned by repositories and inventories for unknown ids
	ErrNotFound = errors.New("not found")
)

// IsTransient reports whether err is worth retrying under a retry policy
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAffinityConflict) {
		return false
	}
	return errors.Is(err, ErrResourceUnavailable) ||
		errors.Is(err, ErrLockContention) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrInsufficientCapacity)
}
