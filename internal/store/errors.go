package store

import "dispatch/pkg/apperror"

// Sentinel errors surfaced by the persistence gateway's repository methods,
// on top of the generic apperror codes returned by call() for
// timeouts/breaker-open conditions.
var (
	// ErrNotFound is returned when a single-row lookup finds no matching row.
	ErrNotFound = apperror.New(apperror.CodeNotFound, "row not found")
	// ErrAlreadyAssigned is returned by AssignOrder when the order was no
	// longer pending at the moment of the conditional update.
	ErrAlreadyAssigned = apperror.ErrAlreadyAssigned
	// ErrTargetNotFound is returned when a driver has no target row.
	ErrTargetNotFound = apperror.ErrTargetNotFound
)
