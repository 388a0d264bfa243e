package state

import "errors"

var (
	// ErrAccessViolation is returned when a store operation is attempted
	// through an Access that does not hold the resource it touches.
	ErrAccessViolation = errors.New("access violation")

	// ErrValidation is returned when a required argument is missing or
	// malformed. The store is left unchanged.
	ErrValidation = errors.New("invalid argument")
)
