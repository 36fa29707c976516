// Package apperrors holds the error kinds shared by the scheduling core and its stores.
// Callers match them with errors.Is; concrete errors wrap them with context.
package apperrors

import "errors"

var (
	// ErrValidation marks malformed input such as a time range with end <= start.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a referenced block, session or routine that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a uniqueness violation (external calendar ref, routine/day key).
	ErrConflict = errors.New("conflict")
	// ErrUpstream marks a failure talking to an external calendar provider.
	ErrUpstream = errors.New("upstream failure")
	// ErrPersistence marks a store write or read failure.
	ErrPersistence = errors.New("persistence failure")
	// ErrInvalidTransition marks a session state change that is not allowed.
	ErrInvalidTransition = errors.New("invalid transition")
)
