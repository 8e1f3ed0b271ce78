// Package errors provides error handling for quill.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details surfaced to the user
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Sentinel errors forming the quill error taxonomy.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = New("not found")

	// ErrStorage indicates a local persistence failure (serialization or I/O).
	// Reads may be retried; writes must be surfaced so the caller can keep
	// the user's edit in an in-memory draft instead of losing it.
	ErrStorage = New("storage failure")

	// ErrNetwork indicates a transient network or server failure.
	// Operations failing with ErrNetwork are nack'd and retried with backoff.
	ErrNetwork = New("network failure")

	// ErrConflict indicates local and remote versions of an entity diverged
	// and a resolution policy must decide the outcome
	ErrConflict = New("sync conflict")

	// ErrValidation indicates the server rejected the payload permanently.
	// Never retried; surfaced to the user.
	ErrValidation = New("validation failure")

	// ErrQueueFull is the backpressure signal from the sync queue hard cap.
	// Callers should stop accepting new local mutations until drained.
	ErrQueueFull = New("sync queue full")
)

// IsRetryable reports whether an operation that failed with err should be
// re-queued with backoff rather than parked as failed. Only transient
// network/server failures are retryable; storage, validation, and conflict
// errors each have their own handling path.
func IsRetryable(err error) bool {
	return err != nil && Is(err, ErrNetwork)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsConflictError checks if an error is or wraps ErrConflict
func IsConflictError(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// IsQueueFull checks if an error is or wraps ErrQueueFull
func IsQueueFull(err error) bool {
	return err != nil && Is(err, ErrQueueFull)
}

// WrapStorage wraps a local persistence error with context while marking it
// as ErrStorage for classification
func WrapStorage(err error, context string) error {
	return Wrap(Wrap(ErrStorage, err.Error()), context)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewValidationError creates a validation error with a formatted message
func NewValidationError(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}
