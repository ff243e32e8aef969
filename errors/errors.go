// Package errors provides error handling for entitystore.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details that survive wrapping
//
// Usage:
//
//	// Create new error
//	err := errors.New("slot already occupied")
//
//	// Wrap with context
//	if err := b.AddDiff(diff); err != nil {
//	    return errors.Wrap(err, "failed to merge module diff")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // entity is gone
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
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSafeDetails    = crdb.WithSafeDetails
	WithSecondaryError = crdb.WithSecondaryError
	CombineErrors      = crdb.CombineErrors
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapOnce     = crdb.UnwrapOnce
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Assertions
var (
	AssertionFailedf                 = crdb.AssertionFailedf
	NewAssertionErrorWithWrappedErrf = crdb.NewAssertionErrorWithWrappedErrf
	IsAssertionFailure               = crdb.IsAssertionFailure
)

// Sentinel errors shared by the storage packages.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the entity, type or connection does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the caller passed arguments the store cannot accept
	ErrInvalidRequest = New("invalid request")

	// ErrConflict indicates two entities claim the same symbolic id
	ErrConflict = New("symbolic id conflict")

	// ErrUnsupported indicates the operation cannot handle the shape of the input graph
	ErrUnsupported = New("unsupported")

	// ErrBrokenConsistency indicates the storage failed its invariant checks
	ErrBrokenConsistency = New("consistency broken")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsUnsupportedError checks if an error is or wraps ErrUnsupported
func IsUnsupportedError(err error) bool {
	return err != nil && Is(err, ErrUnsupported)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrapf(ErrNotFound, format, args...)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidRequest, format, args...)
}

// NewUnsupportedError creates an unsupported error with a formatted message
func NewUnsupportedError(format string, args ...interface{}) error {
	return Wrapf(ErrUnsupported, format, args...)
}
