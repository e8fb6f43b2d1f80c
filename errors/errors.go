// Package errors provides error handling for bfhtw.
//
// This package re-exports github.com/cockroachdb/errors, providing stack
// traces, wrapping, hints and details. On top of that it defines the
// pipeline failure taxonomy: every failure raised by a source, validator,
// processor or store is marked with one of the category sentinels below so
// callers can classify it with errors.Is without string matching.
//
// Usage:
//
//	if err := src.ValidateConnection(ctx); err != nil {
//	    return errors.MarkConnection(errors.Wrap(err, "pubmed unreachable"))
//	}
//
//	if errors.Is(err, errors.ErrConnection) {
//	    // abort the run
//	}
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
	WithSecondaryError = crdb.WithSecondaryError
	CombineErrors      = crdb.CombineErrors
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	Mark           = crdb.Mark
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Pipeline failure categories.
// A run aborts on ErrConnection; every other category is recorded against
// the item (or row) that produced it and the run continues.
var (
	// ErrConnection indicates a data source could not be reached
	ErrConnection = New("connection failure")

	// ErrValidation indicates an item failed validation
	ErrValidation = New("validation failure")

	// ErrProcessing indicates an item could not be transformed into a record
	ErrProcessing = New("processing failure")

	// ErrConfiguration indicates a pipeline or config document is unusable
	ErrConfiguration = New("configuration error")

	// ErrStorage indicates a persistence operation failed
	ErrStorage = New("storage failure")
)

// General sentinels.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")

	// ErrConflict indicates a resource conflict (e.g., duplicate key)
	ErrConflict = New("resource conflict")
)

// MarkConnection marks err as a connection failure. Returns nil for nil.
func MarkConnection(err error) error { return mark(err, ErrConnection) }

// MarkValidation marks err as a validation failure. Returns nil for nil.
func MarkValidation(err error) error { return mark(err, ErrValidation) }

// MarkProcessing marks err as a processing failure. Returns nil for nil.
func MarkProcessing(err error) error { return mark(err, ErrProcessing) }

// MarkConfiguration marks err as a configuration error. Returns nil for nil.
func MarkConfiguration(err error) error { return mark(err, ErrConfiguration) }

// MarkStorage marks err as a storage failure. Returns nil for nil.
func MarkStorage(err error) error { return mark(err, ErrStorage) }

func mark(err, category error) error {
	if err == nil {
		return nil
	}
	return crdb.Mark(err, category)
}

// Category returns the short name of the failure category err belongs to,
// or "unknown" when it carries none of the pipeline markers.
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrConnection):
		return "connection"
	case Is(err, ErrValidation):
		return "validation"
	case Is(err, ErrProcessing):
		return "processing"
	case Is(err, ErrConfiguration):
		return "configuration"
	case Is(err, ErrStorage):
		return "storage"
	case Is(err, ErrNotFound):
		return "not_found"
	case Is(err, ErrTimeout):
		return "timeout"
	}
	return "unknown"
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}

// NewConfigurationError creates a configuration error with a formatted message
func NewConfigurationError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrConfiguration)
}

// NewConnectionError creates a connection failure with a formatted message
func NewConnectionError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrConnection)
}

// NewValidationError creates a validation failure with a formatted message
func NewValidationError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrValidation)
}

// WrapConnection wraps err with msg and marks it as a connection failure
func WrapConnection(err error, msg string) error { return MarkConnection(Wrap(err, msg)) }

// WrapStorage wraps err with msg and marks it as a storage failure
func WrapStorage(err error, msg string) error { return MarkStorage(Wrap(err, msg)) }

// WrapProcessing wraps err with msg and marks it as a processing failure
func WrapProcessing(err error, msg string) error { return MarkProcessing(Wrap(err, msg)) }

// IsConnectionError checks if an error carries the connection marker
func IsConnectionError(err error) bool { return err != nil && Is(err, ErrConnection) }

// IsStorageError checks if an error carries the storage marker
func IsStorageError(err error) bool { return err != nil && Is(err, ErrStorage) }

// IsConfigurationError checks if an error carries the configuration marker
func IsConfigurationError(err error) bool { return err != nil && Is(err, ErrConfiguration) }
