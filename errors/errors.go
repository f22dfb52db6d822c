// Package errors provides error handling for windturbine.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Marking errors with a reference kind while keeping the cause
//
// Usage:
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Classify a step failure
//	return errors.Mark(errors.Wrap(err, "insert row"), errors.ErrPersistence)
//
//	// Check errors
//	if errors.Is(err, errors.ErrTimeout) {
//	    // handle timeout
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
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// GetStack returns the reportable stack trace carried by err, if any.
var GetStack = crdb.GetReportableStackTrace

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Step failure taxonomy.
// Steps mark their errors with one of these so the coordinator and operators
// can tell failures apart without parsing messages.
var (
	// ErrTimeout indicates a bounded wait elapsed (sensor did not see the artifact in time)
	ErrTimeout = New("timeout")

	// ErrNotFound indicates the input artifact vanished between poke and read
	ErrNotFound = New("not found")

	// ErrMalformedInput indicates a required field is missing or unparseable
	ErrMalformedInput = New("malformed input")

	// ErrPersistence indicates the destination store is unreachable or rejected a write
	ErrPersistence = New("persistence error")

	// ErrDelivery indicates the notification transport failed
	ErrDelivery = New("delivery error")

	// ErrUpstreamFailed indicates a dependency did not succeed, so the step never ran
	ErrUpstreamFailed = New("upstream failed")

	// ErrCancelled indicates the run was cancelled before the step could run
	ErrCancelled = New("cancelled")

	// ErrNotReady is returned by poking steps whose condition is not yet met.
	// The coordinator reschedules the step instead of counting a failure.
	ErrNotReady = New("not ready")
)

// Kind is the stable, machine-readable classification of a step error.
type Kind string

const (
	KindNone           Kind = ""
	KindTimeout        Kind = "timeout"
	KindNotFound       Kind = "not_found"
	KindMalformedInput Kind = "malformed_input"
	KindPersistence    Kind = "persistence_error"
	KindDelivery       Kind = "delivery_error"
	KindUpstreamFailed Kind = "upstream_failed"
	KindCancelled      Kind = "cancelled"
	KindUnknown        Kind = "unknown"
)

// kindOrder is checked in order; the first sentinel matched wins.
var kindOrder = []struct {
	sentinel error
	kind     Kind
}{
	{ErrUpstreamFailed, KindUpstreamFailed},
	{ErrCancelled, KindCancelled},
	{ErrTimeout, KindTimeout},
	{ErrNotFound, KindNotFound},
	{ErrMalformedInput, KindMalformedInput},
	{ErrPersistence, KindPersistence},
	{ErrDelivery, KindDelivery},
}

// KindOf classifies err. Returns KindNone for nil and KindUnknown for errors
// not marked with any sentinel of the taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kindOrder {
		if Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindUnknown
}

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// NewMalformedInputError creates a malformed-input error with a formatted message
func NewMalformedInputError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrMalformedInput)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}
