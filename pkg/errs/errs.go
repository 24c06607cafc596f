// Package errs defines the scheduler's error-kind taxonomy. Every error
// that crosses a component boundary carries one of these kinds, so
// callers (RPC handlers especially) can map it to a wire status code
// without string-matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error without requiring a concrete error type.
type Kind string

const (
	ConfigInvalid      Kind = "config_invalid"
	StorageErrorKind   Kind = "storage_error"
	Connectivity       Kind = "connectivity_error"
	InvalidPlan        Kind = "invalid_plan"
	NotFound           Kind = "not_found"
	NotOwned           Kind = "not_owned"
	Conflict           Kind = "conflict"
	Cancelled          Kind = "cancelled"
	Internal           Kind = "internal"
	FailedPrecondition Kind = "failed_precondition"
	Unimplemented      Kind = "unimplemented"
)

// Error is a kind-tagged, wrappable error.
type Error struct {
	Kind    Kind
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New constructs an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Wrapped: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
