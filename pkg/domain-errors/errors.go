// Package derrors provides coded domain errors. Services return these so
// transport adapters can translate failures without inspecting error text.
//
// Stores do not use this package; they return pkg/platform/sentinel errors
// and services translate them into coded errors at the boundary.
package derrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeValidation marks malformed input, rejected before any mutation.
	CodeValidation Code = "validation_error"
	// CodeNotFound marks an unknown ticket or office id.
	CodeNotFound Code = "not_found"
	// CodeConflict marks a status guard failure: the caller's view of the
	// ticket was stale. Callers may re-read state and decide; the engine
	// never retries.
	CodeConflict Code = "conflict"
	// CodeUnauthorized marks a missing or invalid caller identity.
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden marks an ownership or role guard failure.
	CodeForbidden Code = "forbidden"
	// CodeInvariantViolation marks an aggregate invariant breach detected
	// by a model constructor or transition guard.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeInternal marks unexpected infrastructure failures.
	CodeInternal Code = "internal_error"
)

// Error is a coded domain error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err or anything it wraps carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for
// uncoded errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf extracts the message from err, or empty for uncoded errors.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}
