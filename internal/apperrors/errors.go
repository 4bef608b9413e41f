// Package apperrors defines the tagged error-kind variant used across the
// delivery core so that HTTP handlers, socket event handlers, and
// background workers can all map a failure to the same vocabulary without
// a class hierarchy of concrete error types.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the caller-visible error categories from SPEC_FULL.md §7.
type Kind string

const (
	BadRequest         Kind = "BadRequest"
	Unauthorized       Kind = "Unauthorized"
	Forbidden          Kind = "Forbidden"
	NotFound           Kind = "NotFound"
	Conflict           Kind = "Conflict"
	Validation         Kind = "Validation"
	RateLimited        Kind = "RateLimited"
	Internal           Kind = "Internal"
	ServiceUnavailable Kind = "ServiceUnavailable"
)

// httpStatus is the pure function from Kind to HTTP status that §9 asks for.
var httpStatus = map[Kind]int{
	BadRequest:         http.StatusBadRequest,
	Unauthorized:       http.StatusUnauthorized,
	Forbidden:          http.StatusForbidden,
	NotFound:           http.StatusNotFound,
	Conflict:           http.StatusConflict,
	Validation:         http.StatusUnprocessableEntity,
	RateLimited:        http.StatusTooManyRequests,
	Internal:           http.StatusInternalServerError,
	ServiceUnavailable: http.StatusServiceUnavailable,
}

// ToHTTP maps a Kind to its HTTP status code.
func ToHTTP(k Kind) int {
	if status, ok := httpStatus[k]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// FieldError is one entry of a Validation error's Details.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the tagged variant: a Kind, a caller-facing message, optional
// structured details, and an optional wrapped cause for errors.Is/As.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int64 // milliseconds, only meaningful for RateLimited
	Details    []FieldError
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause so errors.Is/errors.As keep working
// across this boundary.
func (e *Error) Unwrap() error { return e.cause }

// New builds a Kind-tagged error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a Kind-tagged error around an underlying cause, typically an
// infrastructure error (DB, Redis, broker) that should surface to the
// caller as ServiceUnavailable or Internal while preserving the original
// error for logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches field-level validation details and returns the
// receiver for chaining.
func (e *Error) WithDetails(details ...FieldError) *Error {
	e.Details = details
	return e
}

// WithRetryAfter sets the RateLimited retry hint in milliseconds.
func (e *Error) WithRetryAfter(ms int64) *Error {
	e.RetryAfter = ms
	return e
}

// As reports whether err (or something it wraps) is an *Error, returning it.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, otherwise
// Internal — the default for infrastructure errors that were never
// classified.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return Internal
}
