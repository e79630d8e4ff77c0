// Package errors provides structured error types for storyline.
//
// Error codes let the CLI, the HTTP API and the session state machine react
// to failures without string matching:
//   - INVALID_*: malformed input (timeline payloads, queries, config)
//   - NOT_FOUND: unknown entities, nodes or sessions
//   - BACKEND_ERROR: the query backend reported an error in its payload
//   - STALE_RESULT: a result arrived for a superseded query
//   - INTERNAL_ERROR: broken layout invariants
//
// # Usage
//
//	err := errors.New(errors.ErrCodeInvalidInput, "year %q is not an integer", key)
//	if errors.Is(err, errors.ErrCodeInvalidInput) {
//	    // reject the payload
//	}
//
//	err := errors.Wrap(errors.ErrCodeBackend, origErr, "fetch timeline")
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput  Code = "INVALID_INPUT"
	ErrCodeInvalidQuery  Code = "INVALID_QUERY"
	ErrCodeInvalidConfig Code = "INVALID_CONFIG"
	ErrCodeInvalidFormat Code = "INVALID_FORMAT"

	// Resource not found errors
	ErrCodeNotFound        Code = "NOT_FOUND"
	ErrCodeSessionNotFound Code = "SESSION_NOT_FOUND"

	// Query backend errors
	ErrCodeBackend     Code = "BACKEND_ERROR"
	ErrCodeStaleResult Code = "STALE_RESULT"
	ErrCodeTimeout     Code = "TIMEOUT"
	ErrCodeRateLimited Code = "RATE_LIMITED"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// HTTPStatus maps an error code to the HTTP status the API responds with.
func HTTPStatus(err error) int {
	switch GetCode(err) {
	case ErrCodeInvalidInput, ErrCodeInvalidQuery, ErrCodeInvalidFormat:
		return 400
	case ErrCodeNotFound, ErrCodeSessionNotFound:
		return 404
	case ErrCodeStaleResult:
		return 409
	case ErrCodeRateLimited:
		return 429
	case ErrCodeBackend:
		return 502
	case ErrCodeTimeout:
		return 504
	default:
		return 500
	}
}
