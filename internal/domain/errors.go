// Package domain provides canonical types and error kinds for the gateway.
package domain

import (
	"fmt"
	"net/http"
)

// ErrorKind represents the category of a gateway error.
type ErrorKind string

const (
	// ErrorKindValidation indicates a malformed or invalid request.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindNotFound indicates a config, conversation, or vault record was not found.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindForbidden indicates the caller does not own the resource.
	ErrorKindForbidden ErrorKind = "forbidden"

	// ErrorKindRateLimited indicates the tenant exceeded its turn budget.
	ErrorKindRateLimited ErrorKind = "rate_limited"

	// ErrorKindUpstream indicates the provider call failed; the status is
	// decoded per provider.
	ErrorKindUpstream ErrorKind = "upstream"

	// ErrorKindInternal indicates an unexpected server error.
	ErrorKindInternal ErrorKind = "internal"
)

// Error is the canonical error surfaced by every gateway layer. The HTTP
// handler maps it to a status code and a JSON error body.
type Error struct {
	Kind    ErrorKind
	Message string

	// StatusCode overrides the kind's default HTTP status when non-zero.
	// Upstream errors always carry an explicit status decoded per provider.
	StatusCode int
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// HTTPStatusCode returns the HTTP status code for this error.
func (e *Error) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Kind {
	case ErrorKindValidation:
		return http.StatusBadRequest
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindForbidden:
		return http.StatusForbidden
	case ErrorKindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WithStatusCode sets a specific HTTP status code.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}

// Convenience constructors for common errors

// ErrValidation creates a validation error.
func ErrValidation(message string) *Error {
	return &Error{Kind: ErrorKindValidation, Message: message}
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *Error {
	return &Error{Kind: ErrorKindNotFound, Message: message}
}

// ErrForbidden creates a forbidden error.
func ErrForbidden(message string) *Error {
	return &Error{Kind: ErrorKindForbidden, Message: message}
}

// ErrRateLimited creates a rate limited error.
func ErrRateLimited(message string) *Error {
	return &Error{Kind: ErrorKindRateLimited, Message: message}
}

// ErrUpstream creates an upstream error with a provider-decoded status.
func ErrUpstream(status int, message string) *Error {
	return &Error{Kind: ErrorKindUpstream, Message: message, StatusCode: status}
}

// ErrInternal creates an internal server error.
func ErrInternal(message string) *Error {
	return &Error{Kind: ErrorKindInternal, Message: message}
}
