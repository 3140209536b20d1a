// Package apperrors defines the error taxonomy for the lease engine and its
// admin surface. Only configuration errors and candidate exhaustion cross the
// engine boundary as distinguishable outcomes; individual probe failures are
// absorbed below it.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure.
type Code string

const (
	CodeConfiguration  Code = "CONFIGURATION_ERROR"
	CodeExhausted      Code = "CANDIDATES_EXHAUSTED"
	CodeStoreIO        Code = "STORE_IO_ERROR"
	CodeLeaseNotFound  Code = "LEASE_NOT_FOUND"
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeInternal       Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Configuration reports missing or malformed setup (credentials, empty
// candidate pool). Fatal to the current call, never retried internally.
func Configuration(format string, args ...interface{}) *Error {
	return &Error{Code: CodeConfiguration, Message: fmt.Sprintf(format, args...)}
}

// Exhausted reports that every candidate tier failed connectivity. Distinct
// from Configuration so callers can tell "your setup is wrong" from "the
// pool is currently unavailable".
func Exhausted(tenantID string) *Error {
	return &Error{Code: CodeExhausted, Message: fmt.Sprintf("all candidate tiers failed connectivity for tenant %q", tenantID)}
}

// StoreIO wraps a persistence failure. For reads the caller degrades to an
// empty store; for writes the in-memory result is still returned alongside
// this error so the caller knows stickiness may not survive a restart.
func StoreIO(op string, cause error) *Error {
	return &Error{Code: CodeStoreIO, Message: fmt.Sprintf("store %s failed", op), Cause: cause}
}

// LeaseNotFound reports that a tenant has no stored lease.
func LeaseNotFound(tenantID string) *Error {
	return &Error{Code: CodeLeaseNotFound, Message: fmt.Sprintf("no lease for tenant %q", tenantID)}
}

// CodeOf extracts the Code from err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return CodeOf(err) == CodeConfiguration }

// IsExhausted reports whether err is a candidate-exhaustion error.
func IsExhausted(err error) bool { return CodeOf(err) == CodeExhausted }

// IsStoreIO reports whether err is a persistence failure.
func IsStoreIO(err error) bool { return CodeOf(err) == CodeStoreIO }

// HTTPStatus maps an error to the admin-surface HTTP status code.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeConfiguration, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeLeaseNotFound:
		return http.StatusNotFound
	case CodeExhausted:
		return http.StatusServiceUnavailable
	case CodeStoreIO, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse is the standard error body returned by the admin surface.
type ErrorResponse struct {
	Status    string `json:"status"`
	ErrorCode Code   `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}
