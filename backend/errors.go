package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// BackendError represents an error from a remote sync operation
// It provides structured error information including HTTP status codes,
// operation context, and the underlying error message
type BackendError struct {
	Operation  string // e.g., "SubmitBatch", "Ping"
	StatusCode int    // HTTP status code (0 if the request never got a response)
	Message    string // Human-readable error message
	BatchSize  int    // Optional: number of events in the failed request
	Body       string // Optional: response body for debugging
	Err        error  // Optional: underlying error
}

// Error implements the error interface
func (e *BackendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s failed with status %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the underlying error for error wrapping
func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsNetwork returns true if no HTTP response was received
func (e *BackendError) IsNetwork() bool {
	return e.StatusCode == 0
}

// IsUnauthorized returns true if the error is a 401 Unauthorized or 403 Forbidden
func (e *BackendError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsValidation returns true if the server rejected the request body itself
func (e *BackendError) IsValidation() bool {
	return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity
}

// IsThrottled returns true for request timeout and rate limiting responses
func (e *BackendError) IsThrottled() bool {
	return e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests
}

// IsClientError returns true if the error is any 4xx response
func (e *BackendError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsServerError returns true if the error is a 5xx server error
func (e *BackendError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// NewBackendError creates a new BackendError
func NewBackendError(operation string, statusCode int, message string) *BackendError {
	return &BackendError{
		Operation:  operation,
		StatusCode: statusCode,
		Message:    message,
	}
}

// WithBatchSize adds the batch size to the error for context
func (e *BackendError) WithBatchSize(n int) *BackendError {
	e.BatchSize = n
	return e
}

// WithBody adds the response body to the error for debugging
func (e *BackendError) WithBody(body string) *BackendError {
	e.Body = body
	return e
}

// WithError wraps an underlying error
func (e *BackendError) WithError(err error) *BackendError {
	e.Err = err
	return e
}

// AsBackendError extracts a BackendError from err, if there is one
func AsBackendError(err error) (*BackendError, bool) {
	var be *BackendError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
