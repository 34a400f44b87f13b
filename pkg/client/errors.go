package client

import (
	"errors"
	"fmt"
	"time"
)

// Common errors returned by the client and engine.
var (
	// ErrRetryExhausted is returned when all attempts of a call sequence failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled mid-sequence.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrNoUsableCredential is returned when the pool has nothing left to pick.
	ErrNoUsableCredential = errors.New("no usable credential")
)

// APIError is a failed completion call with its classification.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string

	// RetryAfter is the server hint. Only set for rate limit errors.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("completion %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("completion %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// malformed request, auth, other 4xx: another credential will not help
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
