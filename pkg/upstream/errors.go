package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrRetryExhausted is returned when all retry attempts have failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during a
	// retry backoff wait.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass buckets provider failures by how callers should react to them.
type ErrorClass string

const (
	// ClassNotFound covers 404 and 410: the item does not exist upstream.
	ClassNotFound ErrorClass = "not_found"
	// ClassClient covers the remaining 4xx responses. These indicate a bug
	// on our side (bad request, bad credentials) and are never retried.
	ClassClient ErrorClass = "client"
	// ClassServer covers 5xx responses.
	ClassServer ErrorClass = "server"
	// ClassRateLimit covers 429 responses.
	ClassRateLimit ErrorClass = "rate_limit"
	// ClassNetwork covers transport failures where no response arrived.
	ClassNetwork ErrorClass = "network"
)

// Error is the classified failure returned by provider fetches. It carries
// the HTTP status (0 for network errors), the class, and the provider name
// for logging.
type Error struct {
	StatusCode int
	Class      ErrorClass
	Provider   string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d, class %s)", e.Provider, e.Message, e.StatusCode, e.Class)
	}
	return fmt.Sprintf("%s: %s (class %s)", e.Provider, e.Message, e.Class)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound reports whether the item is permanently absent upstream.
func (e *Error) NotFound() bool {
	return e.Class == ClassNotFound
}

// Transient reports whether the failure is worth retrying later: the
// provider had a bad moment, not the request.
func (e *Error) Transient() bool {
	switch e.Class {
	case ClassServer, ClassRateLimit, ClassNetwork:
		return true
	}
	return false
}

// ClassName returns the class as a plain string for log fields and metrics
// labels.
func (e *Error) ClassName() string {
	return string(e.Class)
}

// classifyStatus maps an HTTP status code to an error class.
func classifyStatus(code int) ErrorClass {
	switch {
	case code == 404 || code == 410:
		return ClassNotFound
	case code == 429:
		return ClassRateLimit
	case code >= 500:
		return ClassServer
	default:
		return ClassClient
	}
}

// shouldRetry reports whether a class is eligible for retry with backoff.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ClassServer, ClassRateLimit, ClassNetwork:
		return true
	case ClassNotFound, ClassClient:
		return false
	default:
		return false
	}
}

// IsNotFound reports whether err (anywhere in its chain) is a provider
// not-found error.
func IsNotFound(err error) bool {
	var uerr *Error
	return errors.As(err, &uerr) && uerr.NotFound()
}

// IsRetryable reports whether err (anywhere in its chain) is a transient
// provider error.
func IsRetryable(err error) bool {
	var uerr *Error
	return errors.As(err, &uerr) && uerr.Transient()
}
