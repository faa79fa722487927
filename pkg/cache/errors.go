package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates upstream reported the requested item does not exist.
	ErrNotFound = errors.New("not found upstream")

	// ErrNotFoundCached indicates a cached negative result was served without
	// contacting upstream. Unwraps to ErrNotFound.
	ErrNotFoundCached = fmt.Errorf("%w (cached)", ErrNotFound)

	// ErrComputeCached indicates a recent compute failure is being served from
	// cache because the retry budget for the current error window is spent.
	ErrComputeCached = errors.New("recent compute failure cached")

	// ErrInvalidEntry indicates a stored envelope could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// notFounder is implemented by upstream errors that represent a permanent
// "item does not exist" answer. Such failures are negative-cached and never
// count against the retry budget.
type notFounder interface {
	NotFound() bool
}

// transienter is implemented by upstream errors that are worth caching
// briefly and retrying (server errors, rate limits, network failures).
type transienter interface {
	Transient() bool
}

// errorKind is the compute failure taxonomy.
type errorKind string

const (
	kindNotFound errorKind = "not_found"
	kindUpstream errorKind = "upstream"
	kindInternal errorKind = "internal"
)

// classNamer exposes the upstream error class name for failure markers.
type classNamer interface {
	ClassName() string
}

// classifyError maps a compute failure onto the taxonomy. Anything that is
// neither a not-found nor a transient upstream error is an internal compute
// error and must never be cached.
func classifyError(err error) errorKind {
	var nf notFounder
	if errors.As(err, &nf) && nf.NotFound() {
		return kindNotFound
	}
	var tr transienter
	if errors.As(err, &tr) && tr.Transient() {
		return kindUpstream
	}
	return kindInternal
}

// errorClassName extracts the upstream class name for marker diagnostics.
func errorClassName(err error) string {
	var cn classNamer
	if errors.As(err, &cn) {
		return cn.ClassName()
	}
	return string(kindUpstream)
}

// IsNotFound reports whether err represents a permanent "item does not
// exist" answer, either straight from upstream or served as a cached
// negative result.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	return classifyError(err) == kindNotFound
}
