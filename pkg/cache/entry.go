package cache

import (
	"time"
)

// ErrorMarker records a cached compute failure.
type ErrorMarker struct {
	// Message is the original error text.
	Message string `msgpack:"message"`

	// Class is the upstream error class (server, rate_limit, network).
	Class string `msgpack:"class"`

	// RetryCount is how many times the compute has been re-attempted
	// while this marker window was active.
	RetryCount int `msgpack:"retry_count"`

	// NotFound marks a negative result (upstream said the item does not
	// exist). Not-found markers are exempt from the retry counter.
	NotFound bool `msgpack:"not_found"`
}

// Entry is the stored envelope for a cached value or error marker.
type Entry struct {
	// Payload is the cached bytes (empty for error markers).
	Payload []byte `msgpack:"payload"`

	// CreatedAt is when the entry was computed. Write ordering compares
	// this field: the newer entry always wins.
	CreatedAt time.Time `msgpack:"created_at"`

	// TTL is how long the entry is fresh after CreatedAt.
	TTL time.Duration `msgpack:"ttl"`

	// StaleWindow is how long past TTL the entry may still be served
	// while a background refresh runs.
	StaleWindow time.Duration `msgpack:"stale_window"`

	// Fingerprint is the content fingerprint at write time (optional).
	Fingerprint string `msgpack:"fingerprint,omitempty"`

	// ErrMarker is non-nil when the entry caches a failure.
	ErrMarker *ErrorMarker `msgpack:"err_marker,omitempty"`
}

// FreshUntil returns the instant the entry stops being fresh.
func (e *Entry) FreshUntil() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// ExpiresAt returns the instant the entry stops being servable at all.
func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL + e.StaleWindow)
}

// IsFresh returns true while the entry is within its TTL.
func (e *Entry) IsFresh(now time.Time) bool {
	return now.Before(e.FreshUntil())
}

// IsStale returns true when the entry is past its TTL but still within
// the stale window.
func (e *Entry) IsStale(now time.Time) bool {
	return !e.IsFresh(now) && now.Before(e.ExpiresAt())
}

// IsExpired returns true when the entry is past TTL plus stale window.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// Age returns how old the entry is.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// RemainingTTL returns the time until the entry stops being fresh.
// Returns 0 if already stale or expired.
func (e *Entry) RemainingTTL(now time.Time) time.Duration {
	ttl := e.FreshUntil().Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// StoreTTL returns the store-level expiry for the entry. Values live for
// TTL plus the stale window so stale reads stay possible.
func (e *Entry) StoreTTL() time.Duration {
	return e.TTL + e.StaleWindow
}

// IsError returns true when the entry caches a failure instead of a value.
func (e *Entry) IsError() bool {
	return e.ErrMarker != nil
}

// Newer reports whether this entry was computed after other.
// A nil other never wins.
func (e *Entry) Newer(other *Entry) bool {
	if other == nil {
		return true
	}
	return e.CreatedAt.After(other.CreatedAt)
}
