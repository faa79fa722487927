package cache

import (
	"time"
)

// Policy holds the freshness and failure-caching rules for a key.
type Policy struct {
	// TTL is how long a computed value stays fresh.
	TTL time.Duration

	// StaleWindow is how long past TTL the value may still be served
	// while a background refresh runs. 0 disables stale serving.
	StaleWindow time.Duration

	// ErrorTTL is how long a failure marker lives. It is never longer
	// than TTL, so a failing key always recovers before a value would.
	ErrorTTL time.Duration

	// MaxRetries caps compute re-attempts within one error window.
	// At most MaxRetries+1 computes run per window.
	MaxRetries int

	// ErrorCaching enables failure markers for transient upstream errors.
	ErrorCaching bool

	// AllowEmpty caches well-formed empty results. Off by default so a
	// provider hiccup that returns nothing does not pin an empty answer.
	AllowEmpty bool
}

// DefaultPolicies returns the per-category freshness defaults.
//
// Metadata is expensive to assemble and rarely changes, so it gets a long
// TTL and a generous stale window. Search is cheap and volatile, so it
// gets a short TTL and no stale serving.
func DefaultPolicies() map[Category]Policy {
	return map[Category]Policy{
		CategoryCatalog: {
			TTL:          1 * time.Hour,
			StaleWindow:  6 * time.Hour,
			ErrorTTL:     30 * time.Second,
			MaxRetries:   2,
			ErrorCaching: true,
		},
		CategoryMeta: {
			TTL:          12 * time.Hour,
			StaleWindow:  24 * time.Hour,
			ErrorTTL:     60 * time.Second,
			MaxRetries:   2,
			ErrorCaching: true,
		},
		CategorySearch: {
			TTL:          10 * time.Minute,
			StaleWindow:  0,
			ErrorTTL:     20 * time.Second,
			MaxRetries:   1,
			ErrorCaching: true,
		},
		CategoryProvider: {
			TTL:          24 * time.Hour,
			StaleWindow:  24 * time.Hour,
			ErrorTTL:     60 * time.Second,
			MaxRetries:   2,
			ErrorCaching: true,
		},
		CategoryGlobal: {
			TTL:          24 * time.Hour,
			StaleWindow:  48 * time.Hour,
			ErrorTTL:     60 * time.Second,
			MaxRetries:   2,
			ErrorCaching: true,
		},
	}
}

// callOptions are the resolved per-call settings: the category policy with
// any overrides applied.
type callOptions struct {
	policy         Policy
	fingerprint    string
	computeTimeout time.Duration
}

// Option overrides policy or call settings for a single wrapper call.
type Option func(*callOptions)

// WithTTL overrides the value TTL.
func WithTTL(d time.Duration) Option {
	return func(o *callOptions) { o.policy.TTL = d }
}

// WithStaleWindow overrides the stale window.
func WithStaleWindow(d time.Duration) Option {
	return func(o *callOptions) { o.policy.StaleWindow = d }
}

// WithErrorCaching toggles failure markers for this call.
func WithErrorCaching(on bool) Option {
	return func(o *callOptions) { o.policy.ErrorCaching = on }
}

// WithErrorTTL overrides the failure marker TTL.
func WithErrorTTL(d time.Duration) Option {
	return func(o *callOptions) { o.policy.ErrorTTL = d }
}

// WithMaxRetries overrides the per-window compute retry cap.
func WithMaxRetries(n int) Option {
	return func(o *callOptions) { o.policy.MaxRetries = n }
}

// WithAllowEmpty caches well-formed empty results for this call.
func WithAllowEmpty() Option {
	return func(o *callOptions) { o.policy.AllowEmpty = true }
}

// WithComputeTimeout bounds the compute function for this call.
func WithComputeTimeout(d time.Duration) Option {
	return func(o *callOptions) { o.computeTimeout = d }
}

// WithFingerprint attaches a content fingerprint to the written entry.
func WithFingerprint(fp string) Option {
	return func(o *callOptions) { o.fingerprint = fp }
}

// WithPolicy replaces the category policy wholesale for this call.
func WithPolicy(p Policy) Option {
	return func(o *callOptions) { o.policy = p }
}

// clampErrorTTL enforces that failure markers never outlive values.
func (p Policy) clampErrorTTL() time.Duration {
	if p.ErrorTTL <= 0 {
		return 30 * time.Second
	}
	if p.TTL > 0 && p.ErrorTTL > p.TTL {
		return p.TTL
	}
	return p.ErrorTTL
}
