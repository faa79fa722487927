package upstream

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	upstreamRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiojim_upstream_retries_total",
			Help: "Total number of retry attempts by error class",
		},
		[]string{"class"},
	)

	upstreamRetryBackoffSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aiojim_upstream_retry_backoff_seconds",
			Help:    "Backoff wait before a retry attempt in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"class"},
	)

	upstreamRetryExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiojim_upstream_retry_exhausted_total",
			Help: "Total number of requests that failed after all retry attempts",
		},
		[]string{"class"},
	)
)

// RetryConfig holds the backoff parameters for one error class.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration

	// BackoffMultiplier scales the backoff after each attempt.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the baseline retry behavior for transient
// failures.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryConfigForClass returns the retry behavior for a specific error
// class. Rate limits back off harder than plain server errors.
func RetryConfigForClass(class ErrorClass) RetryConfig {
	switch class {
	case ClassRateLimit:
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 3.0,
		}
	case ClassNetwork:
		return RetryConfig{
			MaxAttempts:       4,
			InitialBackoff:    250 * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
		}
	default:
		return DefaultRetryConfig()
	}
}

// retryWithBackoff runs fn until it succeeds, returns a non-retryable
// error, or attempts run out. The backoff parameters are picked per
// attempt from the class of the error fn returned, so a request that
// flips from a 503 to a 429 mid-sequence backs off accordingly.
func (c *Client) retryWithBackoff(ctx context.Context, fn func() error) error {
	maxAttempts := DefaultRetryConfig().MaxAttempts
	if c.config.MaxRetries > 0 {
		maxAttempts = c.config.MaxRetries
	}

	var lastErr error
	var backoff time.Duration

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				c.logger.Info().Int("attempt", attempt).Msg("request succeeded after retry")
			}
			return nil
		}
		lastErr = err

		var uerr *Error
		if !errors.As(err, &uerr) || !shouldRetry(uerr.Class) {
			return lastErr
		}
		if attempt >= maxAttempts {
			break
		}

		rc := RetryConfigForClass(uerr.Class)
		if c.config.InitialBackoff > 0 {
			rc.InitialBackoff = c.config.InitialBackoff
		}
		if backoff == 0 {
			backoff = rc.InitialBackoff
		}

		// Jitter the wait by +-20% so callers hammered by the same outage
		// do not retry in lockstep.
		wait := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))

		upstreamRetriesTotal.WithLabelValues(string(uerr.Class)).Inc()
		upstreamRetryBackoffSeconds.WithLabelValues(string(uerr.Class)).Observe(wait.Seconds())
		c.logger.Debug().
			Str("error_class", string(uerr.Class)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("retrying after backoff")

		select {
		case <-ctx.Done():
			c.logger.Warn().
				Str("error_class", string(uerr.Class)).
				Int("attempt", attempt).
				Msg("context cancelled during backoff")
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-time.After(wait):
		}

		backoff = time.Duration(float64(backoff) * rc.BackoffMultiplier)
		if backoff > rc.MaxBackoff {
			backoff = rc.MaxBackoff
		}
	}

	class := ""
	var uerr *Error
	if errors.As(lastErr, &uerr) {
		class = string(uerr.Class)
	}
	upstreamRetryExhaustedTotal.WithLabelValues(class).Inc()
	c.logger.Warn().
		Str("error_class", class).
		Int("max_attempts", maxAttempts).
		Err(lastErr).
		Msg("retry attempts exhausted")

	// Wrap with %w so the classified error stays visible to errors.As;
	// downstream caching depends on seeing the original class.
	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, maxAttempts, lastErr)
}
