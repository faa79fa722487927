// Package upstream is the HTTP fetch layer that cache computes are built
// from. It classifies provider failures into the error classes the cache
// wrapper understands (not-found, transient, internal) and retries the
// transient ones with jittered exponential backoff.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/logging"
)

const (
	// DefaultTimeout is the per-request timeout when Config.Timeout is zero.
	DefaultTimeout = 30 * time.Second

	// maxResponseBytes caps how much of a provider response body is read.
	// Catalog and metadata payloads are far below this.
	maxResponseBytes = 10 << 20
)

var (
	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiojim_upstream_requests_total",
			Help: "Total number of upstream provider requests by status code",
		},
		[]string{"provider", "status"},
	)

	upstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aiojim_upstream_request_duration_seconds",
			Help:    "Upstream provider request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	upstreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiojim_upstream_errors_total",
			Help: "Total number of upstream provider errors by class",
		},
		[]string{"provider", "class"},
	)
)

// Config holds the settings for a provider client.
type Config struct {
	// Provider names the third-party service ("tmdb", "tvdb", "fanart").
	// Used as the log and metrics label, required.
	Provider string

	// BaseURL is prepended to every path passed to FetchJSON. May be empty
	// when callers pass absolute URLs.
	BaseURL string

	// UserAgent is sent with every request, required by most providers.
	UserAgent string

	// Timeout bounds a single request attempt. Defaults to DefaultTimeout.
	Timeout time.Duration

	// MaxRetries is the total number of attempts for transient failures,
	// including the first. Defaults to DefaultRetryConfig().MaxAttempts.
	MaxRetries int

	// InitialBackoff overrides the per-class initial backoff when positive.
	InitialBackoff time.Duration
}

// DefaultConfig returns a Config with sensible defaults for the given
// provider.
func DefaultConfig(provider string) Config {
	return Config{
		Provider:   provider,
		UserAgent:  "aiojim-cache/1.0 (github.com/mronion212/AIOJim-Advanced-sub003)",
		Timeout:    DefaultTimeout,
		MaxRetries: 3,
	}
}

// Client fetches JSON documents from a single provider.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a provider client. Provider and UserAgent must be set.
func New(cfg Config) (*Client, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		logger:     logging.NewLogger("upstream").With().Str("provider", cfg.Provider).Logger(),
	}, nil
}

// SetHTTPClient replaces the underlying HTTP client. Intended for tests
// that install a stub transport.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// Provider returns the configured provider name.
func (c *Client) Provider() string {
	return c.config.Provider
}

// FetchJSON performs a GET against BaseURL+path and returns the response
// body. Failures come back as *Error with the class filled in, so callers
// feeding the cache get not-found and transient handling for free.
// Transient failures are retried with backoff before FetchJSON returns.
func (c *Client) FetchJSON(ctx context.Context, path string) ([]byte, error) {
	url := c.config.BaseURL + path

	var body []byte
	err := c.retryWithBackoff(ctx, func() error {
		data, ferr := c.fetchOnce(ctx, url)
		if ferr != nil {
			return ferr
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// fetchOnce performs a single request attempt.
func (c *Client) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	upstreamRequestDuration.WithLabelValues(c.config.Provider).Observe(time.Since(start).Seconds())

	if err != nil {
		upstreamRequestsTotal.WithLabelValues(c.config.Provider, "network_error").Inc()
		upstreamErrorsTotal.WithLabelValues(c.config.Provider, string(ClassNetwork)).Inc()
		return nil, &Error{
			Class:    ClassNetwork,
			Provider: c.config.Provider,
			Message:  "request failed",
			Err:      err,
		}
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(c.config.Provider, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		upstreamErrorsTotal.WithLabelValues(c.config.Provider, string(class)).Inc()
		c.logger.Debug().
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Str("url", url).
			Msg("upstream request failed")
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Class:      class,
			Provider:   c.config.Provider,
			Message:    resp.Status,
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(c.config.Provider, string(ClassNetwork)).Inc()
		return nil, &Error{
			Class:    ClassNetwork,
			Provider: c.config.Provider,
			Message:  "read response body",
			Err:      err,
		}
	}
	return data, nil
}
