package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/health"
	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/store"
)

const (
	// DefaultComputeTimeout bounds a single compute execution.
	DefaultComputeTimeout = 30 * time.Second

	// DefaultFlightMaxAge is how long an in-flight compute may run before
	// the sweeper drops it so new callers stop piling onto it.
	DefaultFlightMaxAge = 2 * time.Minute
)

// Outcome describes how a wrapper call was satisfied.
type Outcome string

const (
	// OutcomeHit means a fresh cached value (or cached negative) was served.
	OutcomeHit Outcome = "hit"

	// OutcomeStaleHit means a stale value was served while a background
	// refresh was scheduled.
	OutcomeStaleHit Outcome = "stale_hit"

	// OutcomeMiss means the value was computed.
	OutcomeMiss Outcome = "miss"

	// OutcomeError means the call failed.
	OutcomeError Outcome = "error"

	// OutcomeBypass means caching is disabled and the compute ran directly.
	OutcomeBypass Outcome = "bypass"
)

// ComputeFunc produces the bytes for a cache key. ok=false signals a
// well-formed empty result: it is returned to the caller but not cached
// unless the policy allows empty values.
type ComputeFunc func(ctx context.Context) (data []byte, ok bool, err error)

// Config holds the wrapper configuration.
type Config struct {
	// Store is the cache backend. nil disables caching: every call
	// computes directly.
	Store store.Store

	// Health receives per-category effectiveness counters (optional).
	Health *health.Monitor

	// Policies overrides per-category defaults (optional).
	Policies map[Category]Policy

	// ComputeTimeout bounds compute execution (default 30s).
	ComputeTimeout time.Duration

	// FlightMaxAge is when the sweeper drops a wedged compute (default 2m).
	FlightMaxAge time.Duration
}

// DefaultConfig returns a wrapper configuration with safe defaults.
func DefaultConfig(s store.Store) Config {
	return Config{
		Store:          s,
		ComputeTimeout: DefaultComputeTimeout,
		FlightMaxAge:   DefaultFlightMaxAge,
	}
}

// Wrapper is the cache-aside front for compute functions. Concurrent calls
// for the same key share one compute, stale values are served while a
// background refresh runs, and failures are cached briefly with a bounded
// retry budget.
type Wrapper struct {
	store          store.Store
	health         *health.Monitor
	policies       map[Category]Policy
	computeTimeout time.Duration
	flightMaxAge   time.Duration
	logger         zerolog.Logger

	// now is the clock, replaceable in tests.
	now func() time.Time

	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a cache wrapper.
func New(cfg Config) (*Wrapper, error) {
	if cfg.ComputeTimeout < 0 {
		return nil, fmt.Errorf("compute_timeout must not be negative (got %v)", cfg.ComputeTimeout)
	}
	if cfg.FlightMaxAge < 0 {
		return nil, fmt.Errorf("flight_max_age must not be negative (got %v)", cfg.FlightMaxAge)
	}

	policies := DefaultPolicies()
	for cat, p := range cfg.Policies {
		if p.TTL <= 0 {
			return nil, fmt.Errorf("policy for %s: ttl must be positive (got %v)", cat, p.TTL)
		}
		policies[cat] = p
	}

	computeTimeout := cfg.ComputeTimeout
	if computeTimeout == 0 {
		computeTimeout = DefaultComputeTimeout
	}
	flightMaxAge := cfg.FlightMaxAge
	if flightMaxAge == 0 {
		flightMaxAge = DefaultFlightMaxAge
	}

	w := &Wrapper{
		store:          cfg.Store,
		health:         cfg.Health,
		policies:       policies,
		computeTimeout: computeTimeout,
		flightMaxAge:   flightMaxAge,
		logger:         log.With().Str("component", "cache").Logger(),
		now:            time.Now,
		flights:        make(map[string]time.Time),
		stop:           make(chan struct{}),
	}

	if w.store != nil {
		w.wg.Add(1)
		go w.sweepLoop()
	}

	return w, nil
}

// Enabled reports whether a store backs this wrapper.
func (w *Wrapper) Enabled() bool {
	return w.store != nil
}

// Close stops the flight sweeper and waits for background refreshes.
func (w *Wrapper) Close() error {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
	return nil
}

// resolve merges the category policy with per-call overrides.
func (w *Wrapper) resolve(cat Category, opts []Option) callOptions {
	pol, ok := w.policies[cat]
	if !ok {
		// Unknown category: conservative short-lived defaults.
		pol = Policy{TTL: 5 * time.Minute, ErrorTTL: 30 * time.Second, MaxRetries: 1, ErrorCaching: true}
	}
	call := callOptions{policy: pol, computeTimeout: w.computeTimeout}
	for _, opt := range opts {
		opt(&call)
	}
	return call
}

// Do looks up key and computes on miss. This is the core wrapper operation;
// see the package documentation for the full lookup order.
func (w *Wrapper) Do(ctx context.Context, key Key, compute ComputeFunc, opts ...Option) ([]byte, Outcome, error) {
	call := w.resolve(key.Category, opts)
	cat := string(key.Category)

	if w.store == nil {
		CacheRequests.WithLabelValues(cat, string(OutcomeBypass)).Inc()
		data, _, err := w.runCompute(ctx, compute, call.computeTimeout)
		if err != nil {
			return nil, OutcomeBypass, err
		}
		return data, OutcomeBypass, nil
	}

	cacheKey := key.String()
	now := w.now()

	entry := w.load(ctx, cacheKey)
	if entry != nil && entry.IsExpired(now) {
		// Expired entries and markers are treated as absent. A spent error
		// window must not keep serving its failure.
		entry = nil
	}

	if entry != nil {
		switch {
		case entry.IsError():
			return w.serveMarker(ctx, key, cacheKey, entry, compute, call)

		case entry.IsFresh(now):
			w.health.RecordHit(cat)
			CacheRequests.WithLabelValues(cat, string(OutcomeHit)).Inc()
			w.logger.Debug().
				Str("cache_key", cacheKey).
				Dur("age", entry.Age(now)).
				Msg("cache hit")
			return entry.Payload, OutcomeHit, nil

		default:
			w.health.RecordStaleHit(cat)
			CacheRequests.WithLabelValues(cat, string(OutcomeStaleHit)).Inc()
			w.logger.Debug().
				Str("cache_key", cacheKey).
				Dur("age", entry.Age(now)).
				Msg("stale hit, scheduling background refresh")
			w.refreshAsync(key, cacheKey, compute, call, entry)
			return entry.Payload, OutcomeStaleHit, nil
		}
	}

	return w.computeThrough(ctx, key, cacheKey, compute, call, nil)
}

// serveMarker handles a lookup that found a cached failure.
func (w *Wrapper) serveMarker(ctx context.Context, key Key, cacheKey string, entry *Entry, compute ComputeFunc, call callOptions) ([]byte, Outcome, error) {
	cat := string(key.Category)
	marker := entry.ErrMarker

	if marker.NotFound {
		// Negative results are served for their whole window and never
		// count against the retry budget.
		w.health.RecordHit(cat)
		CacheRequests.WithLabelValues(cat, string(OutcomeHit)).Inc()
		w.logger.Debug().Str("cache_key", cacheKey).Msg("serving cached negative result")
		return nil, OutcomeHit, fmt.Errorf("%w: %s", ErrNotFoundCached, marker.Message)
	}

	if marker.RetryCount >= call.policy.MaxRetries {
		w.health.RecordError(cat)
		CacheRequests.WithLabelValues(cat, string(OutcomeError)).Inc()
		w.logger.Debug().
			Str("cache_key", cacheKey).
			Int("retry_count", marker.RetryCount).
			Msg("serving cached failure, retry budget spent")
		return nil, OutcomeError, fmt.Errorf("%w: %s", ErrComputeCached, marker.Message)
	}

	// Budget remains for this window: re-attempt the compute.
	return w.computeThrough(ctx, key, cacheKey, compute, call, entry)
}

// computeThrough runs the single-flight compute for a miss or marker retry.
func (w *Wrapper) computeThrough(ctx context.Context, key Key, cacheKey string, compute ComputeFunc, call callOptions, prior *Entry) ([]byte, Outcome, error) {
	cat := string(key.Category)

	ch := w.group.DoChan(cacheKey, func() (any, error) {
		return w.fly(ctx, key, cacheKey, compute, call, prior)
	})

	select {
	case <-ctx.Done():
		// The flight keeps running for other callers.
		CacheRequests.WithLabelValues(cat, string(OutcomeError)).Inc()
		return nil, OutcomeError, ctx.Err()

	case res := <-ch:
		if res.Err != nil {
			CacheRequests.WithLabelValues(cat, string(OutcomeError)).Inc()
			return nil, OutcomeError, res.Err
		}
		if res.Shared {
			w.logger.Debug().Str("cache_key", cacheKey).Msg("joined in-flight compute")
		}
		w.health.RecordMiss(cat)
		CacheRequests.WithLabelValues(cat, string(OutcomeMiss)).Inc()
		return res.Val.([]byte), OutcomeMiss, nil
	}
}

// fly is the single-flight leader body: compute, classify, store.
func (w *Wrapper) fly(ctx context.Context, key Key, cacheKey string, compute ComputeFunc, call callOptions, prior *Entry) (any, error) {
	w.beginFlight(cacheKey)
	defer w.endFlight(cacheKey)

	cat := string(key.Category)

	// The result is shared with joiners, so one caller's cancellation
	// must not poison it.
	cctx := context.WithoutCancel(ctx)

	data, ok, err := w.runCompute(cctx, compute, call.computeTimeout)
	if err != nil {
		return nil, w.onComputeError(cctx, key, cacheKey, err, call, prior)
	}

	if !ok && !call.policy.AllowEmpty {
		CacheComputes.WithLabelValues(cat, "empty").Inc()
		w.logger.Debug().Str("cache_key", cacheKey).Msg("empty result not cached")
		return data, nil
	}

	CacheComputes.WithLabelValues(cat, "success").Inc()

	entry := &Entry{
		Payload:     data,
		CreatedAt:   w.now(),
		TTL:         call.policy.TTL,
		StaleWindow: call.policy.StaleWindow,
		Fingerprint: call.fingerprint,
	}
	if werr := w.writeIfNewer(cctx, cacheKey, entry); werr != nil {
		w.logger.Warn().Err(werr).Str("cache_key", cacheKey).Msg("failed to cache computed value")
	} else {
		w.logger.Debug().
			Str("cache_key", cacheKey).
			Dur("ttl", entry.TTL).
			Msg("cached computed value")
	}

	return data, nil
}

// onComputeError maps a compute failure onto the taxonomy and decides
// whether to write a failure marker.
func (w *Wrapper) onComputeError(ctx context.Context, key Key, cacheKey string, err error, call callOptions, prior *Entry) error {
	cat := string(key.Category)
	now := w.now()

	switch classifyError(err) {
	case kindNotFound:
		CacheComputes.WithLabelValues(cat, "not_found").Inc()
		// A definitive "does not exist" is a valid negative answer,
		// not a failure.
		w.health.RecordMiss(cat)
		if call.policy.ErrorCaching {
			w.writeMarker(ctx, cacheKey, cat, &Entry{
				CreatedAt: now,
				TTL:       call.policy.clampErrorTTL(),
				ErrMarker: &ErrorMarker{Message: err.Error(), NotFound: true},
			})
		}
		w.logger.Debug().Str("cache_key", cacheKey).Str("error_kind", string(kindNotFound)).Msg("negative result from upstream")
		return fmt.Errorf("%w: %w", ErrNotFound, err)

	case kindUpstream:
		CacheComputes.WithLabelValues(cat, "upstream_error").Inc()
		w.health.RecordError(cat)
		if call.policy.ErrorCaching {
			marker := &ErrorMarker{Message: err.Error(), Class: errorClassName(err)}
			base, window := now, call.policy.clampErrorTTL()
			if prior != nil && prior.IsError() && !prior.ErrMarker.NotFound && !prior.IsExpired(now) {
				// Same error window: keep its clock, bump the counter.
				// The window is never extended, so the key recovers.
				marker.RetryCount = prior.ErrMarker.RetryCount + 1
				base, window = prior.CreatedAt, prior.TTL
			}
			if prior == nil || prior.IsError() || prior.IsExpired(now) {
				// A still-servable value is never replaced by a marker.
				w.writeMarker(ctx, cacheKey, cat, &Entry{
					CreatedAt: base,
					TTL:       window,
					ErrMarker: marker,
				})
			}
		}
		w.logger.Warn().
			Err(err).
			Str("cache_key", cacheKey).
			Str("error_kind", string(kindUpstream)).
			Msg("compute failed")
		return err

	default:
		// Internal errors are caller bugs or local faults. Never cached,
		// so a deploy fixing the bug takes effect immediately.
		CacheComputes.WithLabelValues(cat, "internal_error").Inc()
		w.health.RecordError(cat)
		w.logger.Error().
			Err(err).
			Str("cache_key", cacheKey).
			Str("error_kind", string(kindInternal)).
			Msg("internal compute error")
		return err
	}
}

// refreshAsync runs a detached single-flight refresh for a stale key.
func (w *Wrapper) refreshAsync(key Key, cacheKey string, compute ComputeFunc, call callOptions, stale *Entry) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error().
					Str("cache_key", cacheKey).
					Interface("panic", r).
					Msg("background refresh panicked")
			}
		}()

		// Detached from the request: the caller already got its stale
		// answer. Passing the stale entry as prior keeps a failed
		// refresh from replacing a still-servable value with a marker.
		_, err, _ := w.group.Do(cacheKey, func() (any, error) {
			return w.fly(context.Background(), key, cacheKey, compute, call, stale)
		})
		if err != nil {
			BackgroundRefreshes.WithLabelValues("failed").Inc()
			return
		}
		BackgroundRefreshes.WithLabelValues("refreshed").Inc()
	}()
}

// runCompute executes the compute with a timeout and converts panics into
// internal errors.
func (w *Wrapper) runCompute(ctx context.Context, compute ComputeFunc, timeout time.Duration) (data []byte, ok bool, err error) {
	if timeout <= 0 {
		timeout = w.computeTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			data, ok = nil, false
			err = fmt.Errorf("compute panicked: %v", r)
		}
	}()

	return compute(cctx)
}

// load reads and decodes an envelope. Store failures and undecodable
// entries degrade to a miss so traffic keeps flowing.
func (w *Wrapper) load(ctx context.Context, cacheKey string) *Entry {
	raw, err := w.store.Get(ctx, cacheKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			StoreErrors.WithLabelValues("get").Inc()
			w.logger.Warn().Err(err).Str("cache_key", cacheKey).Msg("store get failed")
		}
		return nil
	}

	entry, err := DecodeEntry(raw)
	if err != nil {
		StoreErrors.WithLabelValues("get").Inc()
		w.logger.Warn().Err(err).Str("cache_key", cacheKey).Msg("dropping undecodable entry")
		_, _ = w.store.Delete(ctx, cacheKey)
		return nil
	}
	return entry
}

// writeIfNewer stores the entry unless a strictly newer one exists.
// Equal timestamps overwrite, which is how retry markers bump their
// counter within one window.
func (w *Wrapper) writeIfNewer(ctx context.Context, cacheKey string, entry *Entry) error {
	current := w.load(ctx, cacheKey)
	if current != nil && current.Newer(entry) {
		w.logger.Debug().Str("cache_key", cacheKey).Msg("skipping write, existing entry is newer")
		return nil
	}

	expiry := entry.ExpiresAt().Sub(w.now())
	if expiry <= 0 {
		return nil
	}

	raw, err := EncodeEntry(entry)
	if err != nil {
		return err
	}
	if err := w.store.Set(ctx, cacheKey, raw, expiry); err != nil {
		StoreErrors.WithLabelValues("set").Inc()
		return err
	}
	return nil
}

// writeMarker writes a failure marker, logging instead of failing.
func (w *Wrapper) writeMarker(ctx context.Context, cacheKey, cat string, marker *Entry) {
	if err := w.writeIfNewer(ctx, cacheKey, marker); err != nil {
		w.logger.Warn().Err(err).Str("cache_key", cacheKey).Msg("failed to write failure marker")
		return
	}
	ErrorMarkers.WithLabelValues(cat).Inc()
}

// Peek returns the stored envelope without computing or touching health.
func (w *Wrapper) Peek(ctx context.Context, key Key) (*Entry, error) {
	if w.store == nil {
		return nil, store.ErrNotFound
	}
	raw, err := w.store.Get(ctx, key.String())
	if err != nil {
		return nil, err
	}
	return DecodeEntry(raw)
}

// PutEntry writes an envelope directly, keeping whichever entry is newer.
// Used by warming and composite storage paths that produce entries without
// going through a compute.
func (w *Wrapper) PutEntry(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if w.store == nil {
		return nil
	}
	return w.writeIfNewer(ctx, key.String(), entry)
}

// Invalidate removes every key matching the glob pattern and returns the
// number of keys deleted.
func (w *Wrapper) Invalidate(ctx context.Context, pattern string) (int64, error) {
	if w.store == nil {
		return 0, nil
	}
	deleted, err := store.Invalidate(ctx, w.store, pattern)
	if err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return deleted, fmt.Errorf("invalidate %q: %w", pattern, err)
	}
	InvalidatedKeys.Add(float64(deleted))
	w.logger.Info().Str("pattern", pattern).Int64("deleted", deleted).Msg("cache invalidated")
	return deleted, nil
}

// Flight tracking for the sweeper.

func (w *Wrapper) beginFlight(cacheKey string) {
	w.mu.Lock()
	w.flights[cacheKey] = w.now()
	w.mu.Unlock()
}

func (w *Wrapper) endFlight(cacheKey string) {
	w.mu.Lock()
	delete(w.flights, cacheKey)
	w.mu.Unlock()
}

func (w *Wrapper) sweepLoop() {
	defer w.wg.Done()

	interval := w.flightMaxAge / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.sweepFlights()
		}
	}
}

// sweepFlights drops computes that have been running past the max age.
// Forget makes the next caller start a fresh flight instead of joining a
// wedged one forever.
func (w *Wrapper) sweepFlights() {
	now := w.now()

	w.mu.Lock()
	var wedged []string
	for key, started := range w.flights {
		if now.Sub(started) > w.flightMaxAge {
			wedged = append(wedged, key)
			delete(w.flights, key)
		}
	}
	w.mu.Unlock()

	for _, key := range wedged {
		w.group.Forget(key)
		FlightsForgotten.Inc()
		w.logger.Warn().
			Str("cache_key", key).
			Dur("max_age", w.flightMaxAge).
			Msg("dropped wedged in-flight compute")
	}
}
