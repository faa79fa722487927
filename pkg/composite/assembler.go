package composite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/cache"
	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/health"
	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/logging"
	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/store"
)

// ComponentKey derives the cache key for one component of a composite item.
func ComponentKey(base cache.Key, component string) cache.Key {
	return base.With("component", component)
}

// Config holds the settings for an Assembler.
type Config struct {
	// Wrapper provides the underlying entry storage, required.
	Wrapper *cache.Wrapper

	// Schema decides which fields go to which component. Defaults to
	// DefaultSchema.
	Schema Schema

	// Health receives hit, partial-miss, and error accounting. May be nil.
	Health *health.Monitor

	// Policies supplies TTLs per category. Defaults to cache.DefaultPolicies.
	Policies map[cache.Category]cache.Policy

	// ComputeTimeout bounds a single compute in GetOrCompute. Defaults to
	// cache.DefaultComputeTimeout.
	ComputeTimeout time.Duration
}

// Assembler stores composite items as per-component entries and rebuilds
// whole documents from them. Reconstruction is all or nothing: if any
// component is missing or expired, nothing is returned.
type Assembler struct {
	wrapper        *cache.Wrapper
	schema         Schema
	health         *health.Monitor
	policies       map[cache.Category]cache.Policy
	computeTimeout time.Duration
	logger         zerolog.Logger
	group          singleflight.Group

	now func() time.Time
}

// NewAssembler creates an Assembler. Config.Wrapper is required.
func NewAssembler(cfg Config) (*Assembler, error) {
	if cfg.Wrapper == nil {
		return nil, fmt.Errorf("cache wrapper is required")
	}
	if cfg.Schema == nil {
		cfg.Schema = DefaultSchema()
	}
	if cfg.Policies == nil {
		cfg.Policies = cache.DefaultPolicies()
	}
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = cache.DefaultComputeTimeout
	}

	return &Assembler{
		wrapper:        cfg.Wrapper,
		schema:         cfg.Schema,
		health:         cfg.Health,
		policies:       cfg.Policies,
		computeTimeout: cfg.ComputeTimeout,
		logger:         logging.NewLogger("composite"),
		now:            time.Now,
	}, nil
}

// reconstruction is the outcome of one assembly attempt.
type reconstruction struct {
	payload []byte
	present int
	total   int
	stale   bool
	missing []string
	failed  bool
}

func (r reconstruction) complete() bool {
	return !r.failed && r.total > 0 && r.present == r.total
}

// tryReconstruct probes every component entry and merges them when all are
// servable. No health accounting happens here; callers record the outcome
// once per logical lookup.
func (a *Assembler) tryReconstruct(ctx context.Context, base cache.Key) reconstruction {
	components := a.schema.Components()
	res := reconstruction{total: len(components)}
	now := a.now()

	parts := make(map[string][]byte, len(components))
	for _, component := range components {
		key := ComponentKey(base, component)
		entry, err := a.wrapper.Peek(ctx, key)
		switch {
		case err != nil:
			if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, cache.ErrInvalidEntry) {
				a.logger.Warn().Err(err).Str("cache_key", key.String()).Msg("component lookup failed")
			}
			res.missing = append(res.missing, component)
		case entry.IsError() || entry.IsExpired(now):
			res.missing = append(res.missing, component)
		default:
			if entry.IsStale(now) {
				res.stale = true
			}
			parts[component] = entry.Payload
			res.present++
		}
	}
	if res.present != res.total {
		return res
	}

	payload, err := Merge(a.schema, parts)
	if err != nil {
		// Corrupt parts are treated as a miss; the next compute overwrites
		// them through StoreDecomposed.
		a.logger.Error().Err(err).Str("cache_key", base.String()).Msg("component merge failed")
		res.failed = true
		return res
	}
	res.payload = payload
	return res
}

func (a *Assembler) record(base cache.Key, res reconstruction) {
	cat := string(base.Category)
	switch {
	case res.failed:
		a.health.RecordError(cat)
	case res.present == res.total:
		if res.stale {
			a.health.RecordStaleHit(cat)
		} else {
			a.health.RecordHit(cat)
		}
	case res.present == 0:
		a.health.RecordMiss(cat)
	default:
		a.health.RecordPartialMiss(cat)
	}
}

// Reconstruct assembles an item from its cached components. It reports
// found=false when any component is missing or expired; a partially stale
// or partially missing document is never returned.
func (a *Assembler) Reconstruct(ctx context.Context, base cache.Key) ([]byte, bool) {
	res := a.tryReconstruct(ctx, base)
	a.record(base, res)
	if !res.complete() {
		if len(res.missing) > 0 {
			a.logger.Debug().
				Str("cache_key", base.String()).
				Strs("missing", res.missing).
				Msg("reconstruction incomplete")
		}
		return nil, false
	}
	return res.payload, true
}

// StoreDecomposed splits payload into components and writes one entry per
// component, all sharing a single CreatedAt so the document ages as one
// unit. Entries already fresher than this write are left alone. Payloads
// that are not JSON objects are cached whole under the base key instead.
func (a *Assembler) StoreDecomposed(ctx context.Context, base cache.Key, payload []byte) error {
	policy := a.policyFor(base.Category)
	now := a.now()

	parts, err := Decompose(a.schema, payload)
	if errors.Is(err, ErrNotComposite) {
		a.logger.Warn().Str("cache_key", base.String()).Msg("payload not decomposable, caching whole")
		return a.wrapper.PutEntry(ctx, base, &cache.Entry{
			Payload:     payload,
			CreatedAt:   now,
			TTL:         policy.TTL,
			StaleWindow: policy.StaleWindow,
		})
	}
	if err != nil {
		return err
	}

	for _, component := range a.schema.Components() {
		entry := &cache.Entry{
			Payload:     parts[component],
			CreatedAt:   now,
			TTL:         policy.TTL,
			StaleWindow: policy.StaleWindow,
		}
		if werr := a.wrapper.PutEntry(ctx, ComponentKey(base, component), entry); werr != nil {
			return fmt.Errorf("store %s component: %w", component, werr)
		}
	}
	a.logger.Debug().
		Str("cache_key", base.String()).
		Int("components", len(parts)).
		Msg("stored decomposed item")
	return nil
}

// flightResult is what a GetOrCompute single-flight hands to its callers.
type flightResult struct {
	payload []byte
	found   bool
}

// GetOrCompute returns the reconstructed item, running compute and storing
// the decomposed result on a miss. Concurrent callers for the same base key
// share one compute; a caller whose context ends stops waiting while the
// flight finishes for the others.
func (a *Assembler) GetOrCompute(ctx context.Context, base cache.Key, compute cache.ComputeFunc) ([]byte, bool, error) {
	cat := string(base.Category)

	res := a.tryReconstruct(ctx, base)
	if res.complete() {
		a.record(base, res)
		return res.payload, true, nil
	}

	ch := a.group.DoChan(base.String(), func() (any, error) {
		return a.computeAndStore(ctx, base, compute)
	})

	select {
	case <-ctx.Done():
		a.health.RecordError(cat)
		return nil, false, ctx.Err()

	case out := <-ch:
		if out.Err != nil {
			if cache.IsNotFound(out.Err) {
				a.health.RecordMiss(cat)
			} else {
				a.health.RecordError(cat)
			}
			return nil, false, out.Err
		}
		fr := out.Val.(flightResult)
		a.health.RecordMiss(cat)
		return fr.payload, fr.found, nil
	}
}

// computeAndStore is the single-flight leader body for GetOrCompute.
func (a *Assembler) computeAndStore(ctx context.Context, base cache.Key, compute cache.ComputeFunc) (any, error) {
	// The result is shared with joiners, so one caller's cancellation must
	// not poison it.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.computeTimeout)
	defer cancel()

	// Another caller may have filled the components while this flight was
	// queued.
	if again := a.tryReconstruct(cctx, base); again.complete() {
		return flightResult{payload: again.payload, found: true}, nil
	}

	data, ok, err := compute(cctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return flightResult{payload: data}, nil
	}
	if serr := a.StoreDecomposed(cctx, base, data); serr != nil {
		a.logger.Warn().Err(serr).Str("cache_key", base.String()).Msg("failed to store decomposed item")
	}
	return flightResult{payload: data, found: true}, nil
}

func (a *Assembler) policyFor(cat cache.Category) cache.Policy {
	if p, ok := a.policies[cat]; ok {
		return p
	}
	return cache.Policy{TTL: 5 * time.Minute, StaleWindow: 30 * time.Second}
}
