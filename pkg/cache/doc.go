// Package cache wraps expensive catalog computations with Redis-backed
// caching.
//
// The wrapper implements the read path every aggregated lookup goes
// through, with the following behavior:
//
// - Single-flight deduplication: one compute per key, concurrent callers share it
// - TTL freshness plus a stale window served while a background refresh runs
// - Failure markers with a bounded retry budget per error window
// - Negative caching for items upstream reports as permanently absent
// - Writes never overwrite an entry fresher than what was computed
// - Prometheus metrics for observability
// - Deterministic, versioned cache key generation
//
// # Basic Usage
//
//	// Create the backing store
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//	backing := store.NewRedis(redisClient)
//
//	// Create the wrapper
//	wrapper, err := cache.New(cache.DefaultConfig(backing))
//	if err != nil {
//		return err
//	}
//	defer wrapper.Close()
//
//	// Build a key and read through the cache
//	key := cache.ProviderKey("v1.0", "anime-genres")
//	data, outcome, err := wrapper.Do(ctx, key, func(ctx context.Context) ([]byte, bool, error) {
//		return fetchGenresFromProvider(ctx)
//	})
//
// # Typed Access
//
//	// Wrap marshals and unmarshals around the byte-level wrapper
//	genres, outcome, err := cache.Wrap(ctx, wrapper, key,
//		func(ctx context.Context) ([]Genre, bool, error) {
//			return listGenres(ctx)
//		})
//
// # Error Caching
//
// Compute failures are classified by how upstream answered:
//
//   - Permanent not-found (404, 410): negative-cached, served for the whole
//     marker window without recontacting upstream
//   - Transient upstream failures (5xx, 429, network): cached briefly with a
//     retry budget, so a broken provider is probed a bounded number of times
//     per window
//   - Internal compute errors: never cached, so a fix deploys immediately
//
// # Invalidation
//
//	// Remove every cached catalog entry for one provider
//	deleted, err := wrapper.Invalidate(ctx, "*:v1.0:catalog:tmdb*")
//
// # Metrics
//
// The wrapper exports Prometheus metrics:
//
//   - aiojim_cache_requests_total{category, outcome} - Lookups by outcome
//   - aiojim_cache_computes_total{category, result} - Compute runs by result
//   - aiojim_cache_store_errors_total{operation} - Store failures
//   - aiojim_cache_background_refreshes_total{result} - Stale refreshes
//   - aiojim_cache_error_markers_total{category} - Failure markers written
//   - aiojim_cache_invalidated_keys_total - Keys removed by invalidation
//
// See pkg/metrics for the full metric reference and example queries.
package cache
