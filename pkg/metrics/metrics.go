// Package metrics provides the centralized Prometheus metrics registry for
// the catalog cache. All metrics are defined in their respective packages
// (cache, upstream, warming) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the cache daemon.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - aiojim_cache_requests_total{category, outcome} (Counter): Lookups by category and outcome (hit, stale_hit, miss, error, bypass)
//   - aiojim_cache_computes_total{category, result} (Counter): Compute runs by result (success, empty, not_found, upstream_error, internal_error)
//   - aiojim_cache_store_errors_total{operation} (Counter): Store operation failures
//   - aiojim_cache_background_refreshes_total{result} (Counter): Stale-entry refreshes (refreshed, failed)
//   - aiojim_cache_error_markers_total{category} (Counter): Failure markers written
//   - aiojim_cache_invalidated_keys_total (Counter): Keys removed by bulk invalidation
//   - aiojim_cache_flights_forgotten_total (Counter): In-flight computes dropped by the sweeper
//
// Upstream Metrics (pkg/upstream):
//   - aiojim_upstream_requests_total{provider, status} (Counter): Provider requests by HTTP status
//   - aiojim_upstream_request_duration_seconds{provider} (Histogram): Provider request duration
//   - aiojim_upstream_errors_total{provider, class} (Counter): Provider errors by class (not_found, client, server, rate_limit, network)
//
// Retry Metrics (pkg/upstream):
//   - aiojim_upstream_retries_total{class} (Counter): Retry attempts by error class
//   - aiojim_upstream_retry_backoff_seconds{class} (Histogram): Backoff wait by error class
//   - aiojim_upstream_retry_exhausted_total{class} (Counter): Requests that exhausted all attempts
//
// Warming Metrics (pkg/warming):
//   - aiojim_warming_tasks_total{kind, result} (Counter): Warm tasks by kind (essential, related, user) and result
//   - aiojim_warming_runs_total{kind} (Counter): Warming passes by kind
//   - aiojim_warming_run_duration_seconds{kind} (Histogram): Warming pass duration
//   - aiojim_warming_skipped_total{kind} (Counter): Background batches skipped at capacity
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate (stale hits still served a response)
//   sum(rate(aiojim_cache_requests_total{outcome=~"hit|stale_hit"}[5m])) /
//   sum(rate(aiojim_cache_requests_total{outcome!="bypass"}[5m]))
//
//   # Upstream Error Rate by Provider
//   sum by (provider) (rate(aiojim_upstream_errors_total[5m]))
//
//   # P95 Provider Latency
//   histogram_quantile(0.95, rate(aiojim_upstream_request_duration_seconds_bucket[5m]))
//
//   # Error Markers Being Written (upstream trouble per category)
//   sum by (category) (rate(aiojim_cache_error_markers_total[5m]))
//
//   # Warming Failure Ratio
//   sum(rate(aiojim_warming_tasks_total{result="error"}[30m])) /
//   sum(rate(aiojim_warming_tasks_total[30m]))
