package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheRequests tracks wrapper lookups by category and outcome
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiojim_cache_requests_total",
			Help: "Total number of cache wrapper lookups",
		},
		[]string{"category", "outcome"}, // outcome: "hit", "stale_hit", "miss", "error", "bypass"
	)

	// CacheComputes tracks compute executions by category and result
	CacheComputes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiojim_cache_computes_total",
			Help: "Total number of compute executions",
		},
		[]string{"category", "result"}, // result: "success", "empty", "not_found", "upstream_error", "internal_error"
	)

	// StoreErrors tracks store operation failures
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiojim_cache_store_errors_total",
			Help: "Total number of cache store operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "scan"
	)

	// BackgroundRefreshes tracks stale-triggered refreshes
	BackgroundRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiojim_cache_refreshes_total",
			Help: "Total number of background refreshes triggered by stale hits",
		},
		[]string{"result"}, // "refreshed", "failed"
	)

	// ErrorMarkers tracks failure markers written by category
	ErrorMarkers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiojim_cache_error_markers_total",
			Help: "Total number of failure markers written",
		},
		[]string{"category"},
	)

	// InvalidatedKeys tracks keys removed by bulk invalidation
	InvalidatedKeys = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aiojim_cache_invalidated_keys_total",
			Help: "Total number of keys removed by pattern invalidation",
		},
	)

	// FlightsForgotten tracks in-flight computes dropped by the sweeper
	FlightsForgotten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aiojim_cache_flights_forgotten_total",
			Help: "Total number of wedged in-flight computes dropped by the sweeper",
		},
	)
)
