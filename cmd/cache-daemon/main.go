// Package main starts the catalog cache daemon: a Redis-backed caching
// service with scheduled warming, glob invalidation, health reporting, and
// Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/cache"
	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/config"
	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/fingerprint"
	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/health"
	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/logging"
	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/store"
	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/warming"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{Level: logging.LogLevel(cfg.LogLevel), Pretty: cfg.LogPretty})
	logger := logging.NewLogger("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

	backing := store.NewRedis(redisClient, store.WithPrefix(cfg.CachePrefix))
	monitor := health.NewMonitor()

	wrapper, err := cache.New(cache.Config{
		Store:    backing,
		Health:   monitor,
		Policies: cfg.Policies(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create cache wrapper")
	}
	defer wrapper.Close()

	warmer := setupWarming(ctx, cfg, wrapper, logger)
	if warmer != nil {
		defer warmer.Close()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthzHandler(redisClient, warmer))
	mux.HandleFunc("/cache/stats", statsHandler(monitor, cfg.SoftwareVersion))
	mux.HandleFunc("/cache/invalidate", invalidateHandler(wrapper))
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info().
		Str("addr", cfg.ListenAddr).
		Str("version", cfg.SoftwareVersion).
		Msg("cache daemon listening")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("forced shutdown")
		}
	}
}

// setupWarming loads the warm manifest and starts initial plus scheduled
// essential warming. Returns nil when no manifest is configured.
func setupWarming(ctx context.Context, cfg config.Daemon, wrapper *cache.Wrapper, logger zerolog.Logger) *warming.Warmer {
	if cfg.WarmManifest == "" {
		logger.Info().Msg("no warm manifest configured, warming disabled")
		return nil
	}

	source, err := loadManifest(cfg.WarmManifest, cfg.SoftwareVersion)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.WarmManifest).Msg("failed to load warm manifest")
	}

	warmer, err := warming.New(warming.Config{
		Wrapper: wrapper,
		Source:  source,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create warmer")
	}

	go func() {
		if err := warmer.WarmEssential(ctx); err != nil {
			logger.Warn().Err(err).Msg("initial essential warming failed")
		}
	}()
	warmer.ScheduleEssential(cfg.WarmInterval)

	logger.Info().
		Str("path", cfg.WarmManifest).
		Dur("interval", cfg.WarmInterval).
		Msg("essential warming scheduled")
	return warmer
}

// healthzHandler reports liveness plus whether initial warming has run.
// A nil warmer means warming is disabled and counts as complete.
func healthzHandler(redisClient *redis.Client, warmer *warming.Warmer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		warmed := warmer == nil || warmer.IsInitialWarmingComplete()

		if err := redisClient.Ping(r.Context()).Err(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":                   "ok",
			"initial_warming_complete": warmed,
		})
	}
}

// statsHandler serves the health monitor snapshot with a weak validator so
// pollers can cheaply check for changes with If-None-Match.
func statsHandler(monitor *health.Monitor, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := monitor.Snapshot()
		payload, err := json.Marshal(snap)
		if err != nil {
			http.Error(w, "failed to encode stats", http.StatusInternalServerError)
			return
		}

		etag := fingerprint.New(cache.CategoryGlobal, version, payload, nil)
		if fingerprint.Match(r.Header.Get("If-None-Match"), etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("ETag", etag)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
	}
}

// invalidateHandler removes every cache key matching a glob pattern.
func invalidateHandler(wrapper *cache.Wrapper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		pattern := r.URL.Query().Get("pattern")
		if pattern == "" {
			http.Error(w, "pattern query parameter is required", http.StatusBadRequest)
			return
		}

		deleted, err := wrapper.Invalidate(r.Context(), pattern)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalidation failed: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"pattern": pattern,
			"deleted": deleted,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
