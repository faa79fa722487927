// Package warming pre-populates the cache so the first user request after
// a deploy or restart does not pay the full aggregation cost. Essential
// warming runs in the foreground at startup and on a schedule; related and
// per-user warming run as bounded fire-and-forget background batches.
package warming

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/cache"
	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/composite"
	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/logging"
)

const (
	// DefaultConcurrency bounds how many essential warm tasks run at once.
	DefaultConcurrency = 4

	// DefaultInterval is the scheduled essential warming period.
	DefaultInterval = 6 * time.Hour

	// DefaultBackgroundTimeout bounds one related or per-user warm batch.
	DefaultBackgroundTimeout = 2 * time.Minute

	// DefaultMaxBackground is how many background batches may run at once.
	// Batches beyond this are skipped, not queued; warming is best effort.
	DefaultMaxBackground = 8
)

var (
	warmingTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiojim_warming_tasks_total",
			Help: "Total number of warm tasks executed by kind and result",
		},
		[]string{"kind", "result"},
	)

	warmingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiojim_warming_runs_total",
			Help: "Total number of warming passes by kind",
		},
		[]string{"kind"},
	)

	warmingRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aiojim_warming_run_duration_seconds",
			Help:    "Duration of warming passes in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"kind"},
	)

	warmingSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiojim_warming_skipped_total",
			Help: "Total number of background warm batches skipped at capacity",
		},
		[]string{"kind"},
	)
)

// Task is one cache key to warm and the compute that fills it. The compute
// only runs when the entry is missing or expired; a fresh entry is left
// untouched.
type Task struct {
	Key     cache.Key
	Compute cache.ComputeFunc
	Opts    []cache.Option

	// Decompose stores the result through the composite assembler instead
	// of as a single entry. Ignored when the warmer has no assembler.
	Decompose bool
}

// ItemRef identifies a catalog item whose related items should be warmed.
type ItemRef struct {
	Provider  string
	MediaType string
	ID        string
}

// Source produces the tasks each warming flow runs. Implementations decide
// what "popular" and "related" mean; the warmer only executes.
type Source interface {
	// EssentialTasks lists the items every fresh deploy should have cached:
	// popular catalogs, genre lists, provider manifests.
	EssentialTasks(ctx context.Context) ([]Task, error)

	// RelatedTasks lists items a user who just viewed ref is likely to open
	// next.
	RelatedTasks(ctx context.Context, ref ItemRef) ([]Task, error)

	// UserTasks lists the personalized items for one user, keyed under
	// that user's config scope.
	UserTasks(ctx context.Context, userID uuid.UUID) ([]Task, error)
}

// Config holds the settings for a Warmer.
type Config struct {
	// Wrapper executes warm computes, required.
	Wrapper *cache.Wrapper

	// Assembler stores decomposed results for tasks that ask for it.
	// May be nil.
	Assembler *composite.Assembler

	// Source produces the tasks, required.
	Source Source

	// Concurrency bounds parallel essential tasks. Defaults to
	// DefaultConcurrency.
	Concurrency int

	// BackgroundTimeout bounds one background batch. Defaults to
	// DefaultBackgroundTimeout.
	BackgroundTimeout time.Duration

	// MaxBackground bounds concurrent background batches. Defaults to
	// DefaultMaxBackground.
	MaxBackground int
}

// Warmer executes warming flows against the cache. All flows go through
// the regular wrapper read path, so they share its single-flight dedupe
// and never overwrite an entry fresher than what they computed.
type Warmer struct {
	wrapper           *cache.Wrapper
	assembler         *composite.Assembler
	source            Source
	concurrency       int
	backgroundTimeout time.Duration
	logger            zerolog.Logger

	sem         chan struct{}
	wg          sync.WaitGroup
	initialDone atomic.Bool

	rootCtx context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// New creates a Warmer. Config.Wrapper and Config.Source are required.
func New(cfg Config) (*Warmer, error) {
	if cfg.Wrapper == nil {
		return nil, fmt.Errorf("cache wrapper is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("task source is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.BackgroundTimeout <= 0 {
		cfg.BackgroundTimeout = DefaultBackgroundTimeout
	}
	if cfg.MaxBackground <= 0 {
		cfg.MaxBackground = DefaultMaxBackground
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Warmer{
		wrapper:           cfg.Wrapper,
		assembler:         cfg.Assembler,
		source:            cfg.Source,
		concurrency:       cfg.Concurrency,
		backgroundTimeout: cfg.BackgroundTimeout,
		logger:            logging.NewLogger("warming"),
		sem:               make(chan struct{}, cfg.MaxBackground),
		rootCtx:           ctx,
		cancel:            cancel,
	}, nil
}

// WarmEssential runs one essential warming pass. Individual task failures
// are logged and counted but never abort the pass; the initial-warming flag
// is set once the pass has visited every task. Only a failure to list the
// tasks is returned.
func (w *Warmer) WarmEssential(ctx context.Context) error {
	start := time.Now()
	tasks, err := w.source.EssentialTasks(ctx)
	if err != nil {
		return fmt.Errorf("list essential tasks: %w", err)
	}

	var failures atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(w.concurrency)
	for _, task := range tasks {
		g.Go(func() error {
			if err := w.runTask(ctx, task); err != nil && !cache.IsNotFound(err) {
				failures.Add(1)
				warmingTasksTotal.WithLabelValues("essential", "error").Inc()
				w.logger.Warn().Err(err).Str("cache_key", task.Key.String()).Msg("essential warm task failed")
				return nil
			}
			warmingTasksTotal.WithLabelValues("essential", "ok").Inc()
			return nil
		})
	}
	_ = g.Wait()

	w.initialDone.Store(true)
	warmingRunsTotal.WithLabelValues("essential").Inc()
	warmingRunDuration.WithLabelValues("essential").Observe(time.Since(start).Seconds())
	w.logger.Info().
		Int("tasks", len(tasks)).
		Int64("failures", failures.Load()).
		Dur("took", time.Since(start)).
		Msg("essential warming pass complete")
	return nil
}

// ScheduleEssential reruns WarmEssential on the given interval, jittered by
// +-10% so multiple instances do not refresh in lockstep. The returned stop
// function halts the schedule; Close also stops it.
func (w *Warmer) ScheduleEssential(interval time.Duration) func() {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ctx, cancel := context.WithCancel(w.rootCtx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		timer := time.NewTimer(jittered(interval))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				if err := w.WarmEssential(ctx); err != nil {
					w.logger.Warn().Err(err).Msg("scheduled essential warming failed")
				}
				timer.Reset(jittered(interval))
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }
}

// WarmRelated warms the items a viewer of ref is likely to open next. Fire
// and forget: it returns immediately, and the batch is skipped when too
// many background batches are already running.
func (w *Warmer) WarmRelated(ref ItemRef) {
	w.spawn("related", func(ctx context.Context) ([]Task, error) {
		return w.source.RelatedTasks(ctx, ref)
	})
}

// WarmForUser warms the personalized entries for one user. Fire and forget,
// same capacity rules as WarmRelated.
func (w *Warmer) WarmForUser(userID uuid.UUID) {
	w.spawn("user", func(ctx context.Context) ([]Task, error) {
		return w.source.UserTasks(ctx, userID)
	})
}

// IsInitialWarmingComplete reports whether at least one essential pass has
// finished. Readiness checks gate on this.
func (w *Warmer) IsInitialWarmingComplete() bool {
	return w.initialDone.Load()
}

// Close stops scheduled warming and waits for in-flight background batches.
func (w *Warmer) Close() {
	w.once.Do(w.cancel)
	w.wg.Wait()
}

// spawn runs one background batch under the capacity semaphore.
func (w *Warmer) spawn(kind string, list func(context.Context) ([]Task, error)) {
	select {
	case w.sem <- struct{}{}:
	default:
		warmingSkippedTotal.WithLabelValues(kind).Inc()
		w.logger.Debug().Str("task", kind).Msg("background warming at capacity, batch skipped")
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error().Interface("panic", r).Str("task", kind).Msg("background warming panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(w.rootCtx, w.backgroundTimeout)
		defer cancel()
		w.runBatch(ctx, kind, list)
	}()
}

// runBatch lists and executes one background batch sequentially. A batch
// is itself the unit of concurrency; tasks inside it run one at a time to
// keep background load predictable.
func (w *Warmer) runBatch(ctx context.Context, kind string, list func(context.Context) ([]Task, error)) {
	start := time.Now()
	tasks, err := list(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Str("task", kind).Msg("listing warm tasks failed")
		return
	}

	failures := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			w.logger.Debug().Str("task", kind).Msg("warm batch cut short")
			break
		}
		if err := w.runTask(ctx, task); err != nil && !cache.IsNotFound(err) {
			failures++
			warmingTasksTotal.WithLabelValues(kind, "error").Inc()
			w.logger.Warn().Err(err).Str("cache_key", task.Key.String()).Str("task", kind).Msg("warm task failed")
			continue
		}
		warmingTasksTotal.WithLabelValues(kind, "ok").Inc()
	}

	warmingRunsTotal.WithLabelValues(kind).Inc()
	warmingRunDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	w.logger.Debug().
		Str("task", kind).
		Int("tasks", len(tasks)).
		Int("failures", failures).
		Dur("took", time.Since(start)).
		Msg("warming batch complete")
}

// runTask executes one warm task through the regular read path.
func (w *Warmer) runTask(ctx context.Context, task Task) error {
	if task.Decompose && w.assembler != nil {
		_, _, err := w.assembler.GetOrCompute(ctx, task.Key, task.Compute)
		return err
	}
	_, _, err := w.wrapper.Do(ctx, task.Key, task.Compute, task.Opts...)
	return err
}

// jittered spreads an interval by +-10%.
func jittered(interval time.Duration) time.Duration {
	return time.Duration(float64(interval) * (0.9 + rand.Float64()*0.2))
}
