package warming

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/cache"
	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/composite"
	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/health"
	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/store"
)

// stubSource wires test-provided task lists into the Source interface.
type stubSource struct {
	essential func(ctx context.Context) ([]Task, error)
	related   func(ctx context.Context, ref ItemRef) ([]Task, error)
	user      func(ctx context.Context, userID uuid.UUID) ([]Task, error)
}

func (s *stubSource) EssentialTasks(ctx context.Context) ([]Task, error) {
	if s.essential == nil {
		return nil, nil
	}
	return s.essential(ctx)
}

func (s *stubSource) RelatedTasks(ctx context.Context, ref ItemRef) ([]Task, error) {
	if s.related == nil {
		return nil, nil
	}
	return s.related(ctx, ref)
}

func (s *stubSource) UserTasks(ctx context.Context, userID uuid.UUID) ([]Task, error) {
	if s.user == nil {
		return nil, nil
	}
	return s.user(ctx, userID)
}

// unreachableUpstream is a test double for a transient provider failure.
type unreachableUpstream struct{}

func (e *unreachableUpstream) Error() string   { return "provider unreachable" }
func (e *unreachableUpstream) Transient() bool { return true }

// goneUpstream is a test double for a permanent not-found answer.
type goneUpstream struct{}

func (e *goneUpstream) Error() string  { return "item does not exist" }
func (e *goneUpstream) NotFound() bool { return true }

type warmerFixture struct {
	warmer  *Warmer
	wrapper *cache.Wrapper
	asm     *composite.Assembler
	monitor *health.Monitor
}

func newWarmerFixture(t *testing.T, source Source, mutate func(*Config)) *warmerFixture {
	t.Helper()

	mem := store.NewMemory()
	monitor := health.NewMonitor()
	wrapper, err := cache.New(cache.Config{Store: mem, Health: monitor})
	if err != nil {
		t.Fatalf("cache.New() failed: %v", err)
	}
	asm, err := composite.NewAssembler(composite.Config{Wrapper: wrapper, Health: monitor})
	if err != nil {
		t.Fatalf("NewAssembler() failed: %v", err)
	}

	cfg := Config{Wrapper: wrapper, Assembler: asm, Source: source}
	if mutate != nil {
		mutate(&cfg)
	}
	warmer, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	t.Cleanup(func() {
		warmer.Close()
		_ = wrapper.Close()
		_ = mem.Close()
	})
	return &warmerFixture{warmer: warmer, wrapper: wrapper, asm: asm, monitor: monitor}
}

func countingTask(key cache.Key, computes *atomic.Int32, payload string) Task {
	return Task{
		Key: key,
		Compute: func(ctx context.Context) ([]byte, bool, error) {
			computes.Add(1)
			return []byte(payload), true, nil
		},
	}
}

func TestNew_RequiredFields(t *testing.T) {
	mem := store.NewMemory()
	t.Cleanup(func() { _ = mem.Close() })
	wrapper, err := cache.New(cache.Config{Store: mem})
	if err != nil {
		t.Fatalf("cache.New() failed: %v", err)
	}
	t.Cleanup(func() { _ = wrapper.Close() })

	if _, err := New(Config{Source: &stubSource{}}); err == nil {
		t.Error("New() should fail without a wrapper")
	}
	if _, err := New(Config{Wrapper: wrapper}); err == nil {
		t.Error("New() should fail without a source")
	}
}

func TestWarmEssential_PopulatesCache(t *testing.T) {
	var computes atomic.Int32
	keys := []cache.Key{
		cache.ProviderKey("v1.0", "anime-genres"),
		cache.CatalogKey(cache.ScopeGlobal, "v1.0", "tmdb", "popular", nil),
	}
	source := &stubSource{
		essential: func(ctx context.Context) ([]Task, error) {
			return []Task{
				countingTask(keys[0], &computes, `[{"id": 16}]`),
				countingTask(keys[1], &computes, `[{"id": 603}]`),
			}, nil
		},
	}
	fx := newWarmerFixture(t, source, nil)

	if fx.warmer.IsInitialWarmingComplete() {
		t.Error("initial warming reported complete before any pass")
	}
	if err := fx.warmer.WarmEssential(context.Background()); err != nil {
		t.Fatalf("WarmEssential() failed: %v", err)
	}
	if !fx.warmer.IsInitialWarmingComplete() {
		t.Error("initial warming not reported complete")
	}
	if got := computes.Load(); got != 2 {
		t.Errorf("computes = %d, want 2", got)
	}

	// A read after warming is a hit; the compute must not run again.
	failing := func(ctx context.Context) ([]byte, bool, error) {
		return nil, false, errors.New("should have been warmed")
	}
	for _, key := range keys {
		data, outcome, err := fx.wrapper.Do(context.Background(), key, failing)
		if err != nil {
			t.Fatalf("Do(%s) failed: %v", key, err)
		}
		if outcome != cache.OutcomeHit {
			t.Errorf("Do(%s) outcome = %v, want %v", key, outcome, cache.OutcomeHit)
		}
		if len(data) == 0 {
			t.Errorf("Do(%s) returned an empty payload", key)
		}
	}
}

func TestWarmEssential_SecondPassSkipsFreshEntries(t *testing.T) {
	var computes atomic.Int32
	source := &stubSource{
		essential: func(ctx context.Context) ([]Task, error) {
			return []Task{countingTask(cache.ProviderKey("v1.0", "id-map"), &computes, `{}`)}, nil
		},
	}
	fx := newWarmerFixture(t, source, nil)

	for pass := 1; pass <= 2; pass++ {
		if err := fx.warmer.WarmEssential(context.Background()); err != nil {
			t.Fatalf("pass %d failed: %v", pass, err)
		}
	}
	if got := computes.Load(); got != 1 {
		t.Errorf("computes = %d, want 1 (fresh entries left untouched)", got)
	}
}

func TestWarmEssential_TaskFailuresDoNotAbortPass(t *testing.T) {
	var computes atomic.Int32
	okKey := cache.ProviderKey("v1.0", "genres")
	badKey := cache.CatalogKey(cache.ScopeGlobal, "v1.0", "tmdb", "broken", nil)
	source := &stubSource{
		essential: func(ctx context.Context) ([]Task, error) {
			return []Task{
				countingTask(okKey, &computes, `[]`),
				{Key: badKey, Compute: func(ctx context.Context) ([]byte, bool, error) {
					return nil, false, &unreachableUpstream{}
				}},
			}, nil
		},
	}
	fx := newWarmerFixture(t, source, nil)

	if err := fx.warmer.WarmEssential(context.Background()); err != nil {
		t.Fatalf("WarmEssential() failed: %v", err)
	}
	if !fx.warmer.IsInitialWarmingComplete() {
		t.Error("a failing task blocked the initial-warming flag")
	}

	if _, err := fx.wrapper.Peek(context.Background(), okKey); err != nil {
		t.Errorf("healthy task was not cached: %v", err)
	}
}

func TestWarmEssential_ListErrorReturned(t *testing.T) {
	listErr := errors.New("manifest unreadable")
	source := &stubSource{
		essential: func(ctx context.Context) ([]Task, error) { return nil, listErr },
	}
	fx := newWarmerFixture(t, source, nil)

	if err := fx.warmer.WarmEssential(context.Background()); !errors.Is(err, listErr) {
		t.Errorf("WarmEssential() = %v, want the listing error", err)
	}
	if fx.warmer.IsInitialWarmingComplete() {
		t.Error("initial warming flagged complete after a listing failure")
	}
}

func TestWarmEssential_NotFoundIsWarmed(t *testing.T) {
	key := cache.MetaKey(cache.ScopeGlobal, "v1.0", "tvdb", "series", "404404")
	source := &stubSource{
		essential: func(ctx context.Context) ([]Task, error) {
			return []Task{{Key: key, Compute: func(ctx context.Context) ([]byte, bool, error) {
				return nil, false, &goneUpstream{}
			}}}, nil
		},
	}
	fx := newWarmerFixture(t, source, nil)

	if err := fx.warmer.WarmEssential(context.Background()); err != nil {
		t.Fatalf("WarmEssential() failed: %v", err)
	}

	// The negative result is itself a warmed answer.
	entry, err := fx.wrapper.Peek(context.Background(), key)
	if err != nil {
		t.Fatalf("Peek() failed: %v", err)
	}
	if !entry.IsError() || !entry.ErrMarker.NotFound {
		t.Errorf("entry = %+v, want a cached negative result", entry)
	}
	if errs := fx.monitor.Snapshot().Categories["meta"].Errors; errs != 0 {
		t.Errorf("health errors = %d, want 0 (not-found is not a failure)", errs)
	}
}

func TestWarmEssential_DecomposeTask(t *testing.T) {
	base := cache.MetaKey(cache.ScopeGlobal, "v1.0", "tvdb", "series", "81189")
	doc := `{"title": "Breaking Bad", "poster": "p.jpg", "episodes": [], "cast": [], "ratings": {}}`
	source := &stubSource{
		essential: func(ctx context.Context) ([]Task, error) {
			return []Task{{
				Key:       base,
				Decompose: true,
				Compute: func(ctx context.Context) ([]byte, bool, error) {
					return []byte(doc), true, nil
				},
			}}, nil
		},
	}
	fx := newWarmerFixture(t, source, nil)

	if err := fx.warmer.WarmEssential(context.Background()); err != nil {
		t.Fatalf("WarmEssential() failed: %v", err)
	}

	payload, found := fx.asm.Reconstruct(context.Background(), base)
	if !found {
		t.Fatal("warmed composite did not reconstruct")
	}
	if len(payload) == 0 {
		t.Error("reconstructed payload is empty")
	}
}

func TestWarmRelated_SwallowsComputeFailures(t *testing.T) {
	var computes atomic.Int32
	okKey := cache.MetaKey(cache.ScopeGlobal, "v1.0", "tmdb", "movie", "604")
	badKey := cache.CatalogKey(cache.ScopeGlobal, "v1.0", "tmdb", "related", nil)
	source := &stubSource{
		related: func(ctx context.Context, ref ItemRef) ([]Task, error) {
			return []Task{
				countingTask(okKey, &computes, `{"title": "The Matrix Reloaded"}`),
				{Key: badKey, Compute: func(ctx context.Context) ([]byte, bool, error) {
					return nil, false, &unreachableUpstream{}
				}},
			}, nil
		},
	}
	fx := newWarmerFixture(t, source, nil)

	fx.warmer.WarmRelated(ItemRef{Provider: "tmdb", MediaType: "movie", ID: "603"})
	fx.warmer.Close()

	if _, err := fx.wrapper.Peek(context.Background(), okKey); err != nil {
		t.Errorf("healthy related task was not cached: %v", err)
	}
	if got := computes.Load(); got != 1 {
		t.Errorf("healthy computes = %d, want 1", got)
	}

	// The failure is recorded once against cache health and nowhere else.
	if errs := fx.monitor.Snapshot().Categories["catalog"].Errors; errs != 1 {
		t.Errorf("health errors = %d, want 1", errs)
	}
	entry, err := fx.wrapper.Peek(context.Background(), badKey)
	if err != nil {
		t.Fatalf("Peek(failed key) = %v", err)
	}
	if !entry.IsError() {
		t.Error("failed compute should leave a failure marker")
	}
}

func TestWarmForUser_PopulatesUserScope(t *testing.T) {
	userID := uuid.New()
	key := cache.CatalogKey("a1b2c3d4", "v1.0", "tmdb", "recommended", nil)
	var computes atomic.Int32
	source := &stubSource{
		user: func(ctx context.Context, id uuid.UUID) ([]Task, error) {
			if id != userID {
				t.Errorf("UserTasks got id %s, want %s", id, userID)
			}
			return []Task{countingTask(key, &computes, `[]`)}, nil
		},
	}
	fx := newWarmerFixture(t, source, nil)

	fx.warmer.WarmForUser(userID)
	fx.warmer.Close()

	if _, err := fx.wrapper.Peek(context.Background(), key); err != nil {
		t.Errorf("user task was not cached: %v", err)
	}
}

func TestBackgroundWarming_SkipsAtCapacity(t *testing.T) {
	release := make(chan struct{})
	var listings atomic.Int32
	source := &stubSource{
		related: func(ctx context.Context, ref ItemRef) ([]Task, error) {
			listings.Add(1)
			<-release
			return nil, nil
		},
	}
	fx := newWarmerFixture(t, source, func(cfg *Config) {
		cfg.MaxBackground = 1
	})

	// The first batch occupies the only slot; the second is dropped,
	// not queued.
	fx.warmer.WarmRelated(ItemRef{ID: "1"})
	fx.warmer.WarmRelated(ItemRef{ID: "2"})

	close(release)
	fx.warmer.Close()

	if got := listings.Load(); got != 1 {
		t.Errorf("listings = %d, want 1 (second batch skipped)", got)
	}
}

func TestScheduleEssential_StopHalts(t *testing.T) {
	var passes atomic.Int32
	source := &stubSource{
		essential: func(ctx context.Context) ([]Task, error) {
			passes.Add(1)
			return nil, nil
		},
	}
	fx := newWarmerFixture(t, source, nil)

	stop := fx.warmer.ScheduleEssential(20 * time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for passes.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if passes.Load() < 2 {
		t.Fatal("schedule did not re-run essential warming")
	}

	stop()
	stop() // stopping twice is fine

	time.Sleep(100 * time.Millisecond)
	settled := passes.Load()
	time.Sleep(120 * time.Millisecond)
	if got := passes.Load(); got != settled {
		t.Errorf("passes kept running after stop: %d -> %d", settled, got)
	}
}

func TestWarmAfterClose_RunsNoTasks(t *testing.T) {
	var computes atomic.Int32
	source := &stubSource{
		related: func(ctx context.Context, ref ItemRef) ([]Task, error) {
			return []Task{countingTask(cache.ProviderKey("v1.0", "late"), &computes, `{}`)}, nil
		},
	}
	fx := newWarmerFixture(t, source, nil)

	fx.warmer.Close()
	fx.warmer.WarmRelated(ItemRef{ID: "1"})
	fx.warmer.Close()

	if got := computes.Load(); got != 0 {
		t.Errorf("computes after Close = %d, want 0", got)
	}
}
