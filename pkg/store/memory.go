package store

import (
	"context"
	"sync"
	"time"

	"github.com/ryanuber/go-glob"
)

// defaultJanitorInterval is how often the memory store sweeps expired keys.
const defaultJanitorInterval = 30 * time.Second

type memoryItem struct {
	value []byte
	// deadline is the expiry instant. Zero means no expiry.
	deadline time.Time
}

func (it memoryItem) expired(now time.Time) bool {
	return !it.deadline.IsZero() && now.After(it.deadline)
}

// Memory is an in-process Store. Expired keys stop being visible
// immediately; a janitor goroutine reclaims their memory periodically.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memoryItem

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// MemoryOption configures the memory store.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	janitorInterval time.Duration
}

// WithJanitorInterval overrides how often expired keys are reclaimed.
func WithJanitorInterval(d time.Duration) MemoryOption {
	return func(c *memoryConfig) { c.janitorInterval = d }
}

// NewMemory creates an in-process store and starts its janitor.
func NewMemory(opts ...MemoryOption) *Memory {
	cfg := memoryConfig{janitorInterval: defaultJanitorInterval}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Memory{
		items:  make(map[string]memoryItem),
		cancel: cancel,
	}

	m.wg.Add(1)
	go m.run(ctx, cfg.janitorInterval)

	return m
}

// run is the janitor loop reclaiming expired keys.
func (m *Memory) run(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for key, item := range m.items {
				if item.expired(now) {
					delete(m.items, key)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Get returns the bytes stored under key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()

	if !ok || item.expired(time.Now()) {
		return nil, ErrNotFound
	}
	return item.value, nil
}

// Set stores value under key with the given expiry.
func (m *Memory) Set(_ context.Context, key string, value []byte, expiry time.Duration) error {
	item := memoryItem{value: value}
	if expiry > 0 {
		item.deadline = time.Now().Add(expiry)
	}

	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()

	return nil
}

// Delete removes keys and returns how many existed.
func (m *Memory) Delete(_ context.Context, keys ...string) (int64, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for _, key := range keys {
		if item, ok := m.items[key]; ok {
			if !item.expired(now) {
				deleted++
			}
			delete(m.items, key)
		}
	}
	return deleted, nil
}

// Exists reports whether key is present.
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()

	return ok && !item.expired(time.Now()), nil
}

// KeysMatching returns all keys matching a glob pattern.
func (m *Memory) KeysMatching(_ context.Context, pattern string) ([]string, error) {
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key, item := range m.items {
		if item.expired(now) {
			continue
		}
		if glob.Glob(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Close stops the janitor. Safe to call multiple times.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
	})
	return nil
}
