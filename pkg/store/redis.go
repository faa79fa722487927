package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatchSize is the SCAN cursor hint for KeysMatching.
const scanBatchSize = 512

// Redis is a Store backed by a Redis server.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisOption configures the Redis store.
type RedisOption func(*Redis)

// WithPrefix namespaces every key, for sharing a Redis database with
// other tenants.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" && !strings.HasSuffix(prefix, ":") {
			prefix += ":"
		}
		r.prefix = prefix
	}
}

// NewRedis creates a Redis-backed store. The caller owns the client
// lifecycle; Close on the store does not close the client.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	if client == nil {
		panic("redis client cannot be nil")
	}
	r := &Redis{client: client}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) prefixed(key string) string {
	return r.prefix + key
}

// Get returns the bytes stored under key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.prefixed(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Set stores value under key with the given expiry.
func (r *Redis) Set(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	if expiry < 0 {
		expiry = 0
	}
	if err := r.client.Set(ctx, r.prefixed(key), value, expiry).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes keys and returns how many existed.
func (r *Redis) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = r.prefixed(key)
	}
	deleted, err := r.client.Del(ctx, prefixed...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return deleted, nil
}

// Exists reports whether key is present.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefixed(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// KeysMatching returns all keys matching a glob pattern.
// Uses an incremental SCAN so large keyspaces do not block the server.
func (r *Redis) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, r.prefixed(pattern), scanBatchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, key := range batch {
			keys = append(keys, strings.TrimPrefix(key, r.prefix))
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Close is a no-op. The caller owns the redis.Client lifecycle.
func (r *Redis) Close() error {
	return nil
}
