package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/cache"
)

// Daemon is the cache daemon configuration, loaded from the environment.
type Daemon struct {
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// CachePrefix namespaces all keys, for sharing a Redis database.
	CachePrefix string `env:"CACHE_PREFIX"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty  bool   `env:"LOG_PRETTY" envDefault:"false"`

	// SoftwareVersion is the version segment of every cache key.
	// Bumping it cold-starts the cache.
	SoftwareVersion string `env:"SOFTWARE_VERSION" envDefault:"v1.0"`

	// WarmInterval is how often essential warming re-runs.
	WarmInterval time.Duration `env:"WARM_INTERVAL" envDefault:"6h"`

	// WarmManifest is the path to the JSON warming task list (optional).
	WarmManifest string `env:"WARM_MANIFEST"`

	// Per-category TTL overrides. Zero keeps the built-in default.
	TTLCatalog  time.Duration `env:"CACHE_TTL_CATALOG"`
	TTLMeta     time.Duration `env:"CACHE_TTL_META"`
	TTLSearch   time.Duration `env:"CACHE_TTL_SEARCH"`
	TTLProvider time.Duration `env:"CACHE_TTL_PROVIDER"`
	TTLGlobal   time.Duration `env:"CACHE_TTL_GLOBAL"`
}

// FromEnv loads the daemon configuration from environment variables.
func FromEnv() (Daemon, error) {
	var cfg Daemon
	if err := env.Parse(&cfg); err != nil {
		return Daemon{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Policies returns the category policy set with any env TTL overrides
// applied on top of the built-in defaults.
func (d Daemon) Policies() map[cache.Category]cache.Policy {
	policies := cache.DefaultPolicies()

	overrides := map[cache.Category]time.Duration{
		cache.CategoryCatalog:  d.TTLCatalog,
		cache.CategoryMeta:     d.TTLMeta,
		cache.CategorySearch:   d.TTLSearch,
		cache.CategoryProvider: d.TTLProvider,
		cache.CategoryGlobal:   d.TTLGlobal,
	}
	for cat, ttl := range overrides {
		if ttl <= 0 {
			continue
		}
		p := policies[cat]
		p.TTL = ttl
		policies[cat] = p
	}

	return policies
}
