package config

import (
	"testing"
	"time"

	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/cache"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() failed: %v", err)
	}

	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %s, want localhost:6379", cfg.RedisAddr)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %s, want :8080", cfg.ListenAddr)
	}
	if cfg.SoftwareVersion != "v1.0" {
		t.Errorf("SoftwareVersion = %s, want v1.0", cfg.SoftwareVersion)
	}
	if cfg.WarmInterval != 6*time.Hour {
		t.Errorf("WarmInterval = %v, want 6h", cfg.WarmInterval)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("CACHE_PREFIX", "aiojim")
	t.Setenv("SOFTWARE_VERSION", "v2.3")
	t.Setenv("WARM_INTERVAL", "45m")
	t.Setenv("CACHE_TTL_CATALOG", "15m")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() failed: %v", err)
	}

	if cfg.RedisAddr != "redis.internal:6380" {
		t.Errorf("RedisAddr = %s", cfg.RedisAddr)
	}
	if cfg.CachePrefix != "aiojim" {
		t.Errorf("CachePrefix = %s", cfg.CachePrefix)
	}
	if cfg.SoftwareVersion != "v2.3" {
		t.Errorf("SoftwareVersion = %s", cfg.SoftwareVersion)
	}
	if cfg.WarmInterval != 45*time.Minute {
		t.Errorf("WarmInterval = %v", cfg.WarmInterval)
	}
	if cfg.TTLCatalog != 15*time.Minute {
		t.Errorf("TTLCatalog = %v", cfg.TTLCatalog)
	}
}

func TestFromEnv_InvalidDuration(t *testing.T) {
	t.Setenv("WARM_INTERVAL", "not-a-duration")

	if _, err := FromEnv(); err == nil {
		t.Error("FromEnv() should fail on an unparsable duration")
	}
}

func TestDaemon_Policies(t *testing.T) {
	t.Run("defaults pass through", func(t *testing.T) {
		var d Daemon
		policies := d.Policies()

		defaults := cache.DefaultPolicies()
		for cat, want := range defaults {
			got, ok := policies[cat]
			if !ok {
				t.Fatalf("category %s missing from policies", cat)
			}
			if got != want {
				t.Errorf("policy[%s] = %+v, want %+v", cat, got, want)
			}
		}
	})

	t.Run("ttl override keeps other fields", func(t *testing.T) {
		d := Daemon{TTLMeta: 2 * time.Hour}
		policies := d.Policies()

		meta := policies[cache.CategoryMeta]
		if meta.TTL != 2*time.Hour {
			t.Errorf("meta TTL = %v, want 2h", meta.TTL)
		}

		want := cache.DefaultPolicies()[cache.CategoryMeta]
		if meta.StaleWindow != want.StaleWindow || meta.MaxRetries != want.MaxRetries || meta.ErrorTTL != want.ErrorTTL {
			t.Errorf("override clobbered non-TTL fields: %+v", meta)
		}

		// Untouched categories keep their defaults.
		if policies[cache.CategorySearch] != cache.DefaultPolicies()[cache.CategorySearch] {
			t.Errorf("search policy changed: %+v", policies[cache.CategorySearch])
		}
	})

	t.Run("zero and negative overrides ignored", func(t *testing.T) {
		d := Daemon{TTLSearch: -time.Minute}
		if got := d.Policies()[cache.CategorySearch]; got != cache.DefaultPolicies()[cache.CategorySearch] {
			t.Errorf("negative override applied: %+v", got)
		}
	})
}
