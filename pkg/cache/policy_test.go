package cache

import (
	"testing"
	"time"
)

func TestDefaultPolicies(t *testing.T) {
	policies := DefaultPolicies()

	categories := []Category{
		CategoryCatalog,
		CategoryMeta,
		CategorySearch,
		CategoryProvider,
		CategoryGlobal,
	}
	for _, cat := range categories {
		p, ok := policies[cat]
		if !ok {
			t.Errorf("DefaultPolicies() missing category %q", cat)
			continue
		}
		if p.TTL <= 0 {
			t.Errorf("DefaultPolicies()[%q].TTL = %v, want > 0", cat, p.TTL)
		}
		if !p.ErrorCaching {
			t.Errorf("DefaultPolicies()[%q].ErrorCaching = false, want true", cat)
		}
		if p.ErrorTTL > p.TTL {
			t.Errorf("DefaultPolicies()[%q].ErrorTTL = %v exceeds TTL %v", cat, p.ErrorTTL, p.TTL)
		}
		if p.AllowEmpty {
			t.Errorf("DefaultPolicies()[%q].AllowEmpty = true, want false", cat)
		}
	}
	if len(policies) != len(categories) {
		t.Errorf("DefaultPolicies() has %d categories, want %d", len(policies), len(categories))
	}

	// Search results go out of date fast, so they must not be served stale.
	if sw := policies[CategorySearch].StaleWindow; sw != 0 {
		t.Errorf("search StaleWindow = %v, want 0", sw)
	}
	if mr := policies[CategorySearch].MaxRetries; mr != 1 {
		t.Errorf("search MaxRetries = %d, want 1", mr)
	}
}

func TestOptions(t *testing.T) {
	base := Policy{
		TTL:          time.Hour,
		StaleWindow:  2 * time.Hour,
		ErrorTTL:     30 * time.Second,
		MaxRetries:   2,
		ErrorCaching: true,
	}

	tests := []struct {
		name string
		opts []Option
		want callOptions
	}{
		{
			name: "no options keeps base policy",
			opts: nil,
			want: callOptions{policy: base},
		},
		{
			name: "WithTTL",
			opts: []Option{WithTTL(5 * time.Minute)},
			want: callOptions{policy: Policy{
				TTL:          5 * time.Minute,
				StaleWindow:  2 * time.Hour,
				ErrorTTL:     30 * time.Second,
				MaxRetries:   2,
				ErrorCaching: true,
			}},
		},
		{
			name: "WithStaleWindow",
			opts: []Option{WithStaleWindow(0)},
			want: callOptions{policy: Policy{
				TTL:          time.Hour,
				StaleWindow:  0,
				ErrorTTL:     30 * time.Second,
				MaxRetries:   2,
				ErrorCaching: true,
			}},
		},
		{
			name: "WithErrorCaching off",
			opts: []Option{WithErrorCaching(false)},
			want: callOptions{policy: Policy{
				TTL:          time.Hour,
				StaleWindow:  2 * time.Hour,
				ErrorTTL:     30 * time.Second,
				MaxRetries:   2,
				ErrorCaching: false,
			}},
		},
		{
			name: "WithErrorTTL and WithMaxRetries stack",
			opts: []Option{WithErrorTTL(10 * time.Second), WithMaxRetries(5)},
			want: callOptions{policy: Policy{
				TTL:          time.Hour,
				StaleWindow:  2 * time.Hour,
				ErrorTTL:     10 * time.Second,
				MaxRetries:   5,
				ErrorCaching: true,
			}},
		},
		{
			name: "WithAllowEmpty",
			opts: []Option{WithAllowEmpty()},
			want: callOptions{policy: Policy{
				TTL:          time.Hour,
				StaleWindow:  2 * time.Hour,
				ErrorTTL:     30 * time.Second,
				MaxRetries:   2,
				ErrorCaching: true,
				AllowEmpty:   true,
			}},
		},
		{
			name: "WithComputeTimeout and WithFingerprint",
			opts: []Option{WithComputeTimeout(3 * time.Second), WithFingerprint(`"abc"`)},
			want: callOptions{
				policy:         base,
				fingerprint:    `"abc"`,
				computeTimeout: 3 * time.Second,
			},
		},
		{
			name: "WithPolicy replaces wholesale",
			opts: []Option{WithPolicy(Policy{TTL: time.Minute})},
			want: callOptions{policy: Policy{TTL: time.Minute}},
		},
		{
			name: "later option wins",
			opts: []Option{WithTTL(time.Minute), WithTTL(2 * time.Minute)},
			want: callOptions{policy: Policy{
				TTL:          2 * time.Minute,
				StaleWindow:  2 * time.Hour,
				ErrorTTL:     30 * time.Second,
				MaxRetries:   2,
				ErrorCaching: true,
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := callOptions{policy: base}
			for _, opt := range tt.opts {
				opt(&got)
			}
			if got != tt.want {
				t.Errorf("resolved options = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClampErrorTTL(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		want   time.Duration
	}{
		{
			name:   "unset falls back to default",
			policy: Policy{TTL: time.Hour},
			want:   30 * time.Second,
		},
		{
			name:   "negative falls back to default",
			policy: Policy{TTL: time.Hour, ErrorTTL: -time.Second},
			want:   30 * time.Second,
		},
		{
			name:   "within TTL unchanged",
			policy: Policy{TTL: time.Hour, ErrorTTL: time.Minute},
			want:   time.Minute,
		},
		{
			name:   "longer than TTL clamped down",
			policy: Policy{TTL: time.Minute, ErrorTTL: time.Hour},
			want:   time.Minute,
		},
		{
			name:   "zero TTL leaves marker TTL alone",
			policy: Policy{ErrorTTL: 2 * time.Hour},
			want:   2 * time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.clampErrorTTL(); got != tt.want {
				t.Errorf("clampErrorTTL() = %v, want %v", got, tt.want)
			}
		})
	}
}
