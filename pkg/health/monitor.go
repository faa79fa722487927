// Package health tracks per-category cache effectiveness counters.
//
// The monitor is an in-process complement to the Prometheus vectors: it can
// be snapshotted, reset, and rendered for ops endpoints, which scrape-only
// counters cannot. Recording methods never fail and are safe on a nil
// monitor, so callers never guard their instrumentation.
package health

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// maxCategories bounds the category map. Unknown categories beyond the
// bound fold into "other" instead of growing without limit.
const maxCategories = 32

// overflowCategory collects records for categories past maxCategories.
const overflowCategory = "other"

// Counters holds the raw per-category tallies.
type Counters struct {
	// Hits are fresh cache hits, including served negative results.
	Hits uint64 `json:"hits"`

	// StaleHits are reads served past TTL while a refresh ran.
	StaleHits uint64 `json:"stale_hits"`

	// Misses are lookups that required a compute.
	Misses uint64 `json:"misses"`

	// PartialMisses are composite reads that fell back to full assembly
	// because some components were present but not all were servable.
	PartialMisses uint64 `json:"partial_misses"`

	// Errors are compute failure events and served cached failures.
	Errors uint64 `json:"errors"`
}

// CategoryStats is a snapshot of one category with its derived hit rate.
type CategoryStats struct {
	Counters

	// HitRate is (hits + stale hits) over all lookups, 0..1.
	// Errors are not lookups and do not dilute the rate.
	HitRate float64 `json:"hit_rate"`
}

// Stats is a point-in-time copy of all counters.
type Stats struct {
	// Since is when counting started (construction or last Reset).
	Since time.Time `json:"since"`

	Categories map[string]CategoryStats `json:"categories"`
}

// Monitor tracks cache effectiveness per category.
// The zero value is not usable; construct with NewMonitor.
type Monitor struct {
	mu    sync.RWMutex
	since time.Time
	cats  map[string]*Counters
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		since: time.Now(),
		cats:  make(map[string]*Counters),
	}
}

// counters returns the mutable counter block for a category, creating it
// on first use. Callers must hold mu.
func (m *Monitor) counters(category string) *Counters {
	if c, ok := m.cats[category]; ok {
		return c
	}
	if len(m.cats) >= maxCategories {
		category = overflowCategory
		if c, ok := m.cats[category]; ok {
			return c
		}
	}
	c := &Counters{}
	m.cats[category] = c
	return c
}

// RecordHit counts a fresh cache hit.
func (m *Monitor) RecordHit(category string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counters(category).Hits++
	m.mu.Unlock()
}

// RecordStaleHit counts a read served past TTL.
func (m *Monitor) RecordStaleHit(category string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counters(category).StaleHits++
	m.mu.Unlock()
}

// RecordMiss counts a lookup that required a compute.
func (m *Monitor) RecordMiss(category string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counters(category).Misses++
	m.mu.Unlock()
}

// RecordPartialMiss counts a composite read that fell back to full assembly.
func (m *Monitor) RecordPartialMiss(category string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counters(category).PartialMisses++
	m.mu.Unlock()
}

// RecordError counts a compute failure or a served cached failure.
func (m *Monitor) RecordError(category string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counters(category).Errors++
	m.mu.Unlock()
}

// Snapshot returns a copy of all counters with derived hit rates.
// Safe on a nil monitor, which reports an empty snapshot.
func (m *Monitor) Snapshot() Stats {
	if m == nil {
		return Stats{Categories: map[string]CategoryStats{}}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Since:      m.since,
		Categories: make(map[string]CategoryStats, len(m.cats)),
	}
	for category, c := range m.cats {
		cs := CategoryStats{Counters: *c}
		lookups := c.Hits + c.StaleHits + c.Misses + c.PartialMisses
		if lookups > 0 {
			cs.HitRate = float64(c.Hits+c.StaleHits) / float64(lookups)
		}
		stats.Categories[category] = cs
	}
	return stats
}

// Reset zeroes all counters and restarts the Since clock.
func (m *Monitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.since = time.Now()
	m.cats = make(map[string]*Counters)
	m.mu.Unlock()
}

// Describe renders a single-line human summary for logs and ops tooling.
func (m *Monitor) Describe() string {
	if m == nil {
		return "cache health: no data"
	}

	stats := m.Snapshot()
	if len(stats.Categories) == 0 {
		return "cache health: no lookups recorded"
	}

	names := make([]string, 0, len(stats.Categories))
	for name := range stats.Categories {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("cache health:")
	for _, name := range names {
		cs := stats.Categories[name]
		fmt.Fprintf(&b, " %s hits=%d stale=%d misses=%d partial=%d errors=%d rate=%.1f%%",
			name, cs.Hits, cs.StaleHits, cs.Misses, cs.PartialMisses, cs.Errors, cs.HitRate*100)
	}
	return b.String()
}
