// Package config holds the user preference model that shapes cache scoping
// and content fingerprints, plus the daemon environment configuration.
package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/cache"
)

// UserConfig is the per-user preference set. Fields that change rendered
// results participate in the scope hash; presentation-only fields do not.
type UserConfig struct {
	// Language is the preferred metadata language (e.g., "en-US").
	Language string `json:"language"`

	// MetaProviders maps media type to the provider serving its metadata
	// (e.g., {"series": "tvdb", "movie": "tmdb", "anime": "mal"}).
	MetaProviders map[string]string `json:"metaProviders"`

	// CatalogOrder is the ordered list of enabled catalog rows.
	CatalogOrder []string `json:"catalogOrder"`

	// ArtProviders maps art type to the provider serving it
	// (e.g., {"poster": "fanart", "background": "tmdb"}).
	ArtProviders map[string]string `json:"artProviders"`

	// SeasonNumbering selects episode ordering ("aired" or "dvd").
	SeasonNumbering string `json:"seasonNumbering"`

	// CastCount limits how many cast members metadata includes.
	CastCount int `json:"castCount"`

	// BlurThumbs blurs episode thumbnails for spoiler protection.
	BlurThumbs bool `json:"blurThumbs"`

	// ContentFilters hides matching catalog entries (e.g., genre filters).
	ContentFilters []string `json:"contentFilters"`

	// ArtAPIKeys holds per-provider API keys. Key presence changes which
	// artwork a user can see; the secret itself never leaves the config.
	ArtAPIKeys map[string]string `json:"-"`

	// UITheme is presentation-only and does not affect cached content.
	UITheme string `json:"uiTheme,omitempty"`
}

// Hash returns the 16 hex char fingerprint over all cache-relevant fields.
// Two configs that render identical content hash identically.
func (c *UserConfig) Hash() string {
	if c == nil {
		return ""
	}

	d := xxhash.New()
	for _, line := range c.canonicalLines() {
		d.WriteString(line)
		d.WriteString("\n")
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

// Scope returns the cache key scope for this config: the first 8 hex chars
// of the hash, or the shared global scope for a nil config.
func (c *UserConfig) Scope() string {
	if c == nil {
		return cache.ScopeGlobal
	}
	return c.Hash()[:8]
}

// canonicalLines renders every cache-relevant field as a sorted,
// deterministic line set. UITheme is deliberately absent.
func (c *UserConfig) canonicalLines() []string {
	lines := []string{
		"language=" + c.Language,
		"seasonNumbering=" + c.SeasonNumbering,
		"castCount=" + strconv.Itoa(c.CastCount),
		"blurThumbs=" + strconv.FormatBool(c.BlurThumbs),
		"catalogOrder=" + strings.Join(c.CatalogOrder, ","),
		"contentFilters=" + strings.Join(c.ContentFilters, ","),
	}
	lines = append(lines, sortedPairs("metaProvider", c.MetaProviders)...)
	lines = append(lines, sortedPairs("artProvider", c.ArtProviders)...)

	// Secrets are folded to a hash: key rotation changes the scope
	// without the secret appearing in any derived value.
	keyNames := make([]string, 0, len(c.ArtAPIKeys))
	for name := range c.ArtAPIKeys {
		keyNames = append(keyNames, name)
	}
	sort.Strings(keyNames)
	for _, name := range keyNames {
		lines = append(lines, fmt.Sprintf("artKey.%s=%016x", name, xxhash.Sum64String(c.ArtAPIKeys[name])))
	}

	return lines
}

// sortedPairs renders a map as deterministic "prefix.key=value" lines.
func sortedPairs(prefix string, m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, prefix+"."+k+"="+m[k])
	}
	return lines
}
