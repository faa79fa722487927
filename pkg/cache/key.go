package cache

import (
	"fmt"
	"sort"
	"strings"
)

// Category classifies what kind of data a cache key addresses.
type Category string

const (
	// CategoryCatalog is for catalog listings (rows of a browse page).
	CategoryCatalog Category = "catalog"

	// CategoryMeta is for full metadata objects (a show or movie detail).
	CategoryMeta Category = "meta"

	// CategorySearch is for search result sets.
	CategorySearch Category = "search"

	// CategoryProvider is for provider static data (genre lists, id maps).
	CategoryProvider Category = "provider"

	// CategoryGlobal is for cross-provider shared data.
	CategoryGlobal Category = "global"
)

// Valid reports whether the category is one of the known values.
func (c Category) Valid() bool {
	switch c {
	case CategoryCatalog, CategoryMeta, CategorySearch, CategoryProvider, CategoryGlobal:
		return true
	}
	return false
}

// ScopeGlobal is the scope for entries shared across all users.
// Personalized entries use the user's config hash as scope instead.
const ScopeGlobal = "global"

// Key identifies a cached value.
type Key struct {
	// Scope is "global" or a user config hash (8 hex chars).
	Scope string

	// Version is the software release version (e.g., "v1.0").
	// Bumping it cold-starts the cache without touching old entries.
	Version string

	// Category classifies the cached data.
	Category Category

	// Qualifiers are ordered free segments (provider id, media type, item id).
	Qualifiers []string

	// Params are optional named qualifiers, rendered sorted for determinism.
	Params map[string]string
}

// String renders the deterministic cache key string.
// Format: scope:version:category:qualifier...:param1=val1:param2=val2
//
// Example:
//
//	global:v1.0:provider:anime-genres
//	a1b2c3d4:v1.0:meta:tmdb:series:1396:component=artwork
func (k Key) String() string {
	parts := make([]string, 0, 3+len(k.Qualifiers)+len(k.Params))
	parts = append(parts, sanitizeSegment(k.Scope), sanitizeSegment(k.Version), string(k.Category))

	for _, q := range k.Qualifiers {
		parts = append(parts, sanitizeSegment(q))
	}

	// Add params (sorted for determinism)
	if len(k.Params) > 0 {
		paramKeys := make([]string, 0, len(k.Params))
		for key := range k.Params {
			paramKeys = append(paramKeys, key)
		}
		sort.Strings(paramKeys)

		for _, key := range paramKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", sanitizeSegment(key), sanitizeValue(k.Params[key])))
		}
	}

	return strings.Join(parts, ":")
}

// With returns a copy of the key with an additional param set.
// The receiver is not modified.
func (k Key) With(param, value string) Key {
	params := make(map[string]string, len(k.Params)+1)
	for key, val := range k.Params {
		params[key] = val
	}
	params[param] = value
	k.Params = params
	return k
}

// ParseKey parses a rendered key string back into its fields.
// Segments containing "=" become params, the rest become qualifiers.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 3 {
		return Key{}, fmt.Errorf("malformed cache key %q: need scope:version:category", s)
	}

	k := Key{
		Scope:    parts[0],
		Version:  parts[1],
		Category: Category(parts[2]),
	}
	if !k.Category.Valid() {
		return Key{}, fmt.Errorf("malformed cache key %q: unknown category %q", s, parts[2])
	}

	for _, part := range parts[3:] {
		if idx := strings.IndexByte(part, '='); idx >= 0 {
			if k.Params == nil {
				k.Params = make(map[string]string)
			}
			k.Params[part[:idx]] = part[idx+1:]
			continue
		}
		k.Qualifiers = append(k.Qualifiers, part)
	}

	return k, nil
}

// sanitizeSegment strips characters that would break key parsing.
// ":" is the segment separator and "=" marks params.
func sanitizeSegment(s string) string {
	s = strings.ReplaceAll(s, ":", "-")
	return strings.ReplaceAll(s, "=", "-")
}

// sanitizeValue keeps "=" (the value is everything after the first "=")
// but strips the segment separator.
func sanitizeValue(s string) string {
	return strings.ReplaceAll(s, ":", "-")
}

// MetaKey builds a key for a full metadata object.
func MetaKey(scope, version, provider, mediaType, id string) Key {
	return Key{
		Scope:      scope,
		Version:    version,
		Category:   CategoryMeta,
		Qualifiers: []string{provider, mediaType, id},
	}
}

// CatalogKey builds a key for a catalog listing.
func CatalogKey(scope, version, provider, catalogID string, params map[string]string) Key {
	return Key{
		Scope:      scope,
		Version:    version,
		Category:   CategoryCatalog,
		Qualifiers: []string{provider, catalogID},
		Params:     params,
	}
}

// SearchKey builds a key for a search result set.
func SearchKey(scope, version, mediaType, query string) Key {
	return Key{
		Scope:      scope,
		Version:    version,
		Category:   CategorySearch,
		Qualifiers: []string{mediaType},
		Params:     map[string]string{"q": strings.ToLower(strings.TrimSpace(query))},
	}
}

// ProviderKey builds a key for provider static data.
// Provider data is identical for every user, so the scope is always global.
func ProviderKey(version, name string) Key {
	return Key{
		Scope:      ScopeGlobal,
		Version:    version,
		Category:   CategoryProvider,
		Qualifiers: []string{name},
	}
}

// GlobalKey builds a key for cross-provider shared data.
func GlobalKey(version string, qualifiers ...string) Key {
	return Key{
		Scope:      ScopeGlobal,
		Version:    version,
		Category:   CategoryGlobal,
		Qualifiers: qualifiers,
	}
}
