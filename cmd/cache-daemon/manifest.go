package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/cache"
	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/upstream"
	"github.com/mronion212/AIOJim-Advanced-sub003/pkg/warming"
)

// manifestEntry is one item in the warm manifest file: a cache key target
// and the provider URL that fills it.
//
//	[
//	  {"category": "provider", "provider": "tmdb", "name": "anime-genres",
//	   "url": "https://api.example.com/genres/anime"},
//	  {"category": "catalog", "provider": "tmdb", "name": "popular",
//	   "url": "https://api.example.com/popular"}
//	]
type manifestEntry struct {
	Category string `json:"category"`
	Provider string `json:"provider"`
	Name     string `json:"name"`
	URL      string `json:"url"`
}

// manifestSource turns a static manifest file into essential warm tasks.
// It has no notion of related items or users; those flows are for service
// code embedding the warmer directly.
type manifestSource struct {
	version string
	entries []manifestEntry
	clients map[string]*upstream.Client
}

// loadManifest reads and validates the warm manifest, building one
// upstream client per distinct provider so metrics stay attributable.
func loadManifest(path, version string) (*manifestSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var entries []manifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("manifest is empty")
	}

	clients := make(map[string]*upstream.Client)
	for i, e := range entries {
		if e.Name == "" || e.URL == "" {
			return nil, fmt.Errorf("manifest entry %d: name and url are required", i)
		}
		provider := e.Provider
		if provider == "" {
			provider = "manifest"
			entries[i].Provider = provider
		}
		if _, ok := clients[provider]; !ok {
			client, cerr := upstream.New(upstream.DefaultConfig(provider))
			if cerr != nil {
				return nil, fmt.Errorf("manifest entry %d: %w", i, cerr)
			}
			clients[provider] = client
		}
	}

	return &manifestSource{
		version: version,
		entries: entries,
		clients: clients,
	}, nil
}

func (s *manifestSource) EssentialTasks(ctx context.Context) ([]warming.Task, error) {
	tasks := make([]warming.Task, 0, len(s.entries))
	for _, e := range s.entries {
		client := s.clients[e.Provider]
		url := e.URL
		tasks = append(tasks, warming.Task{
			Key: s.keyFor(e),
			Compute: func(ctx context.Context) ([]byte, bool, error) {
				data, err := client.FetchJSON(ctx, url)
				if err != nil {
					return nil, false, err
				}
				return data, len(data) > 0, nil
			},
		})
	}
	return tasks, nil
}

func (s *manifestSource) RelatedTasks(ctx context.Context, ref warming.ItemRef) ([]warming.Task, error) {
	return nil, nil
}

func (s *manifestSource) UserTasks(ctx context.Context, userID uuid.UUID) ([]warming.Task, error) {
	return nil, nil
}

// keyFor maps a manifest entry onto the key namespace. Everything the
// manifest warms is shared data, so all keys live in the global scope.
func (s *manifestSource) keyFor(e manifestEntry) cache.Key {
	switch e.Category {
	case string(cache.CategoryCatalog):
		return cache.CatalogKey(cache.ScopeGlobal, s.version, e.Provider, e.Name, nil)
	case string(cache.CategoryProvider):
		return cache.ProviderKey(s.version, e.Name)
	default:
		return cache.GlobalKey(s.version, e.Name)
	}
}
