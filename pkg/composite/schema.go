// Package composite splits large metadata documents into independently
// cached components and reassembles them on read. Artwork, episode lists,
// and cast change on different schedules than core metadata; caching them
// under separate keys lets each expire on its own clock while reads still
// see one document.
package composite

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Jeffail/gabs"
)

// Component names. Core holds every field no other component claims.
const (
	ComponentCore     = "core"
	ComponentArtwork  = "artwork"
	ComponentEpisodes = "episodes"
	ComponentPeople   = "people"
	ComponentRatings  = "ratings"
)

// ErrNotComposite is returned when a payload is not a JSON object and so
// cannot be split into components.
var ErrNotComposite = errors.New("payload is not a JSON object")

// Schema maps component names to the top-level document fields they own.
// Fields absent from the schema land in the core component.
type Schema map[string][]string

// DefaultSchema covers the show and movie documents the aggregator serves.
func DefaultSchema() Schema {
	return Schema{
		ComponentArtwork:  {"poster", "background", "banner", "logo", "thumbnail", "clearart", "images"},
		ComponentEpisodes: {"episodes", "seasons", "videos"},
		ComponentPeople:   {"cast", "crew", "directors", "writers"},
		ComponentRatings:  {"ratings", "imdbRating", "popularity", "certification"},
	}
}

// Components returns every component name the schema produces, core first,
// the rest sorted.
func (s Schema) Components() []string {
	names := make([]string, 0, len(s)+1)
	for name := range s {
		if name == ComponentCore {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return append([]string{ComponentCore}, names...)
}

// owners inverts the schema into a field-to-component lookup.
func (s Schema) owners() map[string]string {
	owner := make(map[string]string)
	for component, fields := range s {
		for _, field := range fields {
			owner[field] = component
		}
	}
	return owner
}

// Decompose splits a JSON object into one document per component. Every
// component in the schema is materialized, as an empty object when the
// payload has none of its fields, so reassembly can demand all of them.
func Decompose(schema Schema, payload []byte) (map[string][]byte, error) {
	parsed, err := gabs.ParseJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	fields, err := parsed.ChildrenMap()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotComposite, err)
	}

	owner := schema.owners()
	parts := make(map[string]*gabs.Container, len(schema)+1)
	for _, name := range schema.Components() {
		parts[name] = gabs.New()
	}
	for name, child := range fields {
		component := owner[name]
		if component == "" {
			component = ComponentCore
		}
		parts[component].Set(child.Data(), name)
	}

	out := make(map[string][]byte, len(parts))
	for component, doc := range parts {
		out[component] = doc.Bytes()
	}
	return out, nil
}

// Merge reassembles component documents into a single JSON object. Each
// field belongs to exactly one component, so ordering only affects
// determinism, not content.
func Merge(schema Schema, parts map[string][]byte) ([]byte, error) {
	merged := gabs.New()
	for _, component := range schema.Components() {
		data, found := parts[component]
		if !found || len(data) == 0 {
			continue
		}
		doc, err := gabs.ParseJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s component: %w", component, err)
		}
		fields, err := doc.ChildrenMap()
		if err != nil {
			return nil, fmt.Errorf("%s component is not an object: %w", component, err)
		}
		for name, child := range fields {
			merged.Set(child.Data(), name)
		}
	}
	return merged.Bytes(), nil
}
