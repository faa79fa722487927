package cache

import (
	"context"
	"encoding/json"
	"fmt"
)

// Invoker produces a typed value for a cache key. ok=false signals a
// well-formed empty result (an empty catalog row, a search with no hits):
// it is returned to the caller but not cached unless the policy allows
// empty values.
type Invoker[T any] func(ctx context.Context) (value T, ok bool, err error)

// Wrap is the typed front for Wrapper.Do. Values are stored as JSON.
// Methods cannot be generic, hence the package-level function.
func Wrap[T any](ctx context.Context, w *Wrapper, key Key, fn Invoker[T], opts ...Option) (T, Outcome, error) {
	var zero T

	data, outcome, err := w.Do(ctx, key, func(ctx context.Context) ([]byte, bool, error) {
		value, ok, err := fn(ctx)
		if err != nil {
			return nil, false, err
		}
		raw, merr := json.Marshal(value)
		if merr != nil {
			return nil, false, fmt.Errorf("marshal %T: %w", value, merr)
		}
		return raw, ok, nil
	}, opts...)
	if err != nil {
		return zero, outcome, err
	}
	if len(data) == 0 {
		return zero, outcome, nil
	}

	var out T
	if uerr := json.Unmarshal(data, &out); uerr != nil {
		return zero, outcome, fmt.Errorf("unmarshal cached payload: %w", uerr)
	}
	return out, outcome, nil
}
