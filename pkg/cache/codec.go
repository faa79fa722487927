package cache

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeEntry serializes an entry envelope for storage.
func EncodeEntry(e *Entry) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("cache entry cannot be nil")
	}
	data, err := msgpack.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return data, nil
}

// DecodeEntry deserializes a stored envelope.
// Returns ErrInvalidEntry when the bytes cannot be decoded.
func DecodeEntry(raw []byte) (*Entry, error) {
	var e Entry
	if err := msgpack.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &e, nil
}
