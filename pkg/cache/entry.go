// Package cache provides the two-tier content cache with namespace invalidation.
package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Layer names the tier that served a cache hit.
type Layer string

const (
	// LayerLocal is the in-process LRU tier.
	LayerLocal Layer = "local"

	// LayerDurable is the shared durable tier (Redis or SQLite).
	LayerDurable Layer = "durable"
)

// Entry represents a cached piece of generated content.
type Entry struct {
	// Key is the storage key (Key.String())
	Key string `json:"key"`

	// Value is the cached content
	Value []byte `json:"value"`

	// Namespace groups entries for bulk invalidation (e.g., "subtopics:QuantumComputing")
	Namespace string `json:"namespace"`

	// Version is the namespace version the entry was written under
	Version uint64 `json:"version"`

	// CreatedAt is when the entry was written
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the entry stops being visible
	ExpiresAt time.Time `json:"expires_at"`

	// Layer is the tier that served the entry; not persisted
	Layer Layer `json:"-"`
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return !time.Now().Before(e.ExpiresAt)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// clone returns a copy that shares Value; cached values are never mutated.
func (e *Entry) clone() *Entry {
	c := *e
	return &c
}

func encodeEntry(e *Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &e, nil
}
