package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrCacheUnavailable indicates the durable tier could not be reached
	// and the operation only affected the local tier.
	ErrCacheUnavailable = errors.New("durable cache unavailable")
)

// DurableStore is the shared key-value tier behind the local LRU.
// Implementations must return ErrCacheMiss for absent or expired keys.
type DurableStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Version returns the current version of a namespace (0 if never bumped).
	Version(ctx context.Context, namespace string) (uint64, error)

	// BumpVersion atomically increments the namespace version. Versions
	// must never go backwards, so stores keep them without expiry.
	BumpVersion(ctx context.Context, namespace string) (uint64, error)

	Ping(ctx context.Context) error
	Close() error
}

func versionKey(namespace string) string {
	return "lf:nsver:" + namespace
}
