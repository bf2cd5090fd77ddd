package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the durable tier backed by Redis. Entries are stored with a
// native TTL; namespace versions are plain counters advanced with INCR.
type RedisStore struct {
	redis redis.UniversalClient
}

// NewRedisStore creates a durable store on top of an existing Redis client.
func NewRedisStore(redisClient redis.UniversalClient) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

// Get returns the raw value stored at key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Set stores value with the given TTL. A non-positive TTL is a no-op.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Version reads the namespace counter.
func (s *RedisStore) Version(ctx context.Context, namespace string) (uint64, error) {
	v, err := s.redis.Get(ctx, versionKey(namespace)).Uint64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get version: %w", err)
	}
	return v, nil
}

// BumpVersion increments the namespace counter. Version keys never expire:
// a counter that reset to 0 would count back up to versions that entries
// written before the reset still carry.
func (s *RedisStore) BumpVersion(ctx context.Context, namespace string) (uint64, error) {
	key := versionKey(namespace)

	var incr *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		// clears a TTL set by older releases
		pipe.Persist(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis incr version: %w", err)
	}
	return uint64(incr.Val()), nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.redis.Close()
}
