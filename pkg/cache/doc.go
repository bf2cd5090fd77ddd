// Package cache provides the two-tier content cache used in front of the
// generative-content provider.
//
// The cache manager implements:
//
// - A fast in-process tier: sharded LRU, bounded size, one lock per shard
// - A shared durable tier (Redis, or SQLite for single-node deployments)
// - Content-addressable keys derived from normalized request parameters
// - O(1) namespace invalidation through version counters
// - Graceful degradation to local-only when the durable tier is unreachable
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create cache manager
//	manager, err := cache.NewManager(cache.DefaultConfig(), cache.NewRedisStore(redisClient), logger)
//
//	// Create cache key
//	key := cache.Key{
//		Operation: "breakdown",
//		Params:    map[string]string{"topic": "Quantum Computing"},
//	}
//
//	// Get from cache
//	entry, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// Cache miss - call the provider
//	}
//
//	// Store accepted content
//	err = manager.Put(ctx, key, content, 2*time.Hour, "subtopics:QuantumComputing")
//
// # Invalidation
//
// Entries carry the version of their namespace at write time. Invalidate
// increments the namespace version; entries with an older version are
// treated as absent on the next lookup and age out through their TTL.
//
//	manager.Invalidate(ctx, "subtopics:QuantumComputing")
//
// # Metrics
//
//   - learnforge_cache_hits_total{layer} - Cache hits by tier
//   - learnforge_cache_misses_total - Cache misses
//   - learnforge_cache_stale_total{layer} - Entries hidden by a version bump
//   - learnforge_cache_evictions_total - Local LRU evictions
//   - learnforge_cache_local_entries - Local tier size
//   - learnforge_cache_invalidations_total{scope} - Invalidations
//   - learnforge_cache_errors_total{operation} - Durable tier errors
//   - learnforge_cache_durable_bypassed_total - Local-only operations
package cache
