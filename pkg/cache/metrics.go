package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (local, durable)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnforge_cache_hits_total",
			Help: "Total number of content cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "learnforge_cache_misses_total",
			Help: "Total number of content cache misses",
		},
	)

	// CacheStale tracks entries hidden by a namespace version bump
	CacheStale = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnforge_cache_stale_total",
			Help: "Total number of entries skipped because their namespace version is outdated",
		},
		[]string{"layer"},
	)

	// CacheEvictions tracks LRU evictions in the local tier
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "learnforge_cache_evictions_total",
			Help: "Total number of local tier LRU evictions",
		},
	)

	// CacheLocalEntries tracks the number of entries in the local tier
	CacheLocalEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "learnforge_cache_local_entries",
			Help: "Current number of entries in the local cache tier",
		},
	)

	// CacheInvalidations tracks namespace and key invalidations
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnforge_cache_invalidations_total",
			Help: "Total number of cache invalidations by scope",
		},
		[]string{"scope"}, // "namespace", "key"
	)

	// CacheErrors tracks durable tier operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnforge_cache_errors_total",
			Help: "Total number of durable cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "version", "bump"
	)

	// CacheBypassed tracks operations that skipped the durable tier
	CacheBypassed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "learnforge_cache_durable_bypassed_total",
			Help: "Total number of operations served local-only because the durable tier was unavailable",
		},
	)
)
