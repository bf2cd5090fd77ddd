package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the cache manager configuration.
type Config struct {
	// LocalCapacity is the total number of entries kept in the local tier
	LocalCapacity int `yaml:"local_capacity"`

	// Shards is the number of local LRU shards (power of two)
	Shards int `yaml:"shards"`

	// VersionSlots is the number of local namespace version counters
	VersionSlots int `yaml:"version_slots"`

	// LocalMaxTTL caps how long an entry stays in the local tier. It bounds
	// how long an invalidation made by another replica can go unnoticed.
	LocalMaxTTL time.Duration `yaml:"local_max_ttl"`

	// MaxTTL caps the TTL of any entry
	MaxTTL time.Duration `yaml:"max_ttl"`

	// DurableTimeout bounds every durable tier call
	DurableTimeout time.Duration `yaml:"durable_timeout"`

	// DurableCooldown is how long the durable tier is bypassed after a failure
	DurableCooldown time.Duration `yaml:"durable_cooldown"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		LocalCapacity:   10000,
		Shards:          16,
		VersionSlots:    4096,
		LocalMaxTTL:     5 * time.Minute,
		MaxTTL:          24 * time.Hour,
		DurableTimeout:  250 * time.Millisecond,
		DurableCooldown: 5 * time.Second,
	}
}

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	LocalEntries      int    `json:"local_entries"`
	LocalHits         uint64 `json:"local_hits"`
	DurableHits       uint64 `json:"durable_hits"`
	Misses            uint64 `json:"misses"`
	Stale             uint64 `json:"stale"`
	Evictions         uint64 `json:"evictions"`
	DurableConfigured bool   `json:"durable_configured"`
	DurableAvailable  bool   `json:"durable_available"`
}

// Manager is the two-tier cache: a sharded in-process LRU in front of an
// optional shared DurableStore.
//
// An entry is visible only while it is unexpired and its Version equals the
// current version of its namespace in the tier that holds it. Invalidating
// a namespace bumps both versions; nothing is swept.
type Manager struct {
	cfg      Config
	local    *localTier
	versions *versionTable
	durable  DurableStore
	logger   zerolog.Logger

	// bypassUntil is the UnixNano until which the durable tier is skipped.
	bypassUntil atomic.Int64

	// invalidations counts Invalidate calls. It is advanced before the
	// local version so readers can detect a bump that raced their read.
	invalidations atomic.Uint64

	localHits   atomic.Uint64
	durableHits atomic.Uint64
	misses      atomic.Uint64
	stale       atomic.Uint64
	evictions   atomic.Uint64
}

// NewManager creates a cache manager. durable may be nil for a local-only cache.
func NewManager(cfg Config, durable DurableStore, logger zerolog.Logger) (*Manager, error) {
	local, err := newLocalTier(cfg.LocalCapacity, cfg.Shards)
	if err != nil {
		return nil, err
	}
	if cfg.VersionSlots <= 0 {
		return nil, fmt.Errorf("version_slots must be positive (got %d)", cfg.VersionSlots)
	}
	if cfg.DurableTimeout <= 0 {
		cfg.DurableTimeout = DefaultConfig().DurableTimeout
	}

	return &Manager{
		cfg:      cfg,
		local:    local,
		versions: newVersionTable(cfg.VersionSlots),
		durable:  durable,
		logger:   logger,
	}, nil
}

// Get looks the key up in the local tier, then in the durable tier.
// A durable hit is copied into the local tier before returning.
// Returns ErrCacheMiss if no visible entry exists in either tier; durable
// tier failures are reported as misses.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	storageKey := key.String()

	if e, ok := m.local.get(storageKey); ok {
		switch {
		case e.IsExpired():
			m.local.remove(storageKey)
		case e.Version != m.versions.current(e.Namespace):
			m.local.remove(storageKey)
			m.stale.Add(1)
			CacheStale.WithLabelValues(string(LayerLocal)).Inc()
		default:
			m.localHits.Add(1)
			CacheHits.WithLabelValues(string(LayerLocal)).Inc()
			m.logger.Debug().Str("key", storageKey).Str("layer", string(LayerLocal)).Msg("Cache hit")
			hit := e.clone()
			hit.Layer = LayerLocal
			return hit, nil
		}
	}

	epoch := m.invalidations.Load()
	e, err := m.getDurable(ctx, storageKey)
	if err != nil {
		m.misses.Add(1)
		CacheMisses.Inc()
		m.logger.Debug().Str("key", storageKey).Msg("Cache miss")
		return nil, ErrCacheMiss
	}

	// The local version is read before re-checking the epoch. If an
	// Invalidate started after the durable version check the copy is not
	// kept, otherwise it would carry the bumped local version.
	version := m.versions.current(e.Namespace)
	if m.invalidations.Load() == epoch {
		m.addLocal(storageKey, e.Namespace, version, e.Value, e.CreatedAt, e.ExpiresAt)
	}

	m.durableHits.Add(1)
	CacheHits.WithLabelValues(string(LayerDurable)).Inc()
	m.logger.Debug().Str("key", storageKey).Str("layer", string(LayerDurable)).Msg("Cache hit")
	e.Layer = LayerDurable
	return e, nil
}

func (m *Manager) getDurable(ctx context.Context, storageKey string) (*Entry, error) {
	if m.durable == nil {
		return nil, ErrCacheMiss
	}
	if !m.durableUsable() {
		CacheBypassed.Inc()
		return nil, ErrCacheUnavailable
	}

	dctx, cancel := context.WithTimeout(ctx, m.cfg.DurableTimeout)
	defer cancel()

	data, err := m.durable.Get(dctx, storageKey)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, err
		}
		m.markUnavailable(ctx, "get", err)
		return nil, err
	}

	e, err := decodeEntry(data)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		m.logger.Warn().Err(err).Str("key", storageKey).Msg("Dropping corrupted cache entry")
		_ = m.durable.Delete(dctx, storageKey)
		return nil, err
	}
	if e.IsExpired() {
		return nil, ErrCacheMiss
	}

	current, err := m.durable.Version(dctx, e.Namespace)
	if err != nil {
		m.markUnavailable(ctx, "version", err)
		return nil, err
	}
	if e.Version != current {
		m.stale.Add(1)
		CacheStale.WithLabelValues(string(LayerDurable)).Inc()
		return nil, ErrCacheMiss
	}
	return e, nil
}

// Reservation pins the versions of a namespace at the time content for it
// started being produced. Content stored with a reservation taken before an
// Invalidate is never visible after it.
type Reservation struct {
	namespace string
	local     uint64
	durable   uint64
	// durableOK is false when the durable tier was bypassed or failed
	durableOK bool
	err       error
}

// Namespace returns the reserved namespace.
func (r Reservation) Namespace() string {
	return r.namespace
}

// Reserve snapshots the current versions of namespace. Take it before
// generating content and store the content with PutReserved.
func (m *Manager) Reserve(ctx context.Context, namespace string) Reservation {
	r := Reservation{namespace: namespace, local: m.versions.current(namespace)}
	if m.durable == nil || !m.durableUsable() {
		return r
	}

	dctx, cancel := context.WithTimeout(ctx, m.cfg.DurableTimeout)
	defer cancel()

	version, err := m.durable.Version(dctx, namespace)
	if err != nil {
		m.markUnavailable(ctx, "version", err)
		r.err = err
		return r
	}
	r.durable = version
	r.durableOK = true
	return r
}

// Put stores value under key in both tiers at the namespace's current
// versions. Use Reserve and PutReserved when the value took time to produce.
func (m *Manager) Put(ctx context.Context, key Key, value []byte, ttl time.Duration, namespace string) error {
	if ttl <= 0 {
		return nil
	}
	return m.PutReserved(ctx, key, value, ttl, m.Reserve(ctx, namespace))
}

// PutReserved stores value under key in both tiers, stamped with the
// versions pinned by r. The local write always succeeds (possibly evicting
// the least recently used entry of its shard). A durable failure is
// returned wrapped in ErrCacheUnavailable and should be treated as a
// warning by the caller.
func (m *Manager) PutReserved(ctx context.Context, key Key, value []byte, ttl time.Duration, r Reservation) error {
	if ttl <= 0 {
		// Already expired, don't cache
		return nil
	}
	if m.cfg.MaxTTL > 0 && ttl > m.cfg.MaxTTL {
		ttl = m.cfg.MaxTTL
	}

	storageKey := key.String()
	now := time.Now()
	expiresAt := now.Add(ttl)

	m.addLocal(storageKey, r.namespace, r.local, value, now, expiresAt)

	if m.durable == nil {
		return nil
	}
	if r.err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, r.err)
	}
	if !r.durableOK || !m.durableUsable() {
		CacheBypassed.Inc()
		return nil
	}

	dctx, cancel := context.WithTimeout(ctx, m.cfg.DurableTimeout)
	defer cancel()

	data, err := encodeEntry(&Entry{
		Key:       storageKey,
		Value:     value,
		Namespace: r.namespace,
		Version:   r.durable,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return err
	}

	if err := m.durable.Set(dctx, storageKey, data, ttl); err != nil {
		m.markUnavailable(ctx, "set", err)
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	m.logger.Debug().
		Str("key", storageKey).
		Str("namespace", r.namespace).
		Uint64("version", r.durable).
		Dur("ttl", ttl).
		Msg("Cached content")
	return nil
}

func (m *Manager) addLocal(storageKey, namespace string, version uint64, value []byte, createdAt, expiresAt time.Time) {
	if m.cfg.LocalMaxTTL > 0 {
		if limit := time.Now().Add(m.cfg.LocalMaxTTL); expiresAt.After(limit) {
			expiresAt = limit
		}
	}

	evicted := m.local.add(&Entry{
		Key:       storageKey,
		Value:     value,
		Namespace: namespace,
		Version:   version,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	})
	if evicted {
		m.evictions.Add(1)
		CacheEvictions.Inc()
	}
}

// Invalidate hides every entry of namespace by bumping its version in both
// tiers. It is O(1) regardless of how many entries the namespace holds.
// If the durable tier cannot be updated the local bump still takes effect
// and an error wrapping ErrCacheUnavailable is returned.
func (m *Manager) Invalidate(ctx context.Context, namespace string) error {
	m.invalidations.Add(1)
	local := m.versions.bump(namespace)
	CacheInvalidations.WithLabelValues("namespace").Inc()

	logEvent := m.logger.Info().Str("namespace", namespace).Uint64("local_version", local)

	if m.durable == nil {
		logEvent.Msg("Namespace invalidated")
		return nil
	}

	dctx, cancel := context.WithTimeout(ctx, m.cfg.DurableTimeout)
	defer cancel()

	durable, err := m.durable.BumpVersion(dctx, namespace)
	if err != nil {
		m.markUnavailable(ctx, "bump", err)
		logEvent.Bool("durable", false).Msg("Namespace invalidated locally only")
		return fmt.Errorf("%w: invalidate %s: %v", ErrCacheUnavailable, namespace, err)
	}

	logEvent.Uint64("durable_version", durable).Msg("Namespace invalidated")
	return nil
}

// InvalidateKey removes a single key from both tiers.
func (m *Manager) InvalidateKey(ctx context.Context, key Key) error {
	storageKey := key.String()
	m.local.remove(storageKey)
	CacheInvalidations.WithLabelValues("key").Inc()

	if m.durable == nil {
		return nil
	}

	dctx, cancel := context.WithTimeout(ctx, m.cfg.DurableTimeout)
	defer cancel()

	if err := m.durable.Delete(dctx, storageKey); err != nil {
		m.markUnavailable(ctx, "delete", err)
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Stats returns the current cache counters.
func (m *Manager) Stats() Stats {
	n := m.local.len()
	CacheLocalEntries.Set(float64(n))

	return Stats{
		LocalEntries:      n,
		LocalHits:         m.localHits.Load(),
		DurableHits:       m.durableHits.Load(),
		Misses:            m.misses.Load(),
		Stale:             m.stale.Load(),
		Evictions:         m.evictions.Load(),
		DurableConfigured: m.durable != nil,
		DurableAvailable:  m.durableUsable(),
	}
}

// Close closes the durable tier, if any.
func (m *Manager) Close() error {
	if m.durable == nil {
		return nil
	}
	return m.durable.Close()
}

func (m *Manager) durableUsable() bool {
	return m.durable != nil && time.Now().UnixNano() >= m.bypassUntil.Load()
}

// markUnavailable starts a bypass window after a durable failure. Failures
// caused by the caller's own cancellation do not count.
func (m *Manager) markUnavailable(ctx context.Context, operation string, err error) {
	if ctx.Err() != nil {
		return
	}
	CacheErrors.WithLabelValues(operation).Inc()

	now := time.Now()
	prev := m.bypassUntil.Load()
	next := now.Add(m.cfg.DurableCooldown).UnixNano()
	if m.bypassUntil.CompareAndSwap(prev, next) && prev <= now.UnixNano() {
		m.logger.Warn().
			Err(err).
			Str("operation", operation).
			Dur("cooldown", m.cfg.DurableCooldown).
			Msg("Durable cache unavailable, serving local tier only")
	}
}
