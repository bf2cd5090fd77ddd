package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories builds every DurableStore implementation so the contract
// tests run against each of them.
func storeFactories(t *testing.T) map[string]func(t *testing.T) DurableStore {
	return map[string]func(t *testing.T) DurableStore{
		"redis": func(t *testing.T) DurableStore {
			_, store := setupMiniRedis(t)
			return store
		},
		"sqlite": func(t *testing.T) DurableStore {
			store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache_test.db"))
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			return store
		},
	}
}

func TestDurableStore_Contract(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			require.NoError(t, store.Ping(ctx))

			_, err := store.Get(ctx, "lf:cache:missing")
			assert.ErrorIs(t, err, ErrCacheMiss)

			require.NoError(t, store.Set(ctx, "lf:cache:k", []byte("value"), time.Hour))
			got, err := store.Get(ctx, "lf:cache:k")
			require.NoError(t, err)
			assert.Equal(t, []byte("value"), got)

			require.NoError(t, store.Set(ctx, "lf:cache:k", []byte("replaced"), time.Hour))
			got, err = store.Get(ctx, "lf:cache:k")
			require.NoError(t, err)
			assert.Equal(t, []byte("replaced"), got)

			require.NoError(t, store.Delete(ctx, "lf:cache:k"))
			_, err = store.Get(ctx, "lf:cache:k")
			assert.ErrorIs(t, err, ErrCacheMiss)

			require.NoError(t, store.Set(ctx, "lf:cache:zero", []byte("x"), 0))
			_, err = store.Get(ctx, "lf:cache:zero")
			assert.ErrorIs(t, err, ErrCacheMiss, "non-positive TTL must not store")
		})
	}
}

func TestDurableStore_Versions(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			v, err := store.Version(ctx, "subtopics:QuantumComputing")
			require.NoError(t, err)
			assert.Equal(t, uint64(0), v)

			for want := uint64(1); want <= 3; want++ {
				got, err := store.BumpVersion(ctx, "subtopics:QuantumComputing")
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}

			v, err = store.Version(ctx, "subtopics:QuantumComputing")
			require.NoError(t, err)
			assert.Equal(t, uint64(3), v)

			v, err = store.Version(ctx, "subtopics:Biology")
			require.NoError(t, err)
			assert.Equal(t, uint64(0), v)
		})
	}
}

func TestRedisStore_TTL(t *testing.T) {
	mr, store := setupMiniRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "lf:cache:ttl", []byte("v"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "lf:cache:ttl")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStore_VersionsNeverExpire(t *testing.T) {
	mr, store := setupMiniRedis(t)
	ctx := context.Background()

	// A TTL left behind by an older release is cleared on the next bump.
	mr.Set(versionKey("ns"), "4")
	mr.SetTTL(versionKey("ns"), time.Hour)

	v, err := store.BumpVersion(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)
	assert.Equal(t, time.Duration(0), mr.TTL(versionKey("ns")))

	mr.FastForward(30 * 24 * time.Hour)
	v, err = store.Version(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)
}

func TestNewRedisStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStore should panic with nil redis client")
		}
	}()
	NewRedisStore(nil)
}

func TestSQLiteStore_ExpiryAndSweep(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sweep.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("v"), 20*time.Millisecond))
	require.NoError(t, store.Set(ctx, "long", []byte("v"), time.Hour))
	time.Sleep(40 * time.Millisecond)

	_, err = store.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)

	removed, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.Get(ctx, "long")
	assert.NoError(t, err)
}
