package cache

import (
	"fmt"
	"hash/fnv"

	lru "github.com/hashicorp/golang-lru/v2"
)

// localTier is the in-process tier: a fixed number of LRU shards, each with
// its own lock, selected by FNV-1a of the storage key.
type localTier struct {
	shards []*lru.Cache[string, *Entry]
	mask   uint32
}

func newLocalTier(capacity, shards int) (*localTier, error) {
	if shards <= 0 || shards&(shards-1) != 0 {
		return nil, fmt.Errorf("shard count must be a power of two (got %d)", shards)
	}
	if capacity < shards {
		return nil, fmt.Errorf("local capacity %d is smaller than shard count %d", capacity, shards)
	}

	perShard := capacity / shards
	t := &localTier{
		shards: make([]*lru.Cache[string, *Entry], shards),
		mask:   uint32(shards - 1),
	}
	for i := range t.shards {
		c, err := lru.New[string, *Entry](perShard)
		if err != nil {
			return nil, fmt.Errorf("create local shard: %w", err)
		}
		t.shards[i] = c
	}
	return t, nil
}

func (t *localTier) shard(key string) *lru.Cache[string, *Entry] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return t.shards[h.Sum32()&t.mask]
}

func (t *localTier) get(key string) (*Entry, bool) {
	return t.shard(key).Get(key)
}

// add stores e and reports whether the shard evicted its least recently
// used entry to make room.
func (t *localTier) add(e *Entry) bool {
	return t.shard(e.Key).Add(e.Key, e)
}

func (t *localTier) remove(key string) {
	t.shard(key).Remove(key)
}

func (t *localTier) len() int {
	n := 0
	for _, s := range t.shards {
		n += s.Len()
	}
	return n
}
