package admission

import (
	"hash/fnv"
	"sync"
	"time"
)

// quotaState is the per-identity quota record.
type quotaState struct {
	counters [numLimits]counter
	lastSeen time.Time
}

// stale reports whether every window of s has elapsed, i.e. evicting s
// loses no information.
func (s *quotaState) stale(now time.Time) bool {
	for k := limitKind(0); k < numLimits; k++ {
		if s.counters[k].current(windowIndex(now, k.period())) > 0 {
			return false
		}
	}
	return true
}

// quotaShard is one lock domain of the quota table.
type quotaShard struct {
	mu     sync.Mutex
	states map[string]*quotaState
}

// quotaTable is a fixed number of shards, each bounded to maxPerShard
// identities. Shards are selected by FNV-1a of the identity.
type quotaTable struct {
	shards      []*quotaShard
	maxPerShard int
}

func newQuotaTable(shards, maxPerShard int) *quotaTable {
	t := &quotaTable{
		shards:      make([]*quotaShard, shards),
		maxPerShard: maxPerShard,
	}
	for i := range t.shards {
		t.shards[i] = &quotaShard{states: make(map[string]*quotaState)}
	}
	return t
}

func (t *quotaTable) shard(identity string) *quotaShard {
	h := fnv.New32a()
	h.Write([]byte(identity))
	return t.shards[h.Sum32()%uint32(len(t.shards))]
}

// lookup returns the state of identity, creating it if needed. Must be
// called with s.mu held. evicted is the number of identities dropped to make
// room.
func (s *quotaShard) lookup(identity string, now time.Time, maxPerShard int) (state *quotaState, evicted int) {
	if st, ok := s.states[identity]; ok {
		return st, 0
	}

	if maxPerShard > 0 && len(s.states) >= maxPerShard {
		evicted = s.evict(now)
	}
	st := &quotaState{}
	s.states[identity] = st
	return st, evicted
}

// evict drops every stale identity; if none is stale, the least recently
// seen one goes.
func (s *quotaShard) evict(now time.Time) int {
	n := 0
	var oldestID string
	var oldest time.Time
	for id, st := range s.states {
		if st.stale(now) {
			delete(s.states, id)
			n++
			continue
		}
		if oldestID == "" || st.lastSeen.Before(oldest) {
			oldestID, oldest = id, st.lastSeen
		}
	}
	if n == 0 && oldestID != "" {
		delete(s.states, oldestID)
		n = 1
	}
	return n
}

// peek returns a copy of identity's counters without creating a record.
func (t *quotaTable) peek(identity string) (quotaState, bool) {
	s := t.shard(identity)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[identity]
	if !ok {
		return quotaState{}, false
	}
	return *st, true
}

// len returns the number of tracked identities.
func (t *quotaTable) len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.states)
		s.mu.Unlock()
	}
	return n
}
