package state

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

// Key is a comparable map key with a stable string form used for sharding.
type Key interface {
	comparable
	String() string
}

type shard[K Key, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// ShardedMap is a lock-striped concurrent map. Operations on keys of
// different shards never contend.
type ShardedMap[K Key, V any] struct {
	shards [shardCount]*shard[K, V]
}

// NewShardedMap creates an empty map.
func NewShardedMap[K Key, V any]() *ShardedMap[K, V] {
	sm := &ShardedMap[K, V]{}
	for i := range sm.shards {
		sm.shards[i] = &shard[K, V]{m: make(map[K]V)}
	}
	return sm
}

func (sm *ShardedMap[K, V]) shard(key K) *shard[K, V] {
	return sm.shards[xxhash.Sum64String(key.String())%shardCount]
}

// Load returns the value stored for key.
func (sm *ShardedMap[K, V]) Load(key K) (V, bool) {
	s := sm.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

// LoadOrStore returns the existing value for key if present. Otherwise it
// stores value and returns it. loaded is true when the value was present.
func (sm *ShardedMap[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	s := sm.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.m[key]; ok {
		return v, true
	}
	s.m[key] = value
	return value, false
}

// Store sets the value for key.
func (sm *ShardedMap[K, V]) Store(key K, value V) {
	s := sm.shard(key)
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
}

// Delete removes key.
func (sm *ShardedMap[K, V]) Delete(key K) {
	s := sm.shard(key)
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

// DeleteFunc removes every entry for which fn returns true and reports how
// many were removed.
func (sm *ShardedMap[K, V]) DeleteFunc(fn func(K, V) bool) int {
	removed := 0
	for _, s := range sm.shards {
		s.mu.Lock()
		for k, v := range s.m {
			if fn(k, v) {
				delete(s.m, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Range calls fn for every entry until fn returns false. Each shard is
// copied before fn runs, so fn may use the map.
func (sm *ShardedMap[K, V]) Range(fn func(K, V) bool) {
	for _, s := range sm.shards {
		s.mu.RLock()
		keys := make([]K, 0, len(s.m))
		vals := make([]V, 0, len(s.m))
		for k, v := range s.m {
			keys = append(keys, k)
			vals = append(vals, v)
		}
		s.mu.RUnlock()

		for i := range keys {
			if !fn(keys[i], vals[i]) {
				return
			}
		}
	}
}

// Values returns a snapshot of all values.
func (sm *ShardedMap[K, V]) Values() []V {
	out := make([]V, 0, sm.Len())
	sm.Range(func(_ K, v V) bool {
		out = append(out, v)
		return true
	})
	return out
}

// Len returns the number of entries.
func (sm *ShardedMap[K, V]) Len() int {
	n := 0
	for _, s := range sm.shards {
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

// Clear removes every entry.
func (sm *ShardedMap[K, V]) Clear() {
	for _, s := range sm.shards {
		s.mu.Lock()
		s.m = make(map[K]V)
		s.mu.Unlock()
	}
}
