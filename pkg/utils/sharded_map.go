package utils

import (
	"hash/fnv"
	"sync"
)

const numShards = 256

// ShardedMap is a concurrent string-keyed map split across shards, so
// unrelated keys rarely share a lock.
type ShardedMap[V any] struct {
	shards [numShards]shard[V]
}

type shard[V any] struct {
	sync.RWMutex
	m map[string]V
}

// NewShardedMap creates a new sharded map.
func NewShardedMap[V any]() *ShardedMap[V] {
	sm := &ShardedMap[V]{}
	for i := range sm.shards {
		sm.shards[i].m = make(map[string]V)
	}
	return sm
}

func (sm *ShardedMap[V]) getShard(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &sm.shards[h.Sum32()%numShards]
}

// Load returns the value for a key, or the zero value if not found.
func (sm *ShardedMap[V]) Load(key string) (V, bool) {
	s := sm.getShard(key)
	s.RLock()
	v, ok := s.m[key]
	s.RUnlock()
	return v, ok
}

// Store sets a value for a key.
func (sm *ShardedMap[V]) Store(key string, value V) {
	s := sm.getShard(key)
	s.Lock()
	s.m[key] = value
	s.Unlock()
}

// Compute runs f under the shard lock with the current value. If f returns
// keep=false the key is removed, otherwise the returned value is stored.
func (sm *ShardedMap[V]) Compute(key string, f func(old V, exists bool) (value V, keep bool)) V {
	s := sm.getShard(key)
	s.Lock()
	defer s.Unlock()

	old, exists := s.m[key]
	value, keep := f(old, exists)
	if !keep {
		delete(s.m, key)
		return value
	}
	s.m[key] = value
	return value
}

// Delete removes a key from the map.
func (sm *ShardedMap[V]) Delete(key string) {
	s := sm.getShard(key)
	s.Lock()
	delete(s.m, key)
	s.Unlock()
}

// Len returns the total number of entries across all shards.
func (sm *ShardedMap[V]) Len() int {
	count := 0
	for i := range sm.shards {
		s := &sm.shards[i]
		s.RLock()
		count += len(s.m)
		s.RUnlock()
	}
	return count
}

// DeleteIf removes every entry for which f returns true and reports how
// many were removed. Shards are locked one at a time.
func (sm *ShardedMap[V]) DeleteIf(f func(key string, value V) bool) int {
	removed := 0
	for i := range sm.shards {
		s := &sm.shards[i]
		s.Lock()
		for k, v := range s.m {
			if f(k, v) {
				delete(s.m, k)
				removed++
			}
		}
		s.Unlock()
	}
	return removed
}
