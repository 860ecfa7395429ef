package ratelimit

import (
	"hash/fnv"
	"sync"
)

const numShards = 64

// shard is a single partition of the sharded window map.
type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// shardedWindows is a concurrent map split into fixed shards to reduce lock
// contention between counter keys. The decrement-and-check in Take runs
// entirely under one shard lock, so a window update is atomic per key.
type shardedWindows struct {
	shards [numShards]shard
}

func newShardedWindows() *shardedWindows {
	var m shardedWindows
	for i := range m.shards {
		m.shards[i].windows = make(map[string]*window)
	}
	return &m
}

func (m *shardedWindows) getShard(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &m.shards[h.Sum32()%numShards]
}

// deleteFunc iterates all shards and deletes windows for which fn returns true.
func (m *shardedWindows) deleteFunc(fn func(key string, w *window) bool) {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, w := range s.windows {
			if fn(k, w) {
				delete(s.windows, k)
			}
		}
		s.mu.Unlock()
	}
}
