package storage

import (
	"sort"
	"sync"
)

// lockRegistry hands out one *sync.Mutex per (keyspace, key) pair, lazily
// created and never reclaimed — the live key cardinality in this
// scheduler (executors, jobs, sessions) is bounded by cluster size, not a
// concern worth adding eviction for.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*sync.Mutex)}
}

func lockKey(ks Keyspace, key string) string {
	return string(ks) + "/" + key
}

func (r *lockRegistry) mutexFor(ks Keyspace, key string) *sync.Mutex {
	k := lockKey(ks, key)
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[k]
	if !ok {
		m = &sync.Mutex{}
		r.locks[k] = m
	}
	return m
}

// guard implements Lock over one key's mutex.
type guard struct{ m *sync.Mutex }

func (g *guard) Unlock() { g.m.Unlock() }

func (r *lockRegistry) lock(ks Keyspace, key string) Lock {
	m := r.mutexFor(ks, key)
	m.Lock()
	return &guard{m: m}
}

// txnKey is a sortable (keyspace, key) pair.
type txnKey struct {
	ks  Keyspace
	key string
}

// acquireAll locks every distinct (keyspace,key) touched by ops in a
// deterministic order — sorted by (keyspace, key) — so that concurrent
// transactions touching overlapping key sets can never deadlock each
// other. Mirrors Ballista's KeyValueStore::acquire_locks default method.
func (r *lockRegistry) acquireAll(ops []Op) []*sync.Mutex {
	seen := make(map[txnKey]bool)
	var keys []txnKey
	for _, op := range ops {
		tk := txnKey{op.Keyspace, op.Key}
		if !seen[tk] {
			seen[tk] = true
			keys = append(keys, tk)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ks != keys[j].ks {
			return keys[i].ks < keys[j].ks
		}
		return keys[i].key < keys[j].key
	})

	mutexes := make([]*sync.Mutex, len(keys))
	for i, tk := range keys {
		mutexes[i] = r.mutexFor(tk.ks, tk.key)
	}
	for _, m := range mutexes {
		m.Lock()
	}
	return mutexes
}

func releaseAll(mutexes []*sync.Mutex) {
	for i := len(mutexes) - 1; i >= 0; i-- {
		mutexes[i].Unlock()
	}
}
