package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/skylinedb/flightdeck/pkg/errs"
)

// MemStore is an in-memory Store, used in tests and as the "test fake"
// variant spec.md's Design Notes call for alongside the embedded and
// distributed KV variants.
type MemStore struct {
	mu     sync.RWMutex
	data   map[Keyspace]map[string][]byte
	locks  *lockRegistry
	watch  *watchHub
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	data := make(map[Keyspace]map[string][]byte, len(allKeyspaces))
	for _, ks := range allKeyspaces {
		data[ks] = make(map[string][]byte)
	}
	return &MemStore{data: data, locks: newLockRegistry(), watch: newWatchHub()}
}

func (s *MemStore) Close() error { return nil }

func (s *MemStore) Get(ks Keyspace, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.data[ks][key]; ok {
		return append([]byte(nil), v...), nil
	}
	return nil, nil
}

func (s *MemStore) GetFromPrefix(ks Keyspace, prefix string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte)
	for k, v := range s.data[ks] {
		if strings.HasPrefix(k, prefix) {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

func (s *MemStore) Scan(ks Keyspace) (map[string][]byte, error) {
	return s.GetFromPrefix(ks, "")
}

func (s *MemStore) ScanKeys(ks Keyspace) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data[ks]))
	for k := range s.data[ks] {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *MemStore) Put(ks Keyspace, key string, value []byte) error {
	s.mu.Lock()
	s.data[ks][key] = append([]byte(nil), value...)
	s.mu.Unlock()
	s.watch.publish(WatchEvent{Keyspace: ks, Key: key, Value: value})
	return nil
}

func (s *MemStore) Delete(ks Keyspace, key string) error {
	s.mu.Lock()
	delete(s.data[ks], key)
	s.mu.Unlock()
	s.watch.publish(WatchEvent{Keyspace: ks, Key: key, Deleted: true})
	return nil
}

func (s *MemStore) ApplyTxn(ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	mutexes := s.locks.acquireAll(ops)
	defer releaseAll(mutexes)

	s.mu.Lock()
	for _, op := range ops {
		if op.Delete {
			delete(s.data[op.Keyspace], op.Key)
			continue
		}
		s.data[op.Keyspace][op.Key] = append([]byte(nil), op.Value...)
	}
	s.mu.Unlock()

	for _, op := range ops {
		s.watch.publish(WatchEvent{Keyspace: op.Keyspace, Key: op.Key, Value: op.Value, Deleted: op.Delete})
	}
	return nil
}

func (s *MemStore) Lock(ks Keyspace, key string) (Lock, error) {
	return s.locks.lock(ks, key), nil
}

func (s *MemStore) Watch(ctx context.Context, ks Keyspace, prefix string) (<-chan WatchEvent, error) {
	return s.watch.watch(ctx, ks, prefix)
}

func (s *MemStore) Move(from, to Keyspace, key string) error {
	mutexes := s.locks.acquireAll([]Op{{Keyspace: from, Key: key}, {Keyspace: to, Key: key}})
	defer releaseAll(mutexes)

	s.mu.Lock()
	v, ok := s.data[from][key]
	if !ok {
		s.mu.Unlock()
		return errs.New(errs.NotFound, string(from)+"/"+key)
	}
	v = append([]byte(nil), v...)
	delete(s.data[from], key)
	s.data[to][key] = v
	s.mu.Unlock()

	s.watch.publish(WatchEvent{Keyspace: from, Key: key, Deleted: true})
	s.watch.publish(WatchEvent{Keyspace: to, Key: key, Value: v})
	return nil
}
