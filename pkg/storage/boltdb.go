package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/skylinedb/flightdeck/pkg/errs"
	bolt "go.etcd.io/bbolt"
)

// BoltStore implements Store on top of an embedded BoltDB file, one
// bucket per keyspace. This is the "embedded KV" variant spec.md's
// Design Notes call for alongside in-memory and test-fake variants.
type BoltStore struct {
	db    *bolt.DB
	locks *lockRegistry
	watch *watchHub
}

// NewBoltStore opens (creating if absent) a BoltDB file under dataDir and
// provisions one bucket per keyspace.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "flightdeck.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, errs.Wrap(errs.StorageErrorKind, "open database", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, ks := range allKeyspaces {
			if _, err := tx.CreateBucketIfNotExists([]byte(ks)); err != nil {
				return fmt.Errorf("create bucket %s: %w", ks, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errs.Wrap(errs.StorageErrorKind, "provision keyspaces", err)
	}

	return &BoltStore{db: db, locks: newLockRegistry(), watch: newWatchHub()}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Get(ks Keyspace, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ks))
		if v := b.Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.StorageErrorKind, "get", err)
	}
	return out, nil
}

func (s *BoltStore) GetFromPrefix(ks Keyspace, prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(ks)).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			out[string(k)] = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.StorageErrorKind, "get_from_prefix", err)
	}
	return out, nil
}

func (s *BoltStore) Scan(ks Keyspace) (map[string][]byte, error) {
	return s.GetFromPrefix(ks, "")
}

func (s *BoltStore) ScanKeys(ks Keyspace) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ks)).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, errs.Wrap(errs.StorageErrorKind, "scan_keys", err)
	}
	return keys, nil
}

func (s *BoltStore) Put(ks Keyspace, key string, value []byte) error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ks)).Put([]byte(key), value)
	}); err != nil {
		return errs.Wrap(errs.StorageErrorKind, "put", err)
	}
	s.watch.publish(WatchEvent{Keyspace: ks, Key: key, Value: value})
	return nil
}

func (s *BoltStore) Delete(ks Keyspace, key string) error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ks)).Delete([]byte(key))
	}); err != nil {
		return errs.Wrap(errs.StorageErrorKind, "delete", err)
	}
	s.watch.publish(WatchEvent{Keyspace: ks, Key: key, Deleted: true})
	return nil
}

// ApplyTxn acquires locks on every touched (keyspace, key) in sorted
// order, then applies all ops in a single BoltDB transaction so they
// become visible atomically.
func (s *BoltStore) ApplyTxn(ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	mutexes := s.locks.acquireAll(ops)
	defer releaseAll(mutexes)

	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, op := range ops {
			b := tx.Bucket([]byte(op.Keyspace))
			if op.Delete {
				if err := b.Delete([]byte(op.Key)); err != nil {
					return err
				}
				continue
			}
			if err := b.Put([]byte(op.Key), op.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errs.Wrap(errs.StorageErrorKind, "apply_txn", err)
	}

	for _, op := range ops {
		s.watch.publish(WatchEvent{Keyspace: op.Keyspace, Key: op.Key, Value: op.Value, Deleted: op.Delete})
	}
	return nil
}

func (s *BoltStore) Lock(ks Keyspace, key string) (Lock, error) {
	return s.locks.lock(ks, key), nil
}

func (s *BoltStore) Watch(ctx context.Context, ks Keyspace, prefix string) (<-chan WatchEvent, error) {
	return s.watch.watch(ctx, ks, prefix)
}

func (s *BoltStore) Move(from, to Keyspace, key string) error {
	mutexes := s.locks.acquireAll([]Op{{Keyspace: from, Key: key}, {Keyspace: to, Key: key}})
	defer releaseAll(mutexes)

	var value []byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		src := tx.Bucket([]byte(from))
		value = src.Get([]byte(key))
		if value == nil {
			return errs.New(errs.NotFound, fmt.Sprintf("%s/%s", from, key))
		}
		value = append([]byte(nil), value...)
		if err := tx.Bucket([]byte(to)).Put([]byte(key), value); err != nil {
			return err
		}
		return src.Delete([]byte(key))
	})
	if err != nil {
		return errs.Wrap(errs.StorageErrorKind, "mv", err)
	}
	s.watch.publish(WatchEvent{Keyspace: from, Key: key, Deleted: true})
	s.watch.publish(WatchEvent{Keyspace: to, Key: key, Value: value})
	return nil
}
