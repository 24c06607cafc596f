package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStores(t *testing.T) map[string]Store {
	mem := NewMemStore()
	bolt, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })
	return map[string]Store{"mem": mem, "bolt": bolt}
}

func TestPutGetRoundTrip(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(Executors, "exec-1", []byte(`{"id":"exec-1"}`)))

			v, err := s.Get(Executors, "exec-1")
			require.NoError(t, err)
			assert.Equal(t, `{"id":"exec-1"}`, string(v))

			missing, err := s.Get(Executors, "does-not-exist")
			require.NoError(t, err)
			assert.Empty(t, missing)
		})
	}
}

func TestScanAndPrefix(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(Slots, "job-1/stage-0", []byte("a")))
			require.NoError(t, s.Put(Slots, "job-1/stage-1", []byte("b")))
			require.NoError(t, s.Put(Slots, "job-2/stage-0", []byte("c")))

			prefixed, err := s.GetFromPrefix(Slots, "job-1/")
			require.NoError(t, err)
			assert.Len(t, prefixed, 2)

			all, err := s.Scan(Slots)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			keys, err := s.ScanKeys(Slots)
			require.NoError(t, err)
			assert.Len(t, keys, 3)
		})
	}
}

func TestApplyTxnAtomicity(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.ApplyTxn([]Op{
				{Keyspace: Executors, Key: "e1", Value: []byte("1")},
				{Keyspace: Heartbeats, Key: "e1", Value: []byte("2")},
			})
			require.NoError(t, err)

			e1, _ := s.Get(Executors, "e1")
			hb1, _ := s.Get(Heartbeats, "e1")
			assert.Equal(t, "1", string(e1))
			assert.Equal(t, "2", string(hb1))
		})
	}
}

func TestApplyTxnEmptyIsNoop(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.ApplyTxn(nil))
		})
	}
}

func TestMoveRelocatesKey(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ActiveJobs, "job-1", []byte("running")))

			require.NoError(t, s.Move(ActiveJobs, CompletedJobs, "job-1"))

			gone, _ := s.Get(ActiveJobs, "job-1")
			assert.Empty(t, gone)
			moved, err := s.Get(CompletedJobs, "job-1")
			require.NoError(t, err)
			assert.Equal(t, "running", string(moved))
		})
	}
}

func TestMoveMissingKeyFails(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Move(ActiveJobs, CompletedJobs, "no-such-job")
			assert.Error(t, err)
		})
	}
}

func TestWatchSeesSubsequentPuts(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			ch, err := s.Watch(ctx, Heartbeats, "exec-")
			require.NoError(t, err)

			require.NoError(t, s.Put(Heartbeats, "exec-1", []byte("1")))

			select {
			case ev := <-ch:
				assert.Equal(t, "exec-1", ev.Key)
				assert.False(t, ev.Deleted)
			case <-time.After(2 * time.Second):
				t.Fatal("expected watch event")
			}
		})
	}
}

func TestLockExcludesConcurrentHolder(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			l, err := s.Lock(Slots, "exec-1")
			require.NoError(t, err)

			acquired := make(chan struct{})
			go func() {
				l2, err := s.Lock(Slots, "exec-1")
				require.NoError(t, err)
				close(acquired)
				l2.Unlock()
			}()

			select {
			case <-acquired:
				t.Fatal("second lock acquired while first still held")
			case <-time.After(100 * time.Millisecond):
			}

			l.Unlock()
			select {
			case <-acquired:
			case <-time.After(2 * time.Second):
				t.Fatal("second lock never acquired after release")
			}
		})
	}
}
