package cluster

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/skylinedb/flightdeck/pkg/errs"
	"github.com/skylinedb/flightdeck/pkg/storage"
	"github.com/skylinedb/flightdeck/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	store := storage.NewMemStore()
	m := NewManager(store, Config{Liveness: time.Minute})
	t.Cleanup(m.Close)
	return m
}

func registerAlive(t *testing.T, m *Manager, id string, slots int) {
	t.Helper()
	_, err := m.RegisterExecutor(context.Background(), types.ExecutorMetadata{
		ID:   id,
		Spec: types.ExecutorSpec{TaskSlots: slots},
	}, false)
	require.NoError(t, err)
}

func TestRegisterExecutorWithoutReserve(t *testing.T) {
	m := newTestManager(t)
	reservations, err := m.RegisterExecutor(context.Background(), types.ExecutorMetadata{
		ID:   "exec-1",
		Spec: types.ExecutorSpec{TaskSlots: 4},
	}, false)
	require.NoError(t, err)
	assert.Empty(t, reservations)

	meta, err := m.GetExecutorMetadata("exec-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", meta.ID)
}

func TestRegisterExecutorWithReserve(t *testing.T) {
	m := newTestManager(t)
	reservations, err := m.RegisterExecutor(context.Background(), types.ExecutorMetadata{
		ID:   "exec-1",
		Spec: types.ExecutorSpec{TaskSlots: 3},
	}, true)
	require.NoError(t, err)
	assert.Len(t, reservations, 3)
	for _, r := range reservations {
		assert.Equal(t, "exec-1", r.ExecutorID)
	}

	// no slots left to reserve
	more, err := m.ReserveSlots(1, Bias, "")
	require.NoError(t, err)
	assert.Empty(t, more)
}

func TestReserveSlotsBiasExhaustsOneExecutorFirst(t *testing.T) {
	m := newTestManager(t)
	registerAlive(t, m, "exec-1", 2)
	registerAlive(t, m, "exec-2", 2)

	got, err := m.ReserveSlots(3, Bias, "")
	require.NoError(t, err)
	require.Len(t, got, 3)

	counts := map[string]int{}
	for _, r := range got {
		counts[r.ExecutorID]++
	}
	assert.Equal(t, 2, counts["exec-1"])
	assert.Equal(t, 1, counts["exec-2"])
}

func TestReserveSlotsRoundRobinSpreadsAcrossExecutors(t *testing.T) {
	m := newTestManager(t)
	registerAlive(t, m, "exec-1", 2)
	registerAlive(t, m, "exec-2", 2)

	got, err := m.ReserveSlots(2, RoundRobin, "")
	require.NoError(t, err)
	require.Len(t, got, 2)

	counts := map[string]int{}
	for _, r := range got {
		counts[r.ExecutorID]++
	}
	assert.Equal(t, 1, counts["exec-1"])
	assert.Equal(t, 1, counts["exec-2"])
}

func TestReserveSlotsExactFailsWhenUnderCapacity(t *testing.T) {
	m := newTestManager(t)
	registerAlive(t, m, "exec-1", 1)

	_, err := m.ReserveSlotsExact(2, Bias, "")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Conflict))
}

func TestCancelReservationsRestoresAvailability(t *testing.T) {
	m := newTestManager(t)
	registerAlive(t, m, "exec-1", 2)

	got, err := m.ReserveSlots(2, Bias, "")
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.NoError(t, m.CancelReservations(got))

	again, err := m.ReserveSlotsExact(2, Bias, "")
	require.NoError(t, err)
	assert.Len(t, again, 2)
}

func TestGetAliveExecutorsWithinWindow(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.SaveExecutorHeartbeat(types.Heartbeat{ExecutorID: "exec-1", Timestamp: time.Now().Unix()}))
	require.NoError(t, m.SaveExecutorHeartbeat(types.Heartbeat{ExecutorID: "exec-2", Timestamp: time.Now().Add(-2 * time.Minute).Unix()}))

	alive := m.GetAliveExecutorsWithin(30 * time.Second)
	assert.ElementsMatch(t, []string{"exec-1"}, alive)
}

func TestRemoveExecutorPublishesExecutorLost(t *testing.T) {
	m := newTestManager(t)
	registerAlive(t, m, "exec-1", 1)

	sub := m.Subscribe()
	defer m.Unsubscribe(sub)

	require.NoError(t, m.RemoveExecutor("exec-1", "manual"))

	select {
	case ev := <-sub:
		assert.Equal(t, ExecutorLost, ev.Kind)
		assert.Equal(t, "exec-1", ev.ExecutorID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected ExecutorLost event")
	}

	_, err := m.GetExecutorMetadata("exec-1")
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestExpiryLoopRemovesStaleExecutor(t *testing.T) {
	m := newTestManager(t)
	registerAlive(t, m, "exec-1", 1)
	// force the cached heartbeat into the past
	require.NoError(t, m.SaveExecutorHeartbeat(types.Heartbeat{ExecutorID: "exec-1", Timestamp: time.Now().Add(-time.Hour).Unix()}))

	m.StartExpiryLoop(50 * time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := m.GetExecutorMetadata("exec-1")
		return errs.Is(err, errs.NotFound)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHeartbeatWatcherPicksUpExternalPut(t *testing.T) {
	store := storage.NewMemStore()
	m := NewManager(store, Config{Liveness: time.Minute})
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.StartHeartbeatWatcher(ctx))

	// bypass SaveExecutorHeartbeat's direct cache write so this exercises
	// the watcher path alone, as if another scheduler replica wrote it.
	v, err := json.Marshal(types.Heartbeat{ExecutorID: "exec-1", Timestamp: time.Now().Unix()})
	require.NoError(t, err)
	require.NoError(t, store.Put(storage.Heartbeats, "exec-1", v))

	require.Eventually(t, func() bool {
		alive := m.GetAliveExecutorsWithin(time.Minute)
		return len(alive) == 1 && alive[0] == "exec-1"
	}, 2*time.Second, 20*time.Millisecond)
}
