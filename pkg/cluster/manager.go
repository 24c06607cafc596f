// Package cluster implements the Executor Manager: the authoritative slot
// ledger and liveness view for every registered executor.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/skylinedb/flightdeck/pkg/errs"
	"github.com/skylinedb/flightdeck/pkg/events"
	"github.com/skylinedb/flightdeck/pkg/log"
	"github.com/skylinedb/flightdeck/pkg/metrics"
	"github.com/skylinedb/flightdeck/pkg/storage"
	"github.com/skylinedb/flightdeck/pkg/types"
)

// DefaultLivenessTimeout is the window within which an executor's latest
// heartbeat must fall for it to be considered alive.
const DefaultLivenessTimeout = 60 * time.Second

// EventKind enumerates the events the Executor Manager publishes.
type EventKind string

const ExecutorLost EventKind = "executor_lost"

// Event is posted to subscribers (normally the query-stage event loop) on
// executor lifecycle transitions.
type Event struct {
	Kind       EventKind
	ExecutorID string
	Reason     string
}

// Pinger validates connectivity to a newly registering executor. A nil
// Pinger is treated as always-reachable, which is what unit tests want.
type Pinger interface {
	Ping(ctx context.Context, meta types.ExecutorMetadata) error
}

// StopNotifier makes a best-effort attempt to tell a suspected-dead
// executor to stop. Failures are logged, never retried.
type StopNotifier interface {
	NotifyStop(ctx context.Context, meta types.ExecutorMetadata)
}

// Manager owns the Executors/Heartbeats/Slots keyspaces: registration,
// slot reservation, heartbeat ingestion, and liveness-driven expiry.
type Manager struct {
	store  storage.Store
	logger zerolog.Logger
	events *events.Broker[Event]
	pinger Pinger
	notify StopNotifier

	liveness time.Duration

	// slotsMu serializes every operation that reads-then-writes the slot
	// ledger, standing in for the "global Slots lock" spec.md calls for:
	// per-key storage locks alone don't prevent two concurrent reservation
	// passes from both reading stale Available counts.
	slotsMu sync.Mutex

	mu        sync.RWMutex
	metaCache map[string]types.ExecutorMetadata
	hbCache   map[string]types.Heartbeat

	stopCh chan struct{}
}

// Config configures a Manager. Pinger and StopNotifier are optional.
type Config struct {
	Liveness time.Duration
	Pinger   Pinger
	Notify   StopNotifier
}

func NewManager(store storage.Store, cfg Config) *Manager {
	liveness := cfg.Liveness
	if liveness <= 0 {
		liveness = DefaultLivenessTimeout
	}
	m := &Manager{
		store:     store,
		logger:    log.WithComponent("executor_manager"),
		events:    events.NewBroker[Event](),
		pinger:    cfg.Pinger,
		notify:    cfg.Notify,
		liveness:  liveness,
		metaCache: make(map[string]types.ExecutorMetadata),
		hbCache:   make(map[string]types.Heartbeat),
		stopCh:    make(chan struct{}),
	}
	m.events.Start()
	return m
}

// Subscribe returns a channel of Executor Manager events (currently just
// ExecutorLost); it is the Executor Manager's side of the event loop wiring.
func (m *Manager) Subscribe() events.Subscriber[Event] {
	return m.events.Subscribe()
}

func (m *Manager) Unsubscribe(sub events.Subscriber[Event]) {
	m.events.Unsubscribe(sub)
}

// Close stops background loops and the event broker.
func (m *Manager) Close() {
	close(m.stopCh)
	m.events.Stop()
}

// RegisterExecutor validates connectivity, persists metadata/heartbeat/slot
// ledger, and — if reserve is true — hands back every free slot as a
// reservation bound to this executor (push scheduling).
func (m *Manager) RegisterExecutor(ctx context.Context, meta types.ExecutorMetadata, reserve bool) ([]types.Reservation, error) {
	if m.pinger != nil {
		if err := m.pinger.Ping(ctx, meta); err != nil {
			return nil, errs.Wrap(errs.Connectivity, fmt.Sprintf("ping executor %s", meta.ID), err)
		}
	}

	total := meta.Spec.TaskSlots
	available := total
	var reservations []types.Reservation
	if reserve {
		available = 0
		reservations = make([]types.Reservation, total)
		for i := range reservations {
			reservations[i] = types.Reservation{ExecutorID: meta.ID}
		}
	}

	ledger := types.ExecutorData{ExecutorID: meta.ID, Total: total, Available: available}
	hb := types.Heartbeat{ExecutorID: meta.ID, Timestamp: time.Now().Unix()}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "marshal executor metadata", err)
	}
	ledgerBytes, err := json.Marshal(ledger)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "marshal slot ledger", err)
	}
	hbBytes, err := json.Marshal(hb)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "marshal heartbeat", err)
	}

	err = m.store.ApplyTxn([]storage.Op{
		{Keyspace: storage.Executors, Key: meta.ID, Value: metaBytes},
		{Keyspace: storage.Heartbeats, Key: meta.ID, Value: hbBytes},
		{Keyspace: storage.Slots, Key: meta.ID, Value: ledgerBytes},
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.metaCache[meta.ID] = meta
	m.hbCache[meta.ID] = hb
	m.mu.Unlock()

	m.logger.Info().Str("executor_id", meta.ID).Int("task_slots", total).Bool("reserve", reserve).Msg("executor registered")
	metrics.ExecutorsTotal.WithLabelValues("alive").Inc()
	if reserve && total > 0 {
		metrics.ReservationsTotal.WithLabelValues("reserved").Add(float64(total))
	}
	return reservations, nil
}

// ReserveSlots reserves up to n slots across alive executors; it may return
// fewer than n if capacity is exhausted.
func (m *Manager) ReserveSlots(n int, policy Policy, preferred string) ([]types.Reservation, error) {
	return m.reserve(n, false, policy, preferred)
}

// ReserveSlotsExact reserves exactly n slots, or none at all.
func (m *Manager) ReserveSlotsExact(n int, policy Policy, preferred string) ([]types.Reservation, error) {
	return m.reserve(n, true, policy, preferred)
}

func (m *Manager) reserve(n int, exact bool, policy Policy, preferred string) ([]types.Reservation, error) {
	if n <= 0 {
		return nil, nil
	}

	m.slotsMu.Lock()
	defer m.slotsMu.Unlock()

	aliveIDs := m.aliveIDs()
	ledgers := make(map[string]*types.ExecutorData, len(aliveIDs))
	for _, id := range aliveIDs {
		v, err := m.store.Get(storage.Slots, id)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		var data types.ExecutorData
		if err := json.Unmarshal(v, &data); err != nil {
			return nil, errs.Wrap(errs.Internal, "unmarshal slot ledger", err)
		}
		ledgers[id] = &data
	}

	reservations := selectSlots(ledgers, n, policy, preferred)
	if exact && len(reservations) < n {
		return nil, errs.New(errs.Conflict, "insufficient free slots")
	}
	if len(reservations) == 0 {
		return nil, nil
	}

	touched := make(map[string]bool)
	for _, r := range reservations {
		touched[r.ExecutorID] = true
	}

	ops := make([]storage.Op, 0, len(touched))
	for id := range touched {
		v, err := json.Marshal(ledgers[id])
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "marshal slot ledger", err)
		}
		ops = append(ops, storage.Op{Keyspace: storage.Slots, Key: id, Value: v})
	}
	if err := m.store.ApplyTxn(ops); err != nil {
		return nil, err
	}

	metrics.ReservationsTotal.WithLabelValues("reserved").Add(float64(len(reservations)))
	return reservations, nil
}

// CancelReservations atomically returns slots to their executors, coalescing
// repeats of the same executor into a single ledger write.
func (m *Manager) CancelReservations(reservations []types.Reservation) error {
	if len(reservations) == 0 {
		return nil
	}

	m.slotsMu.Lock()
	defer m.slotsMu.Unlock()

	counts := make(map[string]int)
	for _, r := range reservations {
		counts[r.ExecutorID]++
	}

	ops := make([]storage.Op, 0, len(counts))
	for id, n := range counts {
		v, err := m.store.Get(storage.Slots, id)
		if err != nil {
			return err
		}
		if v == nil {
			continue
		}
		var data types.ExecutorData
		if err := json.Unmarshal(v, &data); err != nil {
			return errs.Wrap(errs.Internal, "unmarshal slot ledger", err)
		}
		data.Available += n
		if data.Available > data.Total {
			data.Available = data.Total
		}
		nv, err := json.Marshal(data)
		if err != nil {
			return errs.Wrap(errs.Internal, "marshal slot ledger", err)
		}
		ops = append(ops, storage.Op{Keyspace: storage.Slots, Key: id, Value: nv})
	}
	if err := m.store.ApplyTxn(ops); err != nil {
		return err
	}
	metrics.ReservationsTotal.WithLabelValues("cancelled").Add(float64(len(reservations)))
	return nil
}

// SaveExecutorHeartbeat persists hb and updates the in-memory cache the
// heartbeat watcher and expiry loop both read from.
func (m *Manager) SaveExecutorHeartbeat(hb types.Heartbeat) error {
	v, err := json.Marshal(hb)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal heartbeat", err)
	}
	if err := m.store.Put(storage.Heartbeats, hb.ExecutorID, v); err != nil {
		return err
	}
	m.mu.Lock()
	m.hbCache[hb.ExecutorID] = hb
	m.mu.Unlock()
	return nil
}

// GetExecutorMetadata is cache-first, falling back to the state backend and
// caching on hit.
func (m *Manager) GetExecutorMetadata(id string) (types.ExecutorMetadata, error) {
	m.mu.RLock()
	meta, ok := m.metaCache[id]
	m.mu.RUnlock()
	if ok {
		return meta, nil
	}

	v, err := m.store.Get(storage.Executors, id)
	if err != nil {
		return types.ExecutorMetadata{}, err
	}
	if v == nil {
		return types.ExecutorMetadata{}, errs.New(errs.NotFound, id)
	}
	if err := json.Unmarshal(v, &meta); err != nil {
		return types.ExecutorMetadata{}, errs.Wrap(errs.Internal, "unmarshal executor metadata", err)
	}

	m.mu.Lock()
	m.metaCache[id] = meta
	m.mu.Unlock()
	return meta, nil
}

// GetSlotLedger returns the current slot ledger for id, read straight from
// the state backend (the ledger is never cached — it changes too often to
// be worth the staleness).
func (m *Manager) GetSlotLedger(id string) (types.ExecutorData, error) {
	v, err := m.store.Get(storage.Slots, id)
	if err != nil {
		return types.ExecutorData{}, err
	}
	if v == nil {
		return types.ExecutorData{}, errs.New(errs.NotFound, id)
	}
	var data types.ExecutorData
	if err := json.Unmarshal(v, &data); err != nil {
		return types.ExecutorData{}, errs.Wrap(errs.Internal, "unmarshal slot ledger", err)
	}
	return data, nil
}

// GetAliveExecutors returns the ids alive within thresholdSecs of now.
func (m *Manager) GetAliveExecutors(thresholdSecs int64) []string {
	return m.GetAliveExecutorsWithin(time.Duration(thresholdSecs) * time.Second)
}

// GetAliveExecutorsWithin is a pure read over the in-memory heartbeat cache.
func (m *Manager) GetAliveExecutorsWithin(window time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now().Unix()
	cutoff := int64(window.Seconds())
	var ids []string
	for id, hb := range m.hbCache {
		if now-hb.Timestamp <= cutoff {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *Manager) aliveIDs() []string {
	return m.GetAliveExecutorsWithin(m.liveness)
}

// RemoveExecutor evicts id from the slot pool and metadata cache, deletes
// its Executors, Heartbeats and Slots records in one transaction (no
// tombstone record is kept), and posts ExecutorLost.
func (m *Manager) RemoveExecutor(id string, reason string) error {
	m.mu.Lock()
	meta, hadMeta := m.metaCache[id]
	delete(m.metaCache, id)
	delete(m.hbCache, id)
	m.mu.Unlock()

	err := m.store.ApplyTxn([]storage.Op{
		{Keyspace: storage.Executors, Key: id, Delete: true},
		{Keyspace: storage.Heartbeats, Key: id, Delete: true},
		{Keyspace: storage.Slots, Key: id, Delete: true},
	})
	if err != nil {
		return err
	}

	m.logger.Warn().Str("executor_id", id).Str("reason", reason).Msg("executor removed")
	metrics.ExecutorsLostTotal.Inc()
	metrics.ExecutorsTotal.WithLabelValues("expired").Inc()

	if hadMeta && m.notify != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		m.notify.NotifyStop(ctx, meta)
		cancel()
	}

	m.events.Publish(Event{Kind: ExecutorLost, ExecutorID: id, Reason: reason})
	return nil
}

// StartHeartbeatWatcher bulk-loads every persisted heartbeat into the cache,
// then starts a watch on the Heartbeats keyspace to keep it current — an
// event-driven replacement for periodic full scans.
func (m *Manager) StartHeartbeatWatcher(ctx context.Context) error {
	all, err := m.store.Scan(storage.Heartbeats)
	if err != nil {
		return err
	}
	m.mu.Lock()
	for key, v := range all {
		var hb types.Heartbeat
		if err := json.Unmarshal(v, &hb); err != nil {
			continue
		}
		m.hbCache[key] = hb
	}
	m.mu.Unlock()

	ch, err := m.store.Watch(ctx, storage.Heartbeats, "")
	if err != nil {
		return err
	}
	go func() {
		for ev := range ch {
			if ev.Deleted {
				continue
			}
			var hb types.Heartbeat
			if err := json.Unmarshal(ev.Value, &hb); err != nil {
				m.logger.Warn().Err(err).Str("key", ev.Key).Msg("malformed heartbeat watch event")
				continue
			}
			m.mu.Lock()
			m.hbCache[ev.Key] = hb
			m.mu.Unlock()
		}
	}()
	return nil
}

// StartExpiryLoop runs a periodic scan of the heartbeat cache; any executor
// whose last heartbeat exceeds timeout is removed.
func (m *Manager) StartExpiryLoop(timeout time.Duration) {
	go func() {
		ticker := time.NewTicker(timeout)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.expireOnce(timeout)
			case <-m.stopCh:
				return
			}
		}
	}()
}

func (m *Manager) expireOnce(timeout time.Duration) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ExpiryCycleDuration)
		metrics.ExpiryCyclesTotal.Inc()
	}()

	m.mu.RLock()
	now := time.Now().Unix()
	var expired []string
	for id, hb := range m.hbCache {
		if now-hb.Timestamp > int64(timeout.Seconds()) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		if err := m.RemoveExecutor(id, "heartbeat_expired"); err != nil {
			m.logger.Error().Err(err).Str("executor_id", id).Msg("failed to remove expired executor")
		}
	}
}
