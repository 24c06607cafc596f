// Package cluster implements the Executor Manager, the scheduler's
// authoritative view of registered executors: identity, heartbeats, and the
// task-slot ledger. It is the only component permitted to mutate the Slots
// keyspace.
//
// A heartbeat watcher keeps an in-memory cache current via a backend watch
// rather than periodic polling; an expiry loop removes executors whose
// cached heartbeat has gone stale and publishes ExecutorLost for the event
// loop to react to. Slot reservation runs under an in-process lock so that
// two concurrent reservation passes can never both observe the same free
// slot, matching the "global Slots lock" spec.md describes.
package cluster
