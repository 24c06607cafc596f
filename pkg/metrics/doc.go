/*
Package metrics defines the Prometheus metrics exposed at /metrics, plus a
small health-check registry backing /health, /ready, and /live.

Metrics cover the Executor Manager (executor/slot counts, reservation
outcomes), the job and task lifecycle (job outcomes, tasks dispatched and
failed), the query-stage event loop (queue depth, per-event processing
time), the RPC surface (request count and duration by method), and the
expiry loop (cycle duration and count). All metrics are registered at
package init via MustRegister; Handler returns the promhttp handler to
mount at /metrics.

Timer is a small helper: NewTimer captures a start time, and
ObserveDuration/ObserveDurationVec record elapsed time against a histogram
at the end of an operation.

Health readiness treats {storage, eventloop, rpc} as critical components —
RegisterComponent/UpdateComponent feed GetHealth and GetReadiness, which
HealthHandler/ReadyHandler/LivenessHandler expose over HTTP.
*/
package metrics
