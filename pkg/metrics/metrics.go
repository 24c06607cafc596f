package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Executor Manager metrics
	ExecutorsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flightdeck_executors_total",
			Help: "Total number of registered executors by liveness",
		},
		[]string{"liveness"}, // alive, expired
	)

	TaskSlotsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flightdeck_task_slots_total",
			Help: "Sum of total task slots across all registered executors",
		},
	)

	TaskSlotsAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flightdeck_task_slots_available",
			Help: "Sum of available task slots across all registered executors",
		},
	)

	ReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightdeck_reservations_total",
			Help: "Total slot reservations made, by outcome",
		},
		[]string{"outcome"}, // reserved, cancelled
	)

	ExecutorsLostTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flightdeck_executors_lost_total",
			Help: "Total number of executors removed for missed heartbeats",
		},
	)

	// Job / graph metrics
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightdeck_jobs_total",
			Help: "Total jobs by terminal outcome",
		},
		[]string{"outcome"}, // successful, failed, cancelled
	)

	JobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flightdeck_jobs_active",
			Help: "Number of jobs currently in the Running state",
		},
	)

	TasksDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flightdeck_tasks_dispatched_total",
			Help: "Total number of tasks handed to an executor",
		},
	)

	TasksFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightdeck_tasks_failed_total",
			Help: "Total task attempts that ended in failure, by retryability",
		},
		[]string{"retryable"},
	)

	// Event loop metrics
	EventLoopQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flightdeck_event_loop_queue_depth",
			Help: "Current depth of the query-stage event loop's bounded queue",
		},
	)

	EventLoopProcessDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flightdeck_event_loop_process_duration_seconds",
			Help:    "Time taken to process one event loop event, by event type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	// RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightdeck_rpc_requests_total",
			Help: "Total RPC requests by method and status",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flightdeck_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Expiry loop metrics
	ExpiryCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flightdeck_expiry_cycle_duration_seconds",
			Help:    "Time taken for one liveness-expiry scan",
			Buckets: prometheus.DefBuckets,
		},
	)

	ExpiryCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flightdeck_expiry_cycles_total",
			Help: "Total number of liveness-expiry scans completed",
		},
	)
)

func init() {
	prometheus.MustRegister(ExecutorsTotal)
	prometheus.MustRegister(TaskSlotsTotal)
	prometheus.MustRegister(TaskSlotsAvailable)
	prometheus.MustRegister(ReservationsTotal)
	prometheus.MustRegister(ExecutorsLostTotal)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobsActive)
	prometheus.MustRegister(TasksDispatchedTotal)
	prometheus.MustRegister(TasksFailedTotal)
	prometheus.MustRegister(EventLoopQueueDepth)
	prometheus.MustRegister(EventLoopProcessDuration)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
	prometheus.MustRegister(ExpiryCycleDuration)
	prometheus.MustRegister(ExpiryCyclesTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
