package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crewdeck_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crewdeck_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Log streaming metrics
	ActiveLogSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crewdeck_log_subscribers_active",
			Help: "Number of live WebSocket log subscribers",
		},
	)

	LogBroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crewdeck_log_broadcasts_total",
			Help: "Log lines broadcast to subscribers",
		},
		[]string{"outcome"},
	)

	DeadSocketsRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crewdeck_log_dead_sockets_removed_total",
			Help: "Sockets removed from the registry after a failed send",
		},
	)

	// Trace queue metrics
	TraceQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crewdeck_trace_queue_depth",
			Help: "Items currently buffered in the trace queue",
		},
	)

	TraceEventsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crewdeck_trace_events_enqueued_total",
			Help: "Trace events accepted by the queue",
		},
	)

	TraceEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crewdeck_trace_events_dropped_total",
			Help: "Trace events dropped under back-pressure (oldest first)",
		},
	)

	TraceEventsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crewdeck_trace_events_persisted_total",
			Help: "Drained trace events by persistence outcome",
		},
		[]string{"outcome"},
	)

	ConsumerForcedStops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crewdeck_trace_consumer_forced_stops_total",
			Help: "Drain consumer stops that required forced cancellation",
		},
	)

	// Startup reconciliation metrics
	StaleRunsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crewdeck_stale_runs_cancelled_total",
			Help: "Orphaned runs transitioned to cancelled at startup",
		},
	)

	StaleRunCleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crewdeck_stale_run_cleanup_failures_total",
			Help: "Run status transitions that failed during startup cleanup",
		},
	)

	// Retention metrics
	LogRowsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crewdeck_log_rows_purged_total",
			Help: "Log rows removed by the retention job",
		},
	)
)

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path, status string) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration.
func RecordHTTPDuration(method, path string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
