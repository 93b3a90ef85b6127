// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Execution metrics
	TradesCommitted prometheus.Counter
	TradesRejected  *prometheus.CounterVec
	TradesAborted   *prometheus.CounterVec
	ExecutionStage  *prometheus.HistogramVec

	// Market data metrics
	BookFetchLatency prometheus.Histogram
	BooksReceived    prometheus.Counter

	// Tick recorder metrics
	TicksBuffered prometheus.Gauge
	TicksWritten  prometheus.Counter
	TickFlushErrs prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSnapshotTaken prometheus.Gauge
	UptimeSeconds     prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "paper_trader"
	}

	return &Metrics{
		// Execution metrics
		TradesCommitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "trades_committed_total",
			Help:      "Total number of simulated trades committed to the portfolio store",
		}),
		TradesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "trades_rejected_total",
			Help:      "Total number of trade requests rejected by reason",
		}, []string{"reason"}),
		TradesAborted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "trades_aborted_total",
			Help:      "Total number of trade requests aborted by cause",
		}, []string{"cause"}),
		ExecutionStage: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "stage_duration_seconds",
			Help:      "Execution pipeline stage duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),

		// Market data metrics
		BookFetchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "book_fetch_latency_seconds",
			Help:      "Order book HTTP fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		BooksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "books_received_total",
			Help:      "Total number of order book events received over websocket",
		}),

		// Tick recorder metrics
		TicksBuffered: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "ticks_buffered",
			Help:      "Current number of book ticks buffered for the next flush",
		}),
		TicksWritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "ticks_written_total",
			Help:      "Total number of book ticks written to the archive",
		}),
		TickFlushErrs: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "tick_flush_errors_total",
			Help:      "Total number of failed tick batch flushes",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSnapshotTaken: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_snapshot_timestamp",
			Help:      "Unix timestamp of the last daily snapshot",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordCommitted increments the committed trades counter.
func RecordCommitted() {
	DefaultMetrics.TradesCommitted.Inc()
}

// RecordRejected records a rejected trade request by reason.
func RecordRejected(reason string) {
	DefaultMetrics.TradesRejected.WithLabelValues(reason).Inc()
}

// RecordAborted records an aborted trade request by cause.
func RecordAborted(cause string) {
	DefaultMetrics.TradesAborted.WithLabelValues(cause).Inc()
}

// RecordStage records one execution pipeline stage duration.
func RecordStage(stage string, seconds float64) {
	DefaultMetrics.ExecutionStage.WithLabelValues(stage).Observe(seconds)
}

// RecordBookReceived increments the websocket book events counter.
func RecordBookReceived() {
	DefaultMetrics.BooksReceived.Inc()
}

// UpdateTickBuffer updates the recorder buffer gauge.
func UpdateTickBuffer(buffered int) {
	DefaultMetrics.TicksBuffered.Set(float64(buffered))
}

// RecordTickFlush records the outcome of one tick batch flush.
func RecordTickFlush(written int, err error) {
	if err != nil {
		DefaultMetrics.TickFlushErrs.Inc()
		return
	}
	DefaultMetrics.TicksWritten.Add(float64(written))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordSnapshot updates the last snapshot gauge.
func RecordSnapshot(unixSeconds int64) {
	DefaultMetrics.LastSnapshotTaken.Set(float64(unixSeconds))
}
