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
	// Sync metrics
	SyncRunsTotal     *prometheus.CounterVec
	SyncDuration      *prometheus.HistogramVec
	EventsAdded       *prometheus.CounterVec
	EventsRemoved     *prometheus.CounterVec
	PagesFetched      *prometheus.CounterVec
	SignaturesSkipped *prometheus.CounterVec
	StuckRecoveries   prometheus.Counter

	// Classification metrics
	Classifications *prometheus.CounterVec

	// Upstream metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallsTotal  *prometheus.CounterVec
	RPCRetries     *prometheus.CounterVec

	// Storage metrics
	StoreOpDuration *prometheus.HistogramVec
	StoreOpErrors   *prometheus.CounterVec

	// Publisher metrics
	PublishedEvents *prometheus.CounterVec
	PublishErrors   prometheus.Counter

	// Health metrics
	LastSuccessfulSync prometheus.Gauge
	StoredEvents       *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance registered on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "liquidity_sync"
	}
	f := promauto.With(reg)

	return &Metrics{
		SyncRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of sync runs by mode and outcome",
		}, []string{"mode", "outcome"}),
		SyncDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Sync run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"mode"}),
		EventsAdded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "events_added_total",
			Help:      "Total number of new events merged into the store",
		}, []string{"kind"}),
		EventsRemoved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "events_removed_total",
			Help:      "Total number of events removed by cleanup or operator action",
		}, []string{"kind", "reason"}),
		PagesFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pages_fetched_total",
			Help:      "Total number of signature pages fetched per feed",
		}, []string{"feed"}),
		SignaturesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "signatures_skipped_total",
			Help:      "Signatures skipped before fetching by reason",
		}, []string{"reason"}),
		StuckRecoveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "stuck_recoveries_total",
			Help:      "Total number of abandoned sync flags cleared",
		}),

		Classifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classify",
			Name:      "results_total",
			Help:      "Classifier outcomes by kind",
		}, []string{"kind"}),

		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_calls_total",
			Help:      "Solana RPC calls by method and outcome",
		}, []string{"method", "outcome"}),
		RPCRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_retries_total",
			Help:      "Solana RPC retries by method and error kind",
		}, []string{"method", "kind"}),

		StoreOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "op_duration_seconds",
			Help:      "Storage operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "operation"}),
		StoreOpErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "op_errors_total",
			Help:      "Total number of storage operation errors",
		}, []string{"backend", "operation"}),

		PublishedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "events_total",
			Help:      "Total number of events published downstream",
		}, []string{"kind"}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "errors_total",
			Help:      "Total number of failed publish attempts",
		}),

		LastSuccessfulSync: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_sync_timestamp",
			Help:      "Unix timestamp of last successful sync",
		}),
		StoredEvents: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "stored_events",
			Help:      "Number of events in the store by kind",
		}, []string{"kind"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordSyncRun records a finished sync run.
func RecordSyncRun(mode, outcome string, durationSeconds float64) {
	DefaultMetrics.SyncRunsTotal.WithLabelValues(mode, outcome).Inc()
	DefaultMetrics.SyncDuration.WithLabelValues(mode).Observe(durationSeconds)
}

// RecordEventsAdded records newly merged events of a kind.
func RecordEventsAdded(kind string, n int) {
	DefaultMetrics.EventsAdded.WithLabelValues(kind).Add(float64(n))
}

// RecordEventsRemoved records events removed from the store.
func RecordEventsRemoved(kind, reason string, n int) {
	DefaultMetrics.EventsRemoved.WithLabelValues(kind, reason).Add(float64(n))
}

// RecordPage records one fetched signature page.
func RecordPage(feed string) {
	DefaultMetrics.PagesFetched.WithLabelValues(feed).Inc()
}

// RecordSkipped records signatures skipped before fetching.
func RecordSkipped(reason string, n int) {
	if n > 0 {
		DefaultMetrics.SignaturesSkipped.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordStuckRecovery records a cleared abandoned sync flag.
func RecordStuckRecovery() {
	DefaultMetrics.StuckRecoveries.Inc()
}

// RecordClassification records a classifier outcome.
func RecordClassification(kind string) {
	DefaultMetrics.Classifications.WithLabelValues(kind).Inc()
}

// RecordRPCCall records an upstream call outcome and latency.
func RecordRPCCall(method, outcome string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
	DefaultMetrics.RPCCallsTotal.WithLabelValues(method, outcome).Inc()
}

// RecordRPCRetry records a retried upstream call.
func RecordRPCRetry(method, kind string) {
	DefaultMetrics.RPCRetries.WithLabelValues(method, kind).Inc()
}

// RecordStoreOp records storage operation metrics.
func RecordStoreOp(backend, operation string, seconds float64, err error) {
	DefaultMetrics.StoreOpDuration.WithLabelValues(backend, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.StoreOpErrors.WithLabelValues(backend, operation).Inc()
	}
}

// RecordPublished records events published downstream.
func RecordPublished(kind string, n int) {
	DefaultMetrics.PublishedEvents.WithLabelValues(kind).Add(float64(n))
}

// RecordPublishError records a failed publish attempt.
func RecordPublishError() {
	DefaultMetrics.PublishErrors.Inc()
}

// UpdateLastSuccessfulSync sets the last successful sync gauge.
func UpdateLastSuccessfulSync(unixSeconds int64) {
	DefaultMetrics.LastSuccessfulSync.Set(float64(unixSeconds))
}

// UpdateStoredEvents sets the stored event gauge for a kind.
func UpdateStoredEvents(kind string, n int) {
	DefaultMetrics.StoredEvents.WithLabelValues(kind).Set(float64(n))
}
