package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Transfer orchestration metrics
	transferAttemptsTotal     *prometheus.CounterVec
	transferDuration          *prometheus.HistogramVec
	guardRejectionsTotal      *prometheus.CounterVec
	validationRejectionsTotal *prometheus.CounterVec

	// Balance resolution metrics
	balanceResolutionsTotal   *prometheus.CounterVec
	balanceFallbackFetchTotal *prometheus.CounterVec
	balanceStaleDiscardsTotal *prometheus.CounterVec

	// Solana RPC metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Reconciliation metrics
	reconcileOutcomesTotal *prometheus.CounterVec

	// Database metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		transferAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfer_attempts_total",
				Help: "Total number of transfer attempts by context and classified outcome",
			},
			[]string{"context", "class"},
		),
		transferDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transfer_duration_seconds",
				Help:    "Duration of transfer attempts from build to classification",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"context"},
		),
		guardRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfer_guard_rejections_total",
				Help: "Total number of duplicate transfer executions suppressed by the guard",
			},
			[]string{"context"},
		),
		validationRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfer_validation_rejections_total",
				Help: "Total number of transfers rejected by the feasibility check",
			},
			[]string{"context"},
		),
		balanceResolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_resolutions_total",
				Help: "Total number of balance resolutions by winning source",
			},
			[]string{"source"},
		),
		balanceFallbackFetchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_fallback_fetches_total",
				Help: "Total number of on-demand balance fetches by status",
			},
			[]string{"status"},
		),
		balanceStaleDiscardsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_stale_discards_total",
				Help: "Total number of fallback fetch results discarded because a fresher value arrived",
			},
			[]string{"source"},
		),
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		reconcileOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_outcomes_total",
				Help: "Total number of uncertain transfers reconciled by terminal class",
			},
			[]string{"class"},
		),
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"handler", "method"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by handler, method, and status class",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE streaming connections",
			},
			[]string{"stream"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent to clients",
			},
			[]string{"stream"},
		),
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published by subject prefix and status",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publishes in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// RecordTransferAttempt records one classified transfer attempt.
func (m *Metrics) RecordTransferAttempt(context, class string) {
	m.transferAttemptsTotal.WithLabelValues(context, class).Inc()
}

// RecordTransferDuration records the wall time of one transfer attempt.
func (m *Metrics) RecordTransferDuration(context string, seconds float64) {
	m.transferDuration.WithLabelValues(context).Observe(seconds)
}

// RecordGuardRejection records a duplicate execution suppressed by the guard.
func (m *Metrics) RecordGuardRejection(context string) {
	m.guardRejectionsTotal.WithLabelValues(context).Inc()
}

// RecordValidationRejection records a feasibility rejection.
func (m *Metrics) RecordValidationRejection(context string) {
	m.validationRejectionsTotal.WithLabelValues(context).Inc()
}

// RecordBalanceResolution records which source won a balance resolution.
func (m *Metrics) RecordBalanceResolution(source string) {
	m.balanceResolutionsTotal.WithLabelValues(source).Inc()
}

// RecordBalanceFallbackFetch records an on-demand balance fetch.
func (m *Metrics) RecordBalanceFallbackFetch(status string) {
	m.balanceFallbackFetchTotal.WithLabelValues(status).Inc()
}

// RecordBalanceStaleDiscard records a fetch result discarded for staleness.
func (m *Metrics) RecordBalanceStaleDiscard(source string) {
	m.balanceStaleDiscardsTotal.WithLabelValues(source).Inc()
}

// RecordRPCCall records a Solana RPC call.
func (m *Metrics) RecordRPCCall(method, status string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordReconcileOutcome records the terminal class of a reconciled transfer.
func (m *Metrics) RecordReconcileOutcome(class string) {
	m.reconcileOutcomesTotal.WithLabelValues(class).Inc()
}

// RecordDBOperation records a database operation.
func (m *Metrics) RecordDBOperation(operation, status string, duration float64) {
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
	m.dbQueryDuration.WithLabelValues(operation).Observe(duration)
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusClass(statusCode)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
	m.httpRequestDuration.WithLabelValues(handler, method).Observe(duration)
}

// SSEConnectionOpened increments the active connection gauge for a stream.
func (m *Metrics) SSEConnectionOpened(stream string) {
	m.sseActiveConnections.WithLabelValues(stream).Inc()
}

// SSEConnectionClosed decrements the active connection gauge for a stream.
func (m *Metrics) SSEConnectionClosed(stream string) {
	m.sseActiveConnections.WithLabelValues(stream).Dec()
}

// RecordSSEEventSent records an event delivered to an SSE client.
func (m *Metrics) RecordSSEEventSent(stream string) {
	m.sseEventsSent.WithLabelValues(stream).Inc()
}

// RecordNATSPublish records a NATS publish.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
