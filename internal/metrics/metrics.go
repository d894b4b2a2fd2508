package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Protocol round metrics
	ProtocolRoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotham_protocol_rounds_total",
			Help: "Total number of protocol round invocations",
		},
		[]string{"protocol", "round", "result"}, // protocol: keygen/sign/rotate/derive
	)

	ProtocolRoundLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gotham_protocol_round_latency_seconds",
			Help:    "Latency of a protocol round in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to 16s
		},
		[]string{"protocol", "round"},
	)

	ActiveSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gotham_active_sessions",
			Help: "Number of sessions currently mid-protocol",
		},
		[]string{"protocol"},
	)

	// Authorization gate metrics
	GateDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotham_gate_decisions_total",
			Help: "Total number of authorization gate decisions",
		},
		[]string{"check", "result"}, // check: active_share/tainted/tx_authorization
	)

	SessionsTaintedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gotham_sessions_tainted_total",
			Help: "Total number of sessions marked tainted after a failed round",
		},
	)

	// Store metrics
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotham_store_operations_total",
			Help: "Total number of session store operations",
		},
		[]string{"backend", "op", "result"}, // backend: sqlite/postgres, op: put/get
	)

	StoreOperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gotham_store_operation_latency_seconds",
			Help:    "Latency of session store operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"backend", "op"},
	)

	// API metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotham_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gotham_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotham_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"endpoint", "tier"},
	)

	RateLimitRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotham_rate_limit_requests_total",
			Help: "Total number of rate limited requests",
		},
		[]string{"endpoint", "tier", "result"}, // result: allowed, denied
	)

	AbuseDetectionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotham_abuse_detection_events_total",
			Help: "Total number of abuse detection events",
		},
		[]string{"type", "action"}, // type: ip/customer, action: penalty/strict
	)

	StrictModeActivations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotham_strict_mode_activations_total",
			Help: "Total number of strict mode activations",
		},
		[]string{"entity_type"}, // ip, customer, global
	)

	RateLimitGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gotham_rate_limit_current_requests",
			Help: "Current number of requests in rate limit windows",
		},
		[]string{"tier", "mode"}, // tier: ip/customer/endpoint/global, mode: normal/strict
	)

	// Audit logging metrics
	AuditQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gotham_audit_queue_depth",
			Help: "Current depth of the audit logging queue",
		},
	)

	AuditOverflowEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gotham_audit_overflow_events_total",
			Help: "Total number of audit events that overflowed the queue",
		},
	)

	AuditBatchWriteLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gotham_audit_batch_write_latency_seconds",
			Help:    "Latency of audit batch writes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
	)

	AuditEventsProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gotham_audit_events_processed_total",
			Help: "Total number of audit events processed",
		},
	)

	AuditBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gotham_audit_batch_size",
			Help:    "Size of audit event batches written",
			Buckets: prometheus.LinearBuckets(1, 10, 20),
		},
	)

	AuditDeadLetterEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gotham_audit_dead_letter_events_total",
			Help: "Total number of audit events sent to the dead letter queue",
		},
	)

	AuditDroppedEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gotham_audit_dropped_events_total",
			Help: "Total number of audit events dropped due to system failures",
		},
	)
)

// MetricsMiddleware wraps HTTP handlers with request metrics.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := r.URL.Path

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the Prometheus metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordProtocolRound records a protocol round invocation and its latency.
func RecordProtocolRound(protocol, round string, success bool, latency time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	ProtocolRoundsTotal.WithLabelValues(protocol, round, result).Inc()
	ProtocolRoundLatency.WithLabelValues(protocol, round).Observe(latency.Seconds())
}

// RecordGateDecision records an authorization gate check outcome.
func RecordGateDecision(check string, allowed bool) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	GateDecisionsTotal.WithLabelValues(check, result).Inc()
}

// RecordSessionTainted records a session being marked tainted.
func RecordSessionTainted() {
	SessionsTaintedTotal.Inc()
}

// RecordStoreOperation records a session store operation outcome and latency.
func RecordStoreOperation(backend, op string, success bool, latency time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	StoreOperationsTotal.WithLabelValues(backend, op, result).Inc()
	StoreOperationLatency.WithLabelValues(backend, op).Observe(latency.Seconds())
}

// RecordRateLimitHit records a rate limit hit.
func RecordRateLimitHit(endpoint string, tier string) {
	RateLimitHits.WithLabelValues(endpoint, tier).Inc()
}

// RecordRateLimitRequest records a rate limited request outcome.
func RecordRateLimitRequest(endpoint string, tier string, result string) {
	RateLimitRequests.WithLabelValues(endpoint, tier, result).Inc()
}

// RecordAbuseDetectionEvent records an abuse detection event.
func RecordAbuseDetectionEvent(entityType string, action string) {
	AbuseDetectionEvents.WithLabelValues(entityType, action).Inc()
}

// RecordStrictModeActivation records a strict mode activation.
func RecordStrictModeActivation(entityType string) {
	StrictModeActivations.WithLabelValues(entityType).Inc()
}

// UpdateRateLimitGauge updates the current rate limit gauge.
func UpdateRateLimitGauge(tier string, mode string, value float64) {
	RateLimitGauge.WithLabelValues(tier, mode).Set(value)
}
