package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and
// records nothing, so components can be built without instrumentation.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	RateLimitedTotal    *prometheus.CounterVec

	// Conversion metrics
	ConversionsTotal     *prometheus.CounterVec
	ConversionDuration   prometheus.Histogram
	StepFailuresTotal    *prometheus.CounterVec
	CompensationsTotal   *prometheus.CounterVec
	OrphanedUsersTotal   prometheus.Counter
	OrphanedRuns         prometheus.Gauge
	RoleAssignmentsTotal *prometheus.CounterVec
	NotificationsTotal   *prometheus.CounterVec

	// Remote call metrics
	TokenRequestsTotal  *prometheus.CounterVec
	TokenCacheHitsTotal prometheus.Counter
	RemoteCallsTotal    *prometheus.CounterVec
	RemoteCallDuration  *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadflow_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"path"},
		),

		ConversionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_conversions_total",
				Help: "Total number of lead conversions by outcome",
			},
			[]string{"status"},
		),
		ConversionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "leadflow_conversion_duration_seconds",
				Help:    "End-to-end lead conversion duration in seconds",
				Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		StepFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_saga_step_failures_total",
				Help: "Total number of saga step failures",
			},
			[]string{"step"},
		),
		CompensationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_compensations_total",
				Help: "Total number of compensating actions executed",
			},
			[]string{"step", "status"},
		),
		OrphanedUsersTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "leadflow_orphaned_users_total",
				Help: "Users left behind by failed conversions",
			},
		),
		OrphanedRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadflow_orphaned_runs",
				Help: "Recorded runs awaiting manual cleanup of an orphaned user, as of the last report",
			},
		),
		RoleAssignmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_role_assignments_total",
				Help: "Total number of role assignment attempts",
			},
			[]string{"status"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_notifications_total",
				Help: "Total number of notification dispatches",
			},
			[]string{"template", "status"},
		),

		TokenRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_token_requests_total",
				Help: "Total number of token endpoint requests",
			},
			[]string{"grant", "status"},
		),
		TokenCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "leadflow_token_cache_hits_total",
				Help: "Service token cache hits",
			},
		),
		RemoteCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_remote_calls_total",
				Help: "Total number of directory and SCIM calls",
			},
			[]string{"operation", "status"},
		),
		RemoteCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadflow_remote_call_duration_seconds",
				Help:    "Directory and SCIM call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RateLimitedTotal,
		m.ConversionsTotal,
		m.ConversionDuration,
		m.StepFailuresTotal,
		m.CompensationsTotal,
		m.OrphanedUsersTotal,
		m.OrphanedRuns,
		m.RoleAssignmentsTotal,
		m.NotificationsTotal,
		m.TokenRequestsTotal,
		m.TokenCacheHitsTotal,
		m.RemoteCallsTotal,
		m.RemoteCallDuration,
	)

	return m
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordConversion records the outcome and duration of a conversion run
func (m *Metrics) RecordConversion(success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.ConversionsTotal.WithLabelValues(statusLabel(success)).Inc()
	m.ConversionDuration.Observe(duration.Seconds())
}

// RecordStepFailure records a failed saga step
func (m *Metrics) RecordStepFailure(step string) {
	if m == nil {
		return
	}
	m.StepFailuresTotal.WithLabelValues(step).Inc()
}

// RecordCompensation records a compensating action and whether it succeeded
func (m *Metrics) RecordCompensation(step string, success bool) {
	if m == nil {
		return
	}
	m.CompensationsTotal.WithLabelValues(step, statusLabel(success)).Inc()
}

// RecordOrphanedUser records a user left behind by a failed run
func (m *Metrics) RecordOrphanedUser() {
	if m == nil {
		return
	}
	m.OrphanedUsersTotal.Inc()
}

// RecordRateLimited records a request rejected by the rate limiter
func (m *Metrics) RecordRateLimited(path string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(path).Inc()
}

// SetOrphanedRuns records how many runs still await cleanup
func (m *Metrics) SetOrphanedRuns(n int) {
	if m == nil {
		return
	}
	m.OrphanedRuns.Set(float64(n))
}

// RecordRoleAssignment records a role assignment attempt
func (m *Metrics) RecordRoleAssignment(success bool) {
	if m == nil {
		return
	}
	m.RoleAssignmentsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordNotification records a notification dispatch
func (m *Metrics) RecordNotification(template string, success bool) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(template, statusLabel(success)).Inc()
}

// RecordTokenRequest records a request against the token endpoint
func (m *Metrics) RecordTokenRequest(grant string, success bool) {
	if m == nil {
		return
	}
	m.TokenRequestsTotal.WithLabelValues(grant, statusLabel(success)).Inc()
}

// RecordTokenCacheHit records a service token served from cache
func (m *Metrics) RecordTokenCacheHit() {
	if m == nil {
		return
	}
	m.TokenCacheHitsTotal.Inc()
}

// RecordRemoteCall records a directory or SCIM call
func (m *Metrics) RecordRemoteCall(operation string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.RemoteCallsTotal.WithLabelValues(operation, statusLabel(success)).Inc()
	m.RemoteCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// pathFn maps a request to a low-cardinality path label; nil uses the raw path.
func HTTPMetricsMiddleware(metrics *Metrics, pathFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if pathFn != nil {
				path = pathFn(r)
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler returns the /metrics handler for registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
