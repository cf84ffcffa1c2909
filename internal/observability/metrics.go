package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/garage/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Login metrics
	LoginsTotal          *prometheus.CounterVec
	AdmissionBlocksTotal prometheus.Counter
	AttemptStoreErrors   *prometheus.CounterVec

	// Database metrics
	DBConnectionsAcquired prometheus.Gauge
	DBConnectionsIdle     prometheus.Gauge
	DBConnectionsTotal    prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all metrics on registry
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "garage_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "garage_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "garage_logins_total",
				Help: "Login attempts by credential method and outcome",
			},
			[]string{"method", "outcome"},
		),
		AdmissionBlocksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "garage_admission_blocks_total",
				Help: "Attempts refused because the client is locked out",
			},
		),
		AttemptStoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "garage_attempt_store_errors_total",
				Help: "Attempt store failures; admission fails open on each",
			},
			[]string{"operation"},
		),
		DBConnectionsAcquired: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "garage_db_connections_acquired",
				Help: "Number of database connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "garage_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "garage_db_connections_total",
				Help: "Number of open database connections",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsTotal,
		m.AdmissionBlocksTotal,
		m.AttemptStoreErrors,
		m.DBConnectionsAcquired,
		m.DBConnectionsIdle,
		m.DBConnectionsTotal,
	)

	return m
}

func (m *Metrics) ObserveLogin(method models.CredentialMethod, outcome string) {
	m.LoginsTotal.WithLabelValues(string(method), outcome).Inc()
}

func (m *Metrics) ObserveAdmissionBlock() {
	m.AdmissionBlocksTotal.Inc()
}

func (m *Metrics) ObserveStoreError(op string) {
	m.AttemptStoreErrors.WithLabelValues(op).Inc()
}

// RecordPoolStats copies the pool gauges. Called from the background ticker.
func (m *Metrics) RecordPoolStats(stat *pgxpool.Stat) {
	m.DBConnectionsAcquired.Set(float64(stat.AcquiredConns()))
	m.DBConnectionsIdle.Set(float64(stat.IdleConns()))
	m.DBConnectionsTotal.Set(float64(stat.TotalConns()))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
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

// HTTPMetricsMiddleware instruments HTTP requests. The route label is the chi
// pattern, so path parameters do not create new series.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
