package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Download pipeline metrics
	DownloadsTotal       *prometheus.CounterVec
	DownloadBytesTotal   *prometheus.CounterVec
	DownloadDeniedTotal  *prometheus.CounterVec
	BlobOperationsTotal  *prometheus.CounterVec
	BlobOperationSeconds *prometheus.HistogramVec

	// License metrics
	LicenseActivationsTotal *prometheus.CounterVec
	LicenseValidationsTotal *prometheus.CounterVec
	TokensIssuedTotal       prometheus.Counter
	LicensesActive          prometheus.Gauge

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBWaitCount         prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appvend_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appvend_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appvend_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		DownloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appvend_downloads_total",
				Help: "Total number of served app package downloads",
			},
			[]string{"app_type", "monetized"},
		),
		DownloadBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appvend_download_bytes_total",
				Help: "Total bytes served by the download pipeline",
			},
			[]string{"app_type"},
		),
		DownloadDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appvend_download_denied_total",
				Help: "Downloads rejected before serving",
			},
			[]string{"app_type", "code"},
		),
		BlobOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appvend_blob_operations_total",
				Help: "Total number of blob store operations",
			},
			[]string{"operation", "backend", "status"},
		),
		BlobOperationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appvend_blob_operation_duration_seconds",
				Help:    "Blob store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),

		LicenseActivationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appvend_license_activations_total",
				Help: "Domain activation attempts by outcome",
			},
			[]string{"status"},
		),
		LicenseValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appvend_license_validations_total",
				Help: "Download token validations by outcome",
			},
			[]string{"status"},
		),
		TokensIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "appvend_download_tokens_issued_total",
				Help: "Download tokens issued",
			},
		),
		LicensesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "appvend_licenses_active",
				Help: "Licenses currently in the active state",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appvend_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appvend_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "appvend_db_connections_active",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "appvend_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "appvend_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.DownloadsTotal,
		m.DownloadBytesTotal,
		m.DownloadDeniedTotal,
		m.BlobOperationsTotal,
		m.BlobOperationSeconds,
		m.LicenseActivationsTotal,
		m.LicenseValidationsTotal,
		m.TokensIssuedTotal,
		m.LicensesActive,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBWaitCount,
	)

	return m
}

// CollectDBStats copies connection pool stats onto the gauges. Call it
// periodically from the server loop.
func (m *Metrics) CollectDBStats(db *sql.DB) {
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.OpenConnections))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint.
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
