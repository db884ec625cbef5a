package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Sync metrics
	SyncJobsTotal      *prometheus.CounterVec
	SyncJobDuration    *prometheus.HistogramVec
	SyncJobsInProgress prometheus.Gauge
	RecordsNormalized  *prometheus.CounterVec
	RecordsDropped     *prometheus.CounterVec
	SyncCompletion     *prometheus.GaugeVec

	// External API metrics
	ExternalAPICalls    *prometheus.CounterVec
	ExternalAPIDuration *prometheus.HistogramVec
	ExternalAPIFailures *prometheus.CounterVec

	// Session metrics
	AuthAttempts *prometheus.CounterVec
	ProxyProbes  *prometheus.CounterVec
}

// New registers on the default registry. Call it once per process.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		SyncJobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_jobs_total",
				Help: "Total number of network sync jobs",
			},
			[]string{"network", "status"},
		),

		SyncJobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_job_duration_seconds",
				Help:    "Network sync duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 180, 300, 600},
			},
			[]string{"network"},
		),

		SyncJobsInProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sync_jobs_in_progress",
				Help: "Number of network syncs currently running",
			},
		),

		RecordsNormalized: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_records_normalized_total",
				Help: "Total number of purchases normalized",
			},
			[]string{"network", "purchase_type"},
		),

		RecordsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_records_dropped_total",
				Help: "Total number of raw records dropped during normalization",
			},
			[]string{"network", "reason"},
		),

		SyncCompletion: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sync_completion_percentage",
				Help: "Completion percentage of the latest sync against the network declared total",
			},
			[]string{"network"},
		),

		ExternalAPICalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "external_api_calls_total",
				Help: "Total number of external API calls",
			},
			[]string{"api", "status"},
		),

		ExternalAPIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "external_api_duration_seconds",
				Help:    "External API call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"api"},
		),

		ExternalAPIFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "external_api_failures_total",
				Help: "Total number of external API failures",
			},
			[]string{"api", "error_type"},
		),

		AuthAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "network_auth_attempts_total",
				Help: "Total number of network authentication attempts",
			},
			[]string{"network", "outcome"},
		),

		ProxyProbes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_probes_total",
				Help: "Total number of outbound proxy probes",
			},
			[]string{"network", "outcome"},
		),
	}
}

// HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Sync job metrics
func (m *Metrics) RecordSyncJob(network, status string, duration time.Duration) {
	m.SyncJobsTotal.WithLabelValues(network, status).Inc()
	m.SyncJobDuration.WithLabelValues(network).Observe(duration.Seconds())
}

func (m *Metrics) RecordNormalized(network, purchaseType string, count int) {
	m.RecordsNormalized.WithLabelValues(network, purchaseType).Add(float64(count))
}

func (m *Metrics) RecordDropped(network, reason string) {
	m.RecordsDropped.WithLabelValues(network, reason).Inc()
}

func (m *Metrics) RecordCompletion(network string, percentage float64) {
	m.SyncCompletion.WithLabelValues(network).Set(percentage)
}

// External API call metrics
func (m *Metrics) RecordExternalAPICall(api, status string, duration time.Duration) {
	m.ExternalAPICalls.WithLabelValues(api, status).Inc()
	m.ExternalAPIDuration.WithLabelValues(api).Observe(duration.Seconds())
}

// External API failure metrics
func (m *Metrics) RecordExternalAPIFailure(api, errorType string) {
	m.ExternalAPIFailures.WithLabelValues(api, errorType).Inc()
}

func (m *Metrics) RecordAuthAttempt(network, outcome string) {
	m.AuthAttempts.WithLabelValues(network, outcome).Inc()
}

func (m *Metrics) RecordProxyProbe(network, outcome string) {
	m.ProxyProbes.WithLabelValues(network, outcome).Inc()
}

func (m *Metrics) IncSyncJobsInProgress() {
	m.SyncJobsInProgress.Inc()
}

func (m *Metrics) DecSyncJobsInProgress() {
	m.SyncJobsInProgress.Dec()
}

// HTTP requests in flight counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// HTTP requests in flight counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}
