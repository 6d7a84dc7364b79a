package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Provider metrics
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec
	ProviderInFlight        *prometheus.GaugeVec
	CircuitOpen             *prometheus.GaugeVec

	// Router metrics
	RouteResolutions *prometheus.CounterVec
	HedgeFires       prometheus.Counter

	// Job queue metrics
	JobsTotal      *prometheus.CounterVec
	JobRetries     prometheus.Counter
	DeadLetterJobs prometheus.Counter

	// Pipeline metrics
	PipelineRunsTotal   *prometheus.CounterVec
	PipelineRunDuration *prometheus.HistogramVec

	// System metrics
	DatabaseConnections *prometheus.GaugeVec
	FeedCacheHits       *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "driveline",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
			[]string{"method", "path"},
		),

		ProviderRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "provider_requests_total",
				Help:      "Total number of inference provider calls",
			},
			[]string{"provider", "outcome"},
		),
		ProviderRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Inference provider call duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 25, 60},
			},
			[]string{"provider", "outcome"},
		),
		ProviderInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "provider_in_flight",
				Help:      "Number of calls currently in flight per provider",
			},
			[]string{"provider"},
		),
		CircuitOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "circuit_open",
				Help:      "Whether the provider circuit is open (1) or closed (0)",
			},
			[]string{"provider"},
		),

		RouteResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "route_resolutions_total",
				Help:      "Routed text generations by winning provider",
			},
			[]string{"provider"},
		),
		HedgeFires: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "hedge_fires_total",
				Help:      "Times the hedge timer fired before the primary resolved",
			},
		),

		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "jobs_total",
				Help:      "Completed background jobs by terminal status",
			},
			[]string{"status"},
		),
		JobRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "job_retries_total",
				Help:      "Job attempts that were retried after a failure",
			},
		),
		DeadLetterJobs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "dead_letter_jobs_total",
				Help:      "Jobs moved to the dead-letter set after exhausting retries",
			},
		),

		PipelineRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "pipeline_runs_total",
				Help:      "Pipeline runs by terminal status",
			},
			[]string{"status"},
		),
		PipelineRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "pipeline_run_duration_seconds",
				Help:      "End-to-end pipeline run duration in seconds",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
			},
			[]string{"status"},
		),

		DatabaseConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "database_connections",
				Help:      "Database connection pool state",
			},
			[]string{"state"},
		),
		FeedCacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "feed_cache_requests_total",
				Help:      "Contextual feed cache lookups by feed and result",
			},
			[]string{"feed", "result"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ProviderRequestsTotal,
		m.ProviderRequestDuration,
		m.ProviderInFlight,
		m.CircuitOpen,
		m.RouteResolutions,
		m.HedgeFires,
		m.JobsTotal,
		m.JobRetries,
		m.DeadLetterJobs,
		m.PipelineRunsTotal,
		m.PipelineRunDuration,
		m.DatabaseConnections,
		m.FeedCacheHits,
	)

	return m
}

// RecordProviderRequest records one provider call with its outcome
func (m *Metrics) RecordProviderRequest(provider, outcome string, duration time.Duration) {
	if m.ProviderRequestsTotal == nil {
		return
	}
	m.ProviderRequestsTotal.WithLabelValues(provider, outcome).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, outcome).Observe(duration.Seconds())
}

// RecordRouteResolution records which provider won a routed generation
func (m *Metrics) RecordRouteResolution(provider string) {
	if m.RouteResolutions == nil {
		return
	}
	m.RouteResolutions.WithLabelValues(provider).Inc()
}

// RecordHedgeFire records a hedge timer expiry
func (m *Metrics) RecordHedgeFire() {
	if m.HedgeFires == nil {
		return
	}
	m.HedgeFires.Inc()
}

// SetCircuitOpen updates the circuit gauge for a provider
func (m *Metrics) SetCircuitOpen(provider string, open bool) {
	if m.CircuitOpen == nil {
		return
	}
	v := 0.0
	if open {
		v = 1.0
	}
	m.CircuitOpen.WithLabelValues(provider).Set(v)
}

// SetProviderInFlight updates the in-flight gauge for a provider
func (m *Metrics) SetProviderInFlight(provider string, n int64) {
	if m.ProviderInFlight == nil {
		return
	}
	m.ProviderInFlight.WithLabelValues(provider).Set(float64(n))
}

// RecordJob records a job reaching a terminal status
func (m *Metrics) RecordJob(status string) {
	if m.JobsTotal == nil {
		return
	}
	m.JobsTotal.WithLabelValues(status).Inc()
}

// RecordJobRetry records one retried job attempt
func (m *Metrics) RecordJobRetry() {
	if m.JobRetries == nil {
		return
	}
	m.JobRetries.Inc()
}

// RecordDeadLetter records a job entering the dead-letter set
func (m *Metrics) RecordDeadLetter() {
	if m.DeadLetterJobs == nil {
		return
	}
	m.DeadLetterJobs.Inc()
}

// RecordPipelineRun records a finished pipeline run
func (m *Metrics) RecordPipelineRun(status string, duration time.Duration) {
	if m.PipelineRunsTotal == nil {
		return
	}
	m.PipelineRunsTotal.WithLabelValues(status).Inc()
	m.PipelineRunDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// UpdateDatabaseConnections updates the connection pool gauges
func (m *Metrics) UpdateDatabaseConnections(open, idle, inUse int) {
	if m.DatabaseConnections == nil {
		return
	}
	m.DatabaseConnections.WithLabelValues("open").Set(float64(open))
	m.DatabaseConnections.WithLabelValues("idle").Set(float64(idle))
	m.DatabaseConnections.WithLabelValues("in_use").Set(float64(inUse))
}

// RecordFeedCache records a feed cache lookup result ("hit" or "miss")
func (m *Metrics) RecordFeedCache(feed, result string) {
	if m.FeedCacheHits == nil {
		return
	}
	m.FeedCacheHits.WithLabelValues(feed, result).Inc()
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if m.HTTPRequestsTotal != nil {
			status := strconv.Itoa(c.Writer.Status())
			m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, c.FullPath(), status).Inc()
			m.HTTPRequestDuration.WithLabelValues(c.Request.Method, c.FullPath(), status).Observe(duration.Seconds())
		}
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
