package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the stagehand engine.
type Metrics struct {
	config MetricsConfig

	// Pipeline run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Step metrics
	stepDuration *prometheus.HistogramVec

	// Resource metrics
	resourceOutcomes *prometheus.CounterVec

	// Remote call metrics
	remoteCalls   *prometheus.CounterVec
	remoteRetries *prometheus.CounterVec

	// Cleanup metrics
	cleanupsRun      *prometheus.CounterVec
	resourcesCleaned *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of pipeline runs started",
			},
			[]string{"scenario"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of pipeline runs completed",
			},
			[]string{"scenario", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of pipeline runs in seconds",
				Buckets:   buckets,
			},
			[]string{"scenario"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of individual pipeline steps in seconds",
				Buckets:   buckets,
			},
			[]string{"step"},
		),
		resourceOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_outcomes_total",
				Help:      "Resource provisioning outcomes by type",
			},
			[]string{"resource_type", "outcome"},
		),
		remoteCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_calls_total",
				Help:      "Total remote API calls by system and result",
			},
			[]string{"system", "result"},
		),
		remoteRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_retries_total",
				Help:      "Total retried remote operations by operation name",
			},
			[]string{"operation"},
		),
		cleanupsRun: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanups_total",
				Help:      "Total cleanup runs by result",
			},
			[]string{"result"},
		),
		resourcesCleaned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_cleaned_total",
				Help:      "Total resources deleted or skipped during cleanup",
			},
			[]string{"resource_type", "result"},
		),
	}

	collectors := []prometheus.Collector{
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.stepDuration,
		m.resourceOutcomes,
		m.remoteCalls,
		m.remoteRetries,
		m.cleanupsRun,
		m.resourcesCleaned,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// RecordRunStarted records a pipeline run start.
func (m *Metrics) RecordRunStarted(scenario string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(scenario).Inc()
}

// RecordRunCompleted records a pipeline run completion with its status.
func (m *Metrics) RecordRunCompleted(scenario, status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(scenario, status).Inc()
	m.runDuration.WithLabelValues(scenario).Observe(duration.Seconds())
}

// RecordStepDuration records the duration of a pipeline step.
func (m *Metrics) RecordStepDuration(step string, duration time.Duration) {
	if m.stepDuration == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordResourceOutcome records a provisioning outcome for a resource type.
func (m *Metrics) RecordResourceOutcome(resourceType, outcome string) {
	if m.resourceOutcomes == nil {
		return
	}
	m.resourceOutcomes.WithLabelValues(resourceType, outcome).Inc()
}

// RecordRemoteCall records a remote API call result.
func (m *Metrics) RecordRemoteCall(system, result string) {
	if m.remoteCalls == nil {
		return
	}
	m.remoteCalls.WithLabelValues(system, result).Inc()
}

// RecordRetry records a retried remote operation.
func (m *Metrics) RecordRetry(operation string) {
	if m.remoteRetries == nil {
		return
	}
	m.remoteRetries.WithLabelValues(operation).Inc()
}

// RecordCleanup records a cleanup run result.
func (m *Metrics) RecordCleanup(result string) {
	if m.cleanupsRun == nil {
		return
	}
	m.cleanupsRun.WithLabelValues(result).Inc()
}

// RecordResourceCleaned records a per-resource cleanup result.
func (m *Metrics) RecordResourceCleaned(resourceType, result string) {
	if m.resourcesCleaned == nil {
		return
	}
	m.resourcesCleaned.WithLabelValues(resourceType, result).Inc()
}

// StartServer starts the metrics HTTP server. It returns immediately; the
// server runs until Shutdown is called.
func (m *Metrics) StartServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = m.server.ListenAndServe()
	}()

	return nil
}

// Shutdown stops the metrics HTTP server if it is running.
func (m *Metrics) Shutdown() error {
	if m.server == nil {
		return nil
	}
	return m.server.Close()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
