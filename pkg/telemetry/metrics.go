package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the FJSM planner.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Expansion metrics
	instancesExpanded *prometheus.CounterVec

	// Solve stage metrics
	solveStageRuns     *prometheus.CounterVec
	solveStageDuration *prometheus.HistogramVec

	// Machine catalogue metrics
	machinesLoaded *prometheus.GaugeVec
	catalogueReloads *prometheus.CounterVec

	// Store metrics
	storeCalls    *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec
	storeErrors   *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	// System metrics
	activeRuns  prometheus.Gauge
	queuedRuns  prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
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

		// Run metrics
		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of solver runs started",
			},
			[]string{"requested_by"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of solver runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of a full run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		// Expansion metrics
		instancesExpanded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_instances_expanded_total",
				Help:      "Total number of task instances emitted by the expansion engine",
			},
			[]string{"mode"},
		),

		// Solve stage metrics
		solveStageRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "solve_stage_runs_total",
				Help:      "Total number of solve-stage invocations by stage and status",
			},
			[]string{"stage", "status"},
		),
		solveStageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "solve_stage_duration_seconds",
				Help:      "Duration of a single solve stage in seconds",
				Buckets:   buckets,
			},
			[]string{"stage"},
		),

		// Machine catalogue metrics
		machinesLoaded: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "catalogue_machines_loaded",
				Help:      "Current number of machines loaded from the catalogue, by base name",
			},
			[]string{"base_name"},
		),
		catalogueReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalogue_reloads_total",
				Help:      "Total number of catalogue hot-reload attempts",
			},
			[]string{"status"},
		),

		// Store metrics
		storeCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_calls_total",
				Help:      "Total number of plan/package store calls",
			},
			[]string{"backend", "operation"},
		),
		storeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_call_duration_seconds",
				Help:      "Duration of plan/package store calls in seconds",
				Buckets:   buckets,
			},
			[]string{"backend", "operation"},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Total number of plan/package store errors",
			},
			[]string{"backend", "operation"},
		),

		// Error metrics
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of faults by taxonomy kind",
			},
			[]string{"kind"},
		),

		// System metrics
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of runs in the RUNNING state",
			},
		),
		queuedRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_runs",
				Help:      "Current number of runs waiting on the worker queue",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.instancesExpanded,
		m.solveStageRuns,
		m.solveStageDuration,
		m.machinesLoaded,
		m.catalogueReloads,
		m.storeCalls,
		m.storeDuration,
		m.storeErrors,
		m.errorsByKind,
		m.activeRuns,
		m.queuedRuns,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(requestedBy string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(requestedBy).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Expansion Metrics

// RecordInstancesExpanded records the number of task instances emitted for a given mode.
func (m *Metrics) RecordInstancesExpanded(mode string, count int) {
	if m.instancesExpanded == nil {
		return
	}
	m.instancesExpanded.WithLabelValues(mode).Add(float64(count))
}

// Solve Stage Metrics

// RecordSolveStage records a single solve-stage invocation.
func (m *Metrics) RecordSolveStage(stage, status string, duration time.Duration) {
	if m.solveStageRuns == nil {
		return
	}
	m.solveStageRuns.WithLabelValues(stage, status).Inc()
	m.solveStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// Catalogue Metrics

// SetMachinesLoaded sets the current machine count for a base name.
func (m *Metrics) SetMachinesLoaded(baseName string, count float64) {
	if m.machinesLoaded == nil {
		return
	}
	m.machinesLoaded.WithLabelValues(baseName).Set(count)
}

// RecordCatalogueReload records a hot-reload attempt.
func (m *Metrics) RecordCatalogueReload(status string) {
	if m.catalogueReloads == nil {
		return
	}
	m.catalogueReloads.WithLabelValues(status).Inc()
}

// Store Metrics

// RecordStoreCall records a plan/package store call with its duration.
func (m *Metrics) RecordStoreCall(backend, operation string, duration time.Duration) {
	if m.storeCalls == nil {
		return
	}
	m.storeCalls.WithLabelValues(backend, operation).Inc()
	m.storeDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordStoreError records a plan/package store error.
func (m *Metrics) RecordStoreError(backend, operation string) {
	if m.storeErrors == nil {
		return
	}
	m.storeErrors.WithLabelValues(backend, operation).Inc()
}

// Error Metrics

// RecordError records a fault by its taxonomy kind.
func (m *Metrics) RecordError(kind string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// System Metrics

// SetActiveRuns sets the current number of active runs.
func (m *Metrics) SetActiveRuns(count float64) {
	if m.activeRuns == nil {
		return
	}
	m.activeRuns.Set(count)
}

// SetQueuedRuns sets the current number of queued runs.
func (m *Metrics) SetQueuedRuns(count float64) {
	if m.queuedRuns == nil {
		return
	}
	m.queuedRuns.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
