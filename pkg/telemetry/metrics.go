package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for nodescope.
type Metrics struct {
	config MetricsConfig

	// Plan generation metrics
	plansBuilt        *prometheus.CounterVec
	planBuildDuration *prometheus.HistogramVec
	planFailures      *prometheus.CounterVec

	// Batch metrics
	batchHosts    prometheus.Histogram
	batchDuration prometheus.Histogram
	cacheLookups  *prometheus.CounterVec

	// Remote execution metrics
	remoteCommands  *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	installs        *prometheus.CounterVec

	// Policy metrics
	policyViolations *prometheus.CounterVec

	// System metrics
	activeInstalls prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "nodescope"
	}
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		plansBuilt: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_built_total",
				Help:      "Total number of installation plans generated",
			},
			[]string{"script"},
		),
		planBuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_build_duration_seconds",
				Help:      "Duration of plan generation per host in seconds",
				Buckets:   buckets,
			},
			[]string{"script"},
		),
		planFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_failures_total",
				Help:      "Total number of plan generation failures by kind",
			},
			[]string{"kind"},
		),

		batchHosts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_hosts",
				Help:      "Number of hosts per planning batch",
				Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
			},
		),
		batchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Duration of batch plan generation in seconds",
				Buckets:   buckets,
			},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Batch cache lookups by cache and result",
			},
			[]string{"cache", "result"},
		),

		remoteCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_commands_total",
				Help:      "Remote commands executed by phase and status",
			},
			[]string{"phase", "status"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_command_duration_seconds",
				Help:      "Duration of remote command execution in seconds",
				Buckets:   buckets,
			},
			[]string{"phase"},
		),
		installs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "installs_total",
				Help:      "Completed installations by operation and status",
			},
			[]string{"operation", "status"},
		),

		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Policy violations by policy and severity",
			},
			[]string{"policy", "severity"},
		),

		activeInstalls: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_installs",
				Help:      "Current number of in-flight installations",
			},
		),
	}

	registry.MustRegister(
		m.plansBuilt,
		m.planBuildDuration,
		m.planFailures,
		m.batchHosts,
		m.batchDuration,
		m.cacheLookups,
		m.remoteCommands,
		m.commandDuration,
		m.installs,
		m.policyViolations,
		m.activeInstalls,
	)

	return m, nil
}

// ObservePlanBuild records one generated plan and its build duration.
func (m *Metrics) ObservePlanBuild(script string, duration time.Duration) {
	if m.plansBuilt == nil {
		return
	}
	m.plansBuilt.WithLabelValues(script).Inc()
	m.planBuildDuration.WithLabelValues(script).Observe(duration.Seconds())
}

// RecordPlanFailure records a plan generation failure by kind.
func (m *Metrics) RecordPlanFailure(kind string) {
	if m.planFailures == nil {
		return
	}
	m.planFailures.WithLabelValues(kind).Inc()
}

// ObserveBatch records the size and duration of a planning batch.
func (m *Metrics) ObserveBatch(hosts int, duration time.Duration) {
	if m.batchHosts == nil {
		return
	}
	m.batchHosts.Observe(float64(hosts))
	m.batchDuration.Observe(duration.Seconds())
}

// RecordCacheLookup records a batch cache lookup (result: hit or miss).
func (m *Metrics) RecordCacheLookup(cache, result string) {
	if m.cacheLookups == nil {
		return
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

// RecordRemoteCommand records one remote command execution.
// Phase is "pre" or "run"; status is "ok" or "error".
func (m *Metrics) RecordRemoteCommand(phase, status string, duration time.Duration) {
	if m.remoteCommands == nil {
		return
	}
	m.remoteCommands.WithLabelValues(phase, status).Inc()
	m.commandDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordInstallStarted increments the in-flight installation gauge.
func (m *Metrics) RecordInstallStarted() {
	if m.activeInstalls == nil {
		return
	}
	m.activeInstalls.Inc()
}

// RecordInstallFinished records a finished installation.
// Operation is "install" or "uninstall"; status is "ok" or "error".
func (m *Metrics) RecordInstallFinished(operation, status string) {
	if m.installs == nil {
		return
	}
	m.installs.WithLabelValues(operation, status).Inc()
	m.activeInstalls.Dec()
}

// RecordPolicyViolation records one policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
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

// StartMetricsServer serves /metrics on the configured listen address.
// A no-op when no address is configured.
func (m *Metrics) StartMetricsServer() error {
	if m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", server.Addr).Msg("Metrics server stopped")
		}
	}()

	return nil
}
