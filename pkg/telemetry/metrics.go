package telemetry

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dotsetup/dotsetup/pkg/engine"
)

// Metrics provides Prometheus metrics for dot-setup runs.
// A disabled instance accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Step metrics
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

var _ engine.MetricsObserver = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
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

		runsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs finished, by final status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total number of steps finished, by outcome",
			},
			[]string{"status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of steps in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of engine errors by error class",
			},
			[]string{"class"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Number of runs currently executing",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.steps,
		m.stepDuration,
		m.errorsByClass,
		m.activeRuns,
	)

	return m, nil
}

// Enabled reports whether the collector records anything.
func (m *Metrics) Enabled() bool {
	return m.registry != nil
}

// RunStarted increments the counter for started runs.
func (m *Metrics) RunStarted() {
	if m.registry == nil {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RunFinished records a finished run with its status and duration.
func (m *Metrics) RunFinished(status engine.RunStatus, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.runsCompleted.WithLabelValues(string(status)).Inc()
	m.runDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// StepFinished records the outcome and duration of a single step.
func (m *Metrics) StepFinished(status engine.StepStatus, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.steps.WithLabelValues(string(status)).Inc()
	m.stepDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// RecordError counts an error by its engine class. Unclassified errors are
// counted as internal.
func (m *Metrics) RecordError(err error) {
	if m.registry == nil || err == nil {
		return
	}
	class := engine.ErrorClassInternal
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		class = ee.Class
	}
	m.errorsByClass.WithLabelValues(string(class)).Inc()
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer binds the listen address and serves metrics in the
// background. The returned server is nil when metrics are disabled.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) (*http.Server, error) {
	if m.registry == nil {
		return nil, nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return nil, err
	}

	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	logger.Info().Str("addr", server.Addr).Str("path", path).Msg("serving metrics")
	return server, nil
}
