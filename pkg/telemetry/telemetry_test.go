package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/dotsetup/dotsetup/pkg/engine"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "missing version", mutate: func(c *Config) { c.ServiceVersion = "" }, wantErr: "service version"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{
			name: "unknown exporter",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "jaeger"
			},
			wantErr: "invalid trace exporter",
		},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: "requires an endpoint",
		},
		{name: "sampling rate", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: "sampling rate"},
		{name: "metrics without address", mutate: func(c *Config) { c.Metrics.Enabled = true }, wantErr: "listen address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "dot-setup.log")
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "console", Output: path})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.NewComponentLogger("engine").WithRunID("run-1").Info("run started")
	logger.Debug("not written")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	out := string(data)
	for _, want := range []string{"run started", "component=engine", "run_id=run-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log file missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "not written") {
		t.Errorf("debug line written at info level")
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("log file contains color codes")
	}
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	ctx := logger.WithContext(context.Background())
	FromContext(ctx).WithTaskID("docker").Debug("resolved")

	if !strings.Contains(buf.String(), `"task_id":"docker"`) {
		t.Errorf("output = %s", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Error("FromContext() without a logger returned nil")
	}
}

func TestMetricsDisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RunStarted()
	m.StepFinished(engine.StepStatusCompleted, time.Second)
	m.RunFinished(engine.RunStatusSucceeded, time.Second)
	m.RecordError(errors.New("boom"))

	if m.Enabled() {
		t.Error("Enabled() = true")
	}
	srv, err := m.StartMetricsServer(zerolog.Nop())
	if srv != nil || err != nil {
		t.Errorf("StartMetricsServer() = %v, %v", srv, err)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMetricsRecordRun(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "dotsetup", ListenAddress: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RunStarted()
	if got := testutil.ToFloat64(m.activeRuns); got != 1 {
		t.Errorf("active_runs = %v, want 1", got)
	}

	m.StepFinished(engine.StepStatusCompleted, 2*time.Second)
	m.StepFinished(engine.StepStatusFailed, time.Second)
	m.StepFinished(engine.StepStatusCompleted, time.Second)
	m.RunFinished(engine.RunStatusPartial, 4*time.Second)
	m.RecordError(engine.NewSpawnError("sh not found", nil))
	m.RecordError(errors.New("plain"))

	if got := testutil.ToFloat64(m.runsStarted); got != 1 {
		t.Errorf("runs_started_total = %v", got)
	}
	if got := testutil.ToFloat64(m.runsCompleted.WithLabelValues("partial")); got != 1 {
		t.Errorf("runs_completed_total{partial} = %v", got)
	}
	if got := testutil.ToFloat64(m.steps.WithLabelValues("completed")); got != 2 {
		t.Errorf("steps_total{completed} = %v", got)
	}
	if got := testutil.ToFloat64(m.steps.WithLabelValues("failed")); got != 1 {
		t.Errorf("steps_total{failed} = %v", got)
	}
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("spawn")); got != 1 {
		t.Errorf("errors_by_class_total{spawn} = %v", got)
	}
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("internal")); got != 1 {
		t.Errorf("errors_by_class_total{internal} = %v", got)
	}
	if got := testutil.ToFloat64(m.activeRuns); got != 0 {
		t.Errorf("active_runs = %v, want 0", got)
	}
}

func TestMetricsServer(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "dotsetup", ListenAddress: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	m.RunStarted()

	srv, err := m.StartMetricsServer(zerolog.Nop())
	if err != nil {
		t.Fatalf("StartMetricsServer() error = %v", err)
	}
	defer srv.Shutdown(context.Background())

	resp, err := http.Get("http://" + srv.Addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "dotsetup_runs_started_total 1") {
		t.Errorf("metrics body missing runs_started_total:\n%s", body)
	}
}

func TestTracerStdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	tr, err := NewTracer(TracingConfig{
		Enabled:      true,
		Exporter:     "stdout",
		Writer:       &buf,
		SamplingRate: 1,
	}, "dot-setup", "test", "test")
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	if !tr.Enabled() {
		t.Fatal("Enabled() = false")
	}

	ctx, span := tr.StartSpan(context.Background(), "run.execute", AttrRunID.String("run-1"))
	if TraceID(ctx) == "" {
		t.Error("TraceID() is empty inside a sampled span")
	}
	RecordSuccess(span)
	span.End()

	if err := tr.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "run.execute") || !strings.Contains(out, "run-1") {
		t.Errorf("exported span missing name or attribute:\n%s", out)
	}
}

func TestTracerDisabled(t *testing.T) {
	tr, err := NewTracer(TracingConfig{Enabled: false}, "dot-setup", "test", "test")
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	ctx, span := tr.Tracer().Start(context.Background(), "noop")
	span.End()

	if TraceID(ctx) != "" {
		t.Error("no-op tracer produced a trace id")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

type fakeRecorder struct {
	mu     sync.Mutex
	calls  []string
	failOn string
}

func (f *fakeRecorder) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if call == f.failOn {
		return errors.New(call + " failed")
	}
	return nil
}

func (f *fakeRecorder) RunStarted(context.Context, string, []engine.RunStep, time.Time) error {
	return f.record("RunStarted")
}

func (f *fakeRecorder) StepChanged(context.Context, engine.StepEvent) error {
	return f.record("StepChanged")
}

func (f *fakeRecorder) RunFinished(context.Context, engine.RunResult) error {
	return f.record("RunFinished")
}

func TestEventPublisherForwards(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	next := &fakeRecorder{failOn: "RunFinished"}
	ep.Forward(next)

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, nil)

	ctx := context.Background()
	steps := []engine.RunStep{{TaskID: "docker", Name: "Installing Docker", Status: engine.StepStatusPending}}
	if err := ep.RunStarted(ctx, "run-1", steps, time.Now()); err != nil {
		t.Fatalf("RunStarted() error = %v", err)
	}
	step := steps[0]
	step.Status = engine.StepStatusRunning
	if err := ep.StepChanged(ctx, engine.StepEvent{RunID: "run-1", Step: step, Type: engine.EventTypeStepStarted}); err != nil {
		t.Fatalf("StepChanged() error = %v", err)
	}
	err = ep.RunFinished(ctx, engine.RunResult{RunID: "run-1", Status: engine.RunStatusCancelled, Total: 1, Pending: 1})
	if err == nil || !strings.Contains(err.Error(), "RunFinished failed") {
		t.Fatalf("RunFinished() error = %v, want downstream error", err)
	}

	if len(next.calls) != 3 {
		t.Errorf("downstream calls = %v", next.calls)
	}
	if len(got) != 3 {
		t.Fatalf("delivered %d events, want 3", len(got))
	}
	if got[1].TaskID != "docker" || got[1].StepIndex == nil || *got[1].StepIndex != 0 {
		t.Errorf("step event = %+v", got[1])
	}
	if got[2].Type != engine.EventTypeRunCancelled || got[2].Level != EventLevelWarning {
		t.Errorf("final event = %s/%s", got[2].Type, got[2].Level)
	}
	if got[0].ID == "" || got[0].ID == got[1].ID {
		t.Errorf("event ids not unique: %q %q", got[0].ID, got[1].ID)
	}
}

func TestEventPublisherAsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 16})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	var (
		mu    sync.Mutex
		types []engine.EventType
	)
	ep.Subscribe(func(e Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	}, FilterByType(engine.EventTypeStepCompleted, engine.EventTypeStepFailed))

	for _, typ := range []engine.EventType{
		engine.EventTypeStepStarted,
		engine.EventTypeStepCompleted,
		engine.EventTypeStepStarted,
		engine.EventTypeStepFailed,
	} {
		if err := ep.Publish(Event{Type: typ, RunID: "run-1"}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(types) != 2 || types[0] != engine.EventTypeStepCompleted || types[1] != engine.EventTypeStepFailed {
		t.Errorf("delivered %v", types)
	}
	if err := ep.Publish(Event{Type: engine.EventTypeStepStarted}); err == nil {
		t.Error("Publish() after Shutdown succeeded")
	}
}

func TestEventPublisherDisabledStillForwards(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: false})
	next := &fakeRecorder{}
	ep.Forward(next)

	delivered := false
	ep.Subscribe(func(Event) { delivered = true }, nil)

	if err := ep.RunStarted(context.Background(), "run-1", nil, time.Now()); err != nil {
		t.Fatalf("RunStarted() error = %v", err)
	}
	if delivered {
		t.Error("disabled publisher delivered an event")
	}
	if len(next.calls) != 1 {
		t.Errorf("downstream calls = %v", next.calls)
	}
}

func TestStartOperation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Writer = io.Discard
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	defer tel.Shutdown(context.Background())

	ic := StartOperation(tel.WithContext(context.Background()), "history.list", AttrCommand.String("history"))
	if ic.Span == nil {
		t.Fatal("StartOperation() returned no span")
	}
	if FromTelemetryContext(ic.Ctx) != tel {
		t.Error("operation context lost telemetry")
	}
	ic.End(nil)

	bare := StartOperation(context.Background(), "history.list")
	if bare.Span != nil || bare.Logger == nil {
		t.Errorf("bare operation = %+v", bare)
	}
	bare.End(errors.New("ignored"))
}
