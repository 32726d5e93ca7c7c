// Package telemetry provides the observability plumbing of dot-setup.
//
// It bundles structured logging (zerolog), tracing (OpenTelemetry), metrics
// (Prometheus) and a step event publisher behind one Telemetry value built
// from a Config.
//
// # Usage
//
// Initialize telemetry at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//	cfg.Logging.Output = "/home/me/.local/state/dot-setup/dot-setup.log"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// The pieces plug straight into the orchestrator:
//
//	tel.Events.Forward(store)
//	orch := engine.NewOrchestrator(resolver, exec,
//	    engine.WithLogger(tel.Logger.NewComponentLogger("engine").Zerolog()),
//	    engine.WithTracer(tel.Tracer.Tracer()),
//	    engine.WithMetrics(tel.Metrics),
//	    engine.WithRecorder(tel.Events),
//	)
//
// # Logging
//
// Logs go to stderr by default. The TUI points Output at a file so log lines
// never tear the alternate screen. Component loggers add a "component" field:
//
//	logger := tel.Logger.NewComponentLogger("catalog").WithTaskID("docker")
//	logger.Info("resolved")
//
// # Tracing
//
// Exporters: none (default), stdout (JSON spans written to a file or stderr)
// and otlp (gRPC). The orchestrator opens a span per run and per step.
//
// # Metrics
//
// Metrics implements engine.MetricsObserver. When enabled the registry is
// served over HTTP at ListenAddress + Path:
//
//	dotsetup_runs_started_total
//	dotsetup_runs_completed_total{status}
//	dotsetup_run_duration_seconds{status}
//	dotsetup_steps_total{status}
//	dotsetup_step_duration_seconds{status}
//	dotsetup_errors_by_class_total{class}
//	dotsetup_active_runs
//
// A disabled Metrics accepts every call and records nothing.
//
// # Events
//
// EventPublisher implements engine.Recorder. It converts run and step
// transitions into Event values for subscribers, then forwards the call to
// the next recorder (normally the history store). The headless run command
// subscribes to print JSON lines.
package telemetry
