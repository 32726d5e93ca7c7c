package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dotsetup/dotsetup/pkg/catalog"
	"github.com/dotsetup/dotsetup/pkg/config"
	"github.com/dotsetup/dotsetup/pkg/engine"
	"github.com/dotsetup/dotsetup/pkg/executor"
	"github.com/dotsetup/dotsetup/pkg/policy"
	"github.com/dotsetup/dotsetup/pkg/stores"
	"github.com/dotsetup/dotsetup/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

// appMode selects where an app sends its own logs.
type appMode int

const (
	// modeHeadless logs to stderr; stdout carries command output.
	modeHeadless appMode = iota
	// modeInteractive logs to a file so the alternate screen stays intact.
	modeInteractive
)

// app is the wired object graph behind the install and run commands.
type app struct {
	settings Settings
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
	loaded   *config.Loaded
	catalog  *catalog.Catalog
	policy   *policy.Engine
	store    *stores.SQLiteStore
	orch     *engine.Orchestrator
}

// newTelemetry loads settings and initialises telemetry for mode.
func newTelemetry(opts *rootOptions, mode appMode) (Settings, *telemetry.Telemetry, error) {
	settings, err := loadSettings(opts.viper)
	if err != nil {
		return Settings{}, nil, err
	}

	var logFile, traceFile string
	if mode == modeInteractive {
		logFile = filepath.Join(StateDir(), "dot-setup.log")
		traceFile = filepath.Join(StateDir(), "traces.json")
	}

	tel, err := telemetry.NewTelemetry(settings.telemetryConfig(opts.version, logFile, traceFile))
	if err != nil {
		return Settings{}, nil, fmt.Errorf("failed to initialise telemetry: %w", err)
	}
	return settings, tel, nil
}

// loadConfig locates and validates the configuration file.
func loadConfig(opts *rootOptions, logger *telemetry.Logger) (*config.Loaded, error) {
	path, err := config.Locate(opts.configPath)
	if err != nil {
		return nil, err
	}
	return configLoader(logger).Load(path)
}

// openStore opens the history database, or returns nil when history is off.
func openStore(ctx context.Context, settings Settings, logger *telemetry.Logger) (*stores.SQLiteStore, error) {
	if !settings.History {
		return nil, nil
	}
	path := stores.DefaultPath(settings.DataDir)
	store, err := stores.Open(ctx, stores.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	logger.Debugf("run history at %s", path)
	return store, nil
}

// newPolicyEngine builds the command policy engine with the built-in
// policies plus those in the policy directory, then applies the
// --enable-policy and --disable-policy settings. It returns nil when policies
// are switched off.
func newPolicyEngine(ctx context.Context, settings Settings, logger *telemetry.Logger) (*policy.Engine, error) {
	if !settings.Policy {
		return nil, nil
	}
	eng, err := policy.NewEngine(logger.Zerolog())
	if err != nil {
		return nil, err
	}

	dir := settings.PolicyDir
	if dir == "" {
		dir = filepath.Join(config.UserConfigDir(), "policies")
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			dir = ""
		}
	}
	if dir != "" {
		if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
			return nil, err
		}
	}

	for _, name := range settings.EnablePolicies {
		if err := eng.EnablePolicy(name); err != nil {
			return nil, fmt.Errorf("--enable-policy: %w", err)
		}
	}
	for _, name := range settings.DisablePolicies {
		if err := eng.DisablePolicy(name); err != nil {
			return nil, fmt.Errorf("--disable-policy: %w", err)
		}
	}
	return eng, nil
}

// newApp wires configuration, catalog, executor, history and telemetry into
// an orchestrator. Configuration errors are returned before anything runs.
func newApp(ctx context.Context, opts *rootOptions, mode appMode) (*app, error) {
	settings, tel, err := newTelemetry(opts, mode)
	if err != nil {
		return nil, err
	}
	a := &app{
		settings: settings,
		tel:      tel,
		logger:   tel.Logger.NewComponentLogger("cli"),
	}

	a.loaded, err = loadConfig(opts, a.logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.catalog = catalog.New(a.loaded.Config)

	a.policy, err = newPolicyEngine(ctx, settings, a.logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	var resolver engine.Resolver = a.catalog
	if a.policy != nil {
		// Evaluation must outlive an interrupt: the step in flight still resolves.
		resolver = policy.NewGuard(context.WithoutCancel(ctx), a.catalog, a.policy, tel.Logger.Zerolog())
	}

	a.store, err = openStore(ctx, settings, a.logger)
	if err != nil {
		// The run goes ahead without history.
		a.logger.WithError(err).Warn("run history disabled")
	}
	if a.store != nil {
		tel.Events.Forward(a.store)
	}

	if err := tel.StartMetricsServer(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	shell := executor.New(
		executor.WithTimeout(settings.CommandTimeout),
		executor.WithMaxStdoutLines(settings.MaxStdoutLines),
		executor.WithLogger(tel.Logger.Zerolog()),
	)

	a.orch = engine.NewOrchestrator(shell, resolver,
		engine.WithLogger(tel.Logger.Zerolog()),
		engine.WithLogCapacity(settings.LogCapacity),
		engine.WithRecorder(tel.Events),
		engine.WithMetrics(tel.Metrics),
		engine.WithTracer(tel.Tracer.Tracer()),
	)

	tel.Events.Subscribe(a.logStepFailure, telemetry.FilterByType(engine.EventTypeStepFailed))

	zl := a.logger.Zerolog()
	zl.Debug().
		Str("config", a.loaded.Path).
		Int("tasks", len(a.catalog.Tasks())).
		Bool("history", a.store != nil).
		Bool("policy", a.policy != nil).
		Msg("dot-setup ready")
	return a, nil
}

// logStepFailure writes a failed step to the process log, which outlives the
// in-memory run log.
func (a *app) logStepFailure(e telemetry.Event) {
	a.logger.WithRunID(e.RunID).WithTaskID(e.TaskID).Warn(e.Message)
}

// Close releases the history database and flushes telemetry.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close run history")
		}
	}
	// Shutdown logs its own errors before closing the log file.
	_ = a.tel.Shutdown(ctx)
}
