package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dotsetup/dotsetup/pkg/config"
	"github.com/dotsetup/dotsetup/pkg/engine"
	"github.com/dotsetup/dotsetup/pkg/executor"
	"github.com/dotsetup/dotsetup/pkg/telemetry"
)

// envPrefix is prepended to every settings key when read from the environment,
// e.g. DOTSETUP_LOG_LEVEL.
const envPrefix = "DOTSETUP"

// Settings are the process-level knobs. They come from flags, DOTSETUP_*
// environment variables and defaults, in that order of precedence. The task
// catalog itself lives in the configuration file, not here.
type Settings struct {
	LogLevel  string `mapstructure:"log-level" validate:"oneof=trace debug info warn error"`
	LogFormat string `mapstructure:"log-format" validate:"oneof=console json"`
	LogFile   string `mapstructure:"log-file"`

	DataDir string `mapstructure:"data-dir" validate:"required"`
	History bool   `mapstructure:"history"`

	MetricsAddr string `mapstructure:"metrics-addr" validate:"omitempty,hostname_port"`

	TraceExporter string `mapstructure:"trace-exporter" validate:"oneof=none stdout otlp"`
	TraceEndpoint string `mapstructure:"trace-endpoint" validate:"required_if=TraceExporter otlp"`
	TraceFile     string `mapstructure:"trace-file"`

	CommandTimeout time.Duration `mapstructure:"command-timeout" validate:"gte=0"`
	LogCapacity    int           `mapstructure:"log-capacity" validate:"gte=1"`
	MaxStdoutLines int           `mapstructure:"max-stdout-lines" validate:"gte=0"`

	Policy          bool     `mapstructure:"policy"`
	PolicyDir       string   `mapstructure:"policy-dir"`
	EnablePolicies  []string `mapstructure:"enable-policy"`
	DisablePolicies []string `mapstructure:"disable-policy"`

	AutoApprove bool `mapstructure:"yes"`
}

// StateDir returns the per-user state directory ($XDG_STATE_HOME/dot-setup).
func StateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "dot-setup")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dot-setup"
	}
	return filepath.Join(home, ".local", "state", "dot-setup")
}

// registerSettingsFlags declares the persistent flags backing Settings.
func registerSettingsFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	fs.String("log-format", "console", "log format (console, json)")
	fs.String("log-file", "", "log file; the TUI defaults to <state dir>/dot-setup.log, other commands to stderr")
	fs.String("data-dir", StateDir(), "directory holding the run history database")
	fs.Bool("history", true, "record runs in the history database")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. 127.0.0.1:9464")
	fs.String("trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	fs.String("trace-endpoint", "", "OTLP gRPC endpoint for the otlp exporter")
	fs.String("trace-file", "", "file for the stdout exporter; the TUI defaults to <state dir>/traces.json")
	fs.Duration("command-timeout", 0, "kill a command after this long (0 waits forever)")
	fs.Int("log-capacity", engine.DefaultLogCapacity, "number of log lines kept in memory")
	fs.Int("max-stdout-lines", executor.DefaultMaxStdoutLines, "stdout lines kept per command (0 keeps all)")
	fs.Bool("policy", true, "check commands against the command policies before running them")
	fs.String("policy-dir", "", "directory of extra .rego/.json policies (default <config dir>/policies)")
	fs.StringSlice("enable-policy", nil, "enable a policy that is disabled in its file (repeatable)")
	fs.StringSlice("disable-policy", nil, "skip a policy by name (repeatable)")
	fs.BoolP("yes", "y", false, "skip the confirmation step")
}

// newSettingsViper returns a viper instance reading DOTSETUP_* variables.
func newSettingsViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// loadSettings decodes and validates the bound settings.
func loadSettings(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(s); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	s.DataDir = expandHome(s.DataDir)
	s.LogFile = expandHome(s.LogFile)
	s.TraceFile = expandHome(s.TraceFile)
	s.PolicyDir = expandHome(s.PolicyDir)
	return s, nil
}

// telemetryConfig maps settings onto a telemetry configuration. logFile and
// traceFile are the defaults used when the settings leave them empty.
func (s Settings) telemetryConfig(version, logFile, traceFile string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = s.LogLevel
	cfg.Logging.Format = s.LogFormat
	cfg.Logging.Output = firstNonEmpty(s.LogFile, logFile, "stderr")

	if s.TraceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = s.TraceExporter
		cfg.Tracing.Endpoint = s.TraceEndpoint
		cfg.Tracing.Output = firstNonEmpty(s.TraceFile, traceFile)
	}

	if s.MetricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = s.MetricsAddr
	}
	return cfg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// configLoader returns a configuration loader logging through logger.
func configLoader(logger *telemetry.Logger) *config.Loader {
	return config.NewLoader(config.WithLogger(logger.Zerolog()))
}
