package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

var (
	// ErrInvalidConfig is returned when a configuration file fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConfigNotFound is returned when no configuration file could be located.
	ErrConfigNotFound = errors.New("configuration file not found")
)

// FileNames are the configuration file names searched, in order.
var FileNames = []string{"config.toml", "config.yaml", "config.yml"}

var pkgNamePattern = regexp.MustCompile(`^[A-Za-z0-9@._+:/-]+$`)

// InvalidConfigError carries every validation problem found in one file.
type InvalidConfigError struct {
	Path   string
	Errors []ValidationError
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		if ve.Field != "" {
			msgs = append(msgs, ve.Field+": "+ve.Message)
		} else {
			msgs = append(msgs, ve.Message)
		}
	}
	return fmt.Sprintf("%s: %s", e.Path, strings.Join(msgs, "; "))
}

// Unwrap makes errors.Is(err, ErrInvalidConfig) hold.
func (e *InvalidConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// Loader reads and validates configuration files.
type Loader struct {
	validate *validator.Validate
	schemas  *SchemaRegistry
	logger   zerolog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the loader's logger.
func WithLogger(l zerolog.Logger) LoaderOption {
	return func(ld *Loader) { ld.logger = l.With().Str("component", "config").Logger() }
}

// NewLoader creates a loader with the struct validator and the built-in CUE schema.
func NewLoader(opts ...LoaderOption) *Loader {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("pkgname", func(fl validator.FieldLevel) bool {
		return pkgNamePattern.MatchString(fl.Field().String())
	})
	l := &Loader{validate: v, schemas: NewSchemaRegistry(), logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate returns the configuration file to use. An explicit path wins; then
// the directory of the executable, the working directory and the user config
// directory are searched for FileNames.
func Locate(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigNotFound, explicit)
		}
		return explicit, nil
	}

	for _, dir := range SearchDirs() {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("%w: looked for %s in %s",
		ErrConfigNotFound, strings.Join(FileNames, ", "), strings.Join(SearchDirs(), ", "))
}

// SearchDirs lists the directories searched by Locate.
func SearchDirs() []string {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	dirs = append(dirs, UserConfigDir())
	return dirs
}

// UserConfigDir returns the per-user configuration directory.
func UserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dot-setup")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dot-setup"
	}
	return filepath.Join(home, ".config", "dot-setup")
}

// Load reads the file at path (TOML or YAML, by extension) and validates it.
func (l *Loader) Load(path string) (*Loaded, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, &InvalidConfigError{Path: path, Errors: []ValidationError{{Message: err.Error()}}}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &InvalidConfigError{Path: path, Errors: []ValidationError{{Message: err.Error()}}}
	}
	if errs := l.Validate(&cfg); len(errs) > 0 {
		return nil, &InvalidConfigError{Path: path, Errors: errs}
	}

	if cfg.Dotfiles.Dir == "" {
		if abs, err := filepath.Abs(filepath.Dir(path)); err == nil {
			cfg.Dotfiles.Dir = abs
		}
	}
	cfg.Dotfiles.Dir = expandHome(cfg.Dotfiles.Dir)

	l.logger.Debug().Str("path", path).Msg("Configuration loaded")
	return &Loaded{Config: &cfg, Path: path}, nil
}

// Validate checks struct tags first and the CUE schema second.
func (l *Loader) Validate(cfg *Config) []ValidationError {
	normalize(cfg)
	if err := l.validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []ValidationError{{Message: err.Error()}}
		}
		out := make([]ValidationError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, ValidationError{
				Field:   fe.Namespace(),
				Message: fmt.Sprintf("failed on '%s' (value %q)", fe.Tag(), fmt.Sprint(fe.Value())),
			})
		}
		return out
	}

	return l.schemas.ValidateConfig(cfg)
}

// normalize replaces nil lists with empty ones.
func normalize(cfg *Config) {
	for _, list := range []*[]string{
		&cfg.Packages.DNF.Packages,
		&cfg.Packages.Docker.Packages,
		&cfg.Packages.Terra.Packages,
		&cfg.Packages.Cargo.Packages,
		&cfg.Packages.Flatpak.Apps,
		&cfg.Packages.Homebrew.Packages,
	} {
		if *list == nil {
			*list = []string{}
		}
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
