package config

// Config is the installer configuration: which repositories to register,
// which packages to install and which commands to run.
type Config struct {
	// Repositories lists the package repositories registered before installing.
	Repositories Repositories `mapstructure:"repositories" yaml:"repositories" json:"repositories"`

	// Packages groups the packages by installer.
	Packages Packages `mapstructure:"packages" yaml:"packages" json:"packages"`

	// Commands holds the free-form command lines.
	Commands Commands `mapstructure:"commands" yaml:"commands" json:"commands"`

	// Dotfiles configures the stow step.
	Dotfiles Dotfiles `mapstructure:"dotfiles" yaml:"dotfiles" json:"dotfiles"`
}

// Repositories holds repository package and repo-file locations.
type Repositories struct {
	// RPMFusionFree is the release package for the RPM Fusion free repository.
	RPMFusionFree string `mapstructure:"rpm_fusion_free" yaml:"rpm_fusion_free" json:"rpm_fusion_free" validate:"omitempty,startswith=http"`

	// RPMFusionNonfree is the release package for the RPM Fusion nonfree repository.
	RPMFusionNonfree string `mapstructure:"rpm_fusion_nonfree" yaml:"rpm_fusion_nonfree" json:"rpm_fusion_nonfree" validate:"omitempty,startswith=http"`

	// Docker is the Docker CE repo file.
	Docker string `mapstructure:"docker" yaml:"docker" json:"docker" validate:"omitempty,startswith=http"`

	// Terra is the Terra repository base URL.
	Terra string `mapstructure:"terra" yaml:"terra" json:"terra" validate:"omitempty,startswith=http"`
}

// Packages groups the package lists per installer.
type Packages struct {
	DNF      PackageGroup  `mapstructure:"dnf" yaml:"dnf" json:"dnf"`
	Docker   PackageGroup  `mapstructure:"docker" yaml:"docker" json:"docker"`
	Flatpak  FlatpakGroup  `mapstructure:"flatpak" yaml:"flatpak" json:"flatpak"`
	Terra    PackageGroup  `mapstructure:"terra" yaml:"terra" json:"terra"`
	Homebrew HomebrewGroup `mapstructure:"homebrew" yaml:"homebrew" json:"homebrew"`
	Cargo    PackageGroup  `mapstructure:"cargo" yaml:"cargo" json:"cargo"`
	OpenCode OpenCodeGroup `mapstructure:"opencode" yaml:"opencode" json:"opencode"`
}

// PackageGroup is a list of packages for one installer.
type PackageGroup struct {
	Description string   `mapstructure:"description" yaml:"description,omitempty" json:"description,omitempty"`
	Packages    []string `mapstructure:"packages" yaml:"packages" json:"packages" validate:"dive,pkgname"`

	// EnableService starts and enables the matching systemd unit after install.
	EnableService bool `mapstructure:"enable_service" yaml:"enable_service,omitempty" json:"enable_service,omitempty"`
}

// FlatpakGroup configures the Flatpak remote and the apps installed from it.
type FlatpakGroup struct {
	Description string   `mapstructure:"description" yaml:"description,omitempty" json:"description,omitempty"`
	Remote      string   `mapstructure:"remote" yaml:"remote" json:"remote" validate:"required_with=Apps,omitempty,pkgname"`
	Apps        []string `mapstructure:"apps" yaml:"apps" json:"apps" validate:"dive,pkgname"`
}

// HomebrewGroup configures the Homebrew installer and its formulae.
type HomebrewGroup struct {
	Description   string   `mapstructure:"description" yaml:"description,omitempty" json:"description,omitempty"`
	InstallScript string   `mapstructure:"install_script" yaml:"install_script" json:"install_script" validate:"omitempty,startswith=http"`
	Packages      []string `mapstructure:"packages" yaml:"packages" json:"packages" validate:"dive,pkgname"`
}

// OpenCodeGroup points at the OpenCode desktop RPM.
type OpenCodeGroup struct {
	Description string `mapstructure:"description" yaml:"description,omitempty" json:"description,omitempty"`
	URL         string `mapstructure:"url" yaml:"url" json:"url" validate:"omitempty,startswith=http"`
}

// Commands holds command lines run verbatim through the shell.
type Commands struct {
	// Update upgrades the system packages. Runs privileged.
	Update string `mapstructure:"update" yaml:"update" json:"update"`

	// ShellInit prints the environment setup for Homebrew (e.g. "brew shellenv").
	ShellInit string `mapstructure:"shell_init" yaml:"shell_init" json:"shell_init"`
}

// Dotfiles configures "stow" for the dotfiles repository.
type Dotfiles struct {
	// Dir is the dotfiles checkout. Empty uses the directory of the configuration file.
	Dir string `mapstructure:"dir" yaml:"dir,omitempty" json:"dir,omitempty"`
}

// ValidationError describes one problem found in a configuration file.
type ValidationError struct {
	// Field is the dotted path of the offending value.
	Field string `json:"field"`

	// Message is the human-readable error message.
	Message string `json:"message"`
}

// Loaded is a validated configuration together with its source path.
type Loaded struct {
	*Config

	// Path is the file the configuration was read from.
	Path string
}
