// Package catalog defines the provisioning steps offered by dot-setup and
// resolves each of them into shell command lines from the configuration.
package catalog

import (
	"fmt"
	"strings"

	"github.com/dotsetup/dotsetup/pkg/config"
	"github.com/dotsetup/dotsetup/pkg/engine"
)

// Task IDs in execution order.
const (
	RPMFusion        = "rpm-fusion"
	DockerRepo       = "docker-repo"
	TerraRepo        = "terra-repo"
	SystemUpdate     = "system-update"
	CorePackages     = "core-packages"
	Docker           = "docker"
	DockerService    = "docker-service"
	FlatpakRemote    = "flatpak-remote"
	FlatpakApps      = "flatpak-apps"
	Homebrew         = "homebrew"
	HomebrewPackages = "homebrew-packages"
	OpenCode         = "opencode"
	CargoPackages    = "cargo-packages"
	TerraPackages    = "terra-packages"
	StowDotfiles     = "stow-dotfiles"
)

// FlathubRepoFile is the repository definition used when adding the Flatpak remote.
const FlathubRepoFile = "https://dl.flathub.org/repo/flathub.flatpakrepo"

type definition struct {
	task  engine.Task
	build func(cfg *config.Config) []string
}

// definitions is the ordered step list. Later steps rely on the side effects
// of earlier ones: repositories are registered before packages are installed
// from them, Homebrew is installed before formulae.
var definitions = []definition{
	{
		task: engine.Task{ID: RPMFusion, Name: "Adding RPM Fusion repositories",
			Description: "Free and nonfree RPM Fusion release packages", RequiresPrivilege: true},
		build: func(cfg *config.Config) []string {
			return dnfInstall(cfg.Repositories.RPMFusionFree, cfg.Repositories.RPMFusionNonfree)
		},
	},
	{
		task: engine.Task{ID: DockerRepo, Name: "Adding Docker repository",
			Description: "Docker CE repo file", RequiresPrivilege: true},
		build: func(cfg *config.Config) []string {
			if cfg.Repositories.Docker == "" {
				return nil
			}
			return []string{"dnf config-manager addrepo --overwrite --from-repofile " + cfg.Repositories.Docker}
		},
	},
	{
		task: engine.Task{ID: TerraRepo, Name: "Adding Terra repository",
			Description: "Terra release package, once", RequiresPrivilege: true},
		build: func(cfg *config.Config) []string {
			if cfg.Repositories.Terra == "" {
				return nil
			}
			return []string{fmt.Sprintf(
				"bash -c 'if ! rpm -q terra-release &>/dev/null; then dnf install -y --nogpgcheck --repofrompath terra,%s terra-release; fi'",
				cfg.Repositories.Terra)}
		},
	},
	{
		task: engine.Task{ID: SystemUpdate, Name: "Updating system",
			Description: "Upgrade installed packages", RequiresPrivilege: true},
		build: func(cfg *config.Config) []string {
			return nonEmpty(cfg.Commands.Update)
		},
	},
	{
		task: engine.Task{ID: CorePackages, Name: "Installing core packages",
			Description: "dnf packages", RequiresPrivilege: true},
		build: func(cfg *config.Config) []string {
			return dnfInstall(cfg.Packages.DNF.Packages...)
		},
	},
	{
		task: engine.Task{ID: Docker, Name: "Installing Docker",
			Description: "Docker engine packages", RequiresPrivilege: true},
		build: func(cfg *config.Config) []string {
			return dnfInstall(cfg.Packages.Docker.Packages...)
		},
	},
	{
		task: engine.Task{ID: DockerService, Name: "Enabling Docker service",
			Description: "systemctl enable --now docker", RequiresPrivilege: true},
		build: func(cfg *config.Config) []string {
			if !cfg.Packages.Docker.EnableService {
				return nil
			}
			return []string{"systemctl enable --now docker"}
		},
	},
	{
		task: engine.Task{ID: FlatpakRemote, Name: "Adding Flatpak remote",
			Description: "Register the Flathub remote"},
		build: func(cfg *config.Config) []string {
			if cfg.Packages.Flatpak.Remote == "" {
				return nil
			}
			return []string{fmt.Sprintf("flatpak remote-add --if-not-exists %s %s",
				cfg.Packages.Flatpak.Remote, FlathubRepoFile)}
		},
	},
	{
		task: engine.Task{ID: FlatpakApps, Name: "Installing Flatpak apps",
			Description: "Desktop applications from Flathub"},
		build: func(cfg *config.Config) []string {
			f := cfg.Packages.Flatpak
			if len(f.Apps) == 0 {
				return nil
			}
			return []string{fmt.Sprintf("flatpak install -y %s %s", f.Remote, strings.Join(f.Apps, " "))}
		},
	},
	{
		task: engine.Task{ID: Homebrew, Name: "Installing Homebrew",
			Description: "Homebrew on Linux"},
		build: func(cfg *config.Config) []string {
			script := cfg.Packages.Homebrew.InstallScript
			if script == "" {
				return nil
			}
			return []string{fmt.Sprintf(`NONINTERACTIVE=1 /bin/bash -c "$(curl -fsSL %s)"`, script)}
		},
	},
	{
		task: engine.Task{ID: HomebrewPackages, Name: "Installing Homebrew packages",
			Description: "brew formulae"},
		build: func(cfg *config.Config) []string {
			pkgs := cfg.Packages.Homebrew.Packages
			if len(pkgs) == 0 {
				return nil
			}
			install := "brew install " + strings.Join(pkgs, " ")
			if cfg.Commands.ShellInit == "" {
				return []string{install}
			}
			return []string{fmt.Sprintf(`eval "$(%s)" && %s`, cfg.Commands.ShellInit, install)}
		},
	},
	{
		task: engine.Task{ID: OpenCode, Name: "Installing OpenCode Desktop",
			Description: "OpenCode desktop RPM", RequiresPrivilege: true},
		build: func(cfg *config.Config) []string {
			return dnfInstall(cfg.Packages.OpenCode.URL)
		},
	},
	{
		task: engine.Task{ID: CargoPackages, Name: "Installing Cargo packages",
			Description: "cargo install"},
		build: func(cfg *config.Config) []string {
			pkgs := cfg.Packages.Cargo.Packages
			if len(pkgs) == 0 {
				return nil
			}
			return []string{"cargo install " + strings.Join(pkgs, " ")}
		},
	},
	{
		task: engine.Task{ID: TerraPackages, Name: "Installing Terra extras",
			Description: "dnf packages from Terra", RequiresPrivilege: true},
		build: func(cfg *config.Config) []string {
			return dnfInstall(cfg.Packages.Terra.Packages...)
		},
	},
	{
		task: engine.Task{ID: StowDotfiles, Name: "Stow Dotfiles",
			Description: "Link dotfiles into $HOME with GNU stow"},
		build: func(cfg *config.Config) []string {
			if cfg.Dotfiles.Dir == "" {
				return nil
			}
			return []string{fmt.Sprintf(`mkdir -p "$HOME/.local/bin" && cd %s && stow -R -t "$HOME/" --dotfiles .`,
				shellQuote(cfg.Dotfiles.Dir))}
		},
	},
}

// disabledByDefault lists steps that are offered but not pre-selected.
var disabledByDefault = map[string]bool{
	StowDotfiles: true,
}

// Catalog resolves the built-in steps against one configuration.
type Catalog struct {
	cfg  *config.Config
	byID map[string]definition
}

// New creates a catalog for cfg.
func New(cfg *config.Config) *Catalog {
	byID := make(map[string]definition, len(definitions))
	for _, d := range definitions {
		byID[d.task.ID] = d
	}
	return &Catalog{cfg: cfg, byID: byID}
}

// IDs returns every task ID in execution order.
func IDs() []string {
	ids := make([]string, len(definitions))
	for i, d := range definitions {
		ids[i] = d.task.ID
	}
	return ids
}

// Tasks returns the steps in execution order with their default selection.
func (c *Catalog) Tasks() []engine.Task {
	tasks := make([]engine.Task, len(definitions))
	for i, d := range definitions {
		tasks[i] = d.task
		tasks[i].Enabled = !disabledByDefault[d.task.ID]
	}
	return tasks
}

// TaskList returns a fresh selectable list of the steps.
func (c *Catalog) TaskList() *engine.TaskList {
	return engine.NewTaskList(c.Tasks())
}

// Select returns the steps with exactly the given IDs enabled.
// An empty ids keeps the default selection.
func (c *Catalog) Select(ids []string) ([]engine.Task, error) {
	tasks := c.Tasks()
	if len(ids) == 0 {
		return tasks, nil
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := c.byID[id]; !ok {
			return nil, engine.NewConfigError(fmt.Sprintf("unknown task %q", id), nil).
				WithCode(engine.ErrCodeNotFound)
		}
		want[id] = true
	}
	for i := range tasks {
		tasks[i].Enabled = want[tasks[i].ID]
	}
	return tasks, nil
}

// Lookup returns the step with the given ID.
func (c *Catalog) Lookup(id string) (engine.Task, bool) {
	d, ok := c.byID[id]
	if !ok {
		return engine.Task{}, false
	}
	t := d.task
	t.Enabled = !disabledByDefault[id]
	return t, true
}

// Resolve implements engine.Resolver. Steps without configured packages
// resolve to no commands.
func (c *Catalog) Resolve(task engine.Task) ([]engine.Command, error) {
	d, ok := c.byID[task.ID]
	if !ok {
		return nil, engine.NewConfigError(fmt.Sprintf("unknown task %q", task.ID), nil).
			WithCode(engine.ErrCodeNotFound).
			WithTask(task.ID)
	}
	if c.cfg == nil {
		return nil, engine.NewConfigError("no configuration loaded", nil).WithTask(task.ID)
	}

	lines := d.build(c.cfg)
	cmds := make([]engine.Command, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cmds = append(cmds, engine.Command{Line: line, Privileged: d.task.RequiresPrivilege})
	}
	return cmds, nil
}

func dnfInstall(pkgs ...string) []string {
	pkgs = compact(pkgs)
	if len(pkgs) == 0 {
		return nil
	}
	return []string{"dnf install -y " + strings.Join(pkgs, " ")}
}

func nonEmpty(line string) []string {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	return []string{line}
}

func compact(items []string) []string {
	out := items[:0:0]
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// shellQuote wraps s in single quotes for sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
