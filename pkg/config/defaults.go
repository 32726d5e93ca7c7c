package config

import "github.com/spf13/viper"

// Default returns the starter configuration for a Fedora workstation.
func Default() *Config {
	return &Config{
		Repositories: Repositories{
			RPMFusionFree:    "https://mirrors.rpmfusion.org/free/fedora/rpmfusion-free-release-$(rpm -E %fedora).noarch.rpm",
			RPMFusionNonfree: "https://mirrors.rpmfusion.org/nonfree/fedora/rpmfusion-nonfree-release-$(rpm -E %fedora).noarch.rpm",
			Docker:           "https://download.docker.com/linux/fedora/docker-ce.repo",
			Terra:            "https://repos.fyralabs.com/terra$releasever",
		},
		Packages: Packages{
			DNF: PackageGroup{
				Description: "Core command line tools",
				Packages:    []string{"git", "zsh", "stow", "neovim", "ripgrep", "fd-find", "fzf", "tmux"},
			},
			Docker: PackageGroup{
				Description:   "Docker engine",
				Packages:      []string{"docker-ce", "docker-ce-cli", "containerd.io", "docker-compose-plugin"},
				EnableService: true,
			},
			Flatpak: FlatpakGroup{
				Description: "Desktop applications",
				Remote:      "flathub",
				Apps:        []string{"com.spotify.Client", "md.obsidian.Obsidian"},
			},
			Terra: PackageGroup{
				Description: "Packages from Terra",
				Packages:    []string{"ghostty"},
			},
			Homebrew: HomebrewGroup{
				Description:   "Homebrew formulae",
				InstallScript: "https://raw.githubusercontent.com/Homebrew/install/HEAD/install.sh",
				Packages:      []string{"starship", "zoxide"},
			},
			Cargo: PackageGroup{
				Description: "Rust tools",
				Packages:    []string{},
			},
			OpenCode: OpenCodeGroup{
				Description: "OpenCode desktop",
			},
		},
		Commands: Commands{
			Update:    "dnf upgrade -y --refresh",
			ShellInit: "/home/linuxbrew/.linuxbrew/bin/brew shellenv",
		},
	}
}

// setDefaults registers the scalar defaults. Package lists are never
// defaulted so that an omitted list means "install nothing".
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("packages.flatpak.remote", d.Packages.Flatpak.Remote)
	v.SetDefault("packages.homebrew.install_script", d.Packages.Homebrew.InstallScript)
	v.SetDefault("packages.docker.enable_service", false)
	v.SetDefault("commands.update", d.Commands.Update)
	v.SetDefault("commands.shell_init", d.Commands.ShellInit)
	v.SetDefault("dotfiles.dir", "")
}
