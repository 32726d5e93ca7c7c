// Package config loads and validates the dot-setup configuration file.
//
// # Overview
//
// The configuration names the repositories to register, the packages to
// install per installer and a few free-form command lines. It may be written
// in TOML (config.toml) or YAML (config.yaml) and is read with viper.
//
// # Validation
//
// Loading is fatal on any problem; the installer never starts with a partial
// configuration. Two passes run in order:
//
//  1. Struct tags through go-playground/validator (package names, URLs)
//  2. The built-in CUE schema (#Config), unified with the decoded document
//
// # Components
//
// Loader: Locates, reads and validates configuration files. Watch re-validates
// a file on every change.
//
// SchemaRegistry: Holds compiled CUE schemas.
//
// WriteYAML: Writes a starter configuration.
//
// # Usage Example
//
//	path, err := config.Locate(flagPath)
//	if err != nil {
//	    return err
//	}
//	loaded, err := config.NewLoader().Load(path)
//	if errors.Is(err, config.ErrInvalidConfig) {
//	    // report and exit
//	}
package config
