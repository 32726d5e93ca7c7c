package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema("config", builtinConfigSchema); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateAgainstSchema validates data against the definition path in the named
// schema. An empty definition validates against the schema value itself.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName, definition string, data any) []ValidationError {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("schema %s not found", schemaName)}}
	}
	if definition != "" {
		schema = schema.LookupPath(cue.ParsePath(definition))
		if !schema.Exists() {
			return []ValidationError{{Message: fmt.Sprintf("definition %s not found in schema %s", definition, schemaName)}}
		}
	}

	// Convert data to CUE value
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return []ValidationError{{Message: fmt.Sprintf("failed to encode data: %v", err)}}
	}

	// Unify with schema (validates)
	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}
	return nil
}

// ValidateConfig validates a decoded configuration against the built-in schema.
func (sr *SchemaRegistry) ValidateConfig(cfg *Config) []ValidationError {
	return sr.ValidateAgainstSchema("config", "#Config", cfg)
}

// convertCUEErrors flattens a CUE error list.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		out = append(out, ValidationError{
			Field:   strings.Join(e.Path(), "."),
			Message: cueerrors.Details(e, nil),
		})
	}
	return out
}

// Built-in schema definitions

const builtinConfigSchema = `
#URL:     string & (=="" | =~"^https?://")
#Name:    string & =~"^[A-Za-z0-9@._+:/-]+$"
#Command: string & !~"^\\s*sudo\\b"

#Group: {
	description?:    string
	packages:        [...#Name]
	enable_service?: bool
}

#Config: {
	repositories: {
		rpm_fusion_free:    #URL
		rpm_fusion_nonfree: #URL
		docker:             #URL
		terra:              #URL
	}

	packages: {
		dnf:    #Group
		docker: #Group
		terra:  #Group
		cargo:  #Group

		flatpak: {
			description?: string
			remote:       string
			apps:         [...#Name]
			if len(apps) > 0 {
				remote: #Name
			}
		}

		homebrew: {
			description?:   string
			install_script: #URL
			packages:       [...#Name]
		}

		opencode: {
			description?: string
			url:          #URL
		}
	}

	commands: {
		// update runs elevated and must not carry its own sudo.
		update:     #Command
		shell_init: string
	}

	dotfiles: {
		dir?: string
	}
}
`
