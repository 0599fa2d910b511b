package tool

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/conductor-ai/conductor/internal/errors"
)

var validParamTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

// Registry holds tool definitions and their compiled argument schemas.
// It exclusively owns registered definitions; nothing mutates a tool after
// registration. Read-mostly after startup, safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool. Fails with a validation error when the name is taken
// or the definition is malformed.
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}

	schema, err := compileSchema(def)
	if err != nil {
		return errors.Wrap(err, errors.KindValidation, "failed to compile argument schema").
			WithContext("tool", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return errors.Newf(errors.KindValidation, "tool already registered: %s", def.Name)
	}

	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	log.Info().Str("tool", def.Name).Bool("unsafe", def.Unsafe).Msg("Tool registered")
	return nil
}

// Get returns a tool definition by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// schema returns the compiled schema for a tool.
func (r *Registry) schema(name string) *gojsonschema.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schemas[name]
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return errors.Validation("tool name cannot be empty")
	}
	if def.Description == "" {
		return errors.Newf(errors.KindValidation, "tool %s: description cannot be empty", def.Name)
	}
	if def.Handler == nil {
		return errors.Newf(errors.KindValidation, "tool %s: handler cannot be nil", def.Name)
	}

	seen := make(map[string]bool, len(def.Parameters))
	for _, p := range def.Parameters {
		if p.Name == "" {
			return errors.Newf(errors.KindValidation, "tool %s: parameter name cannot be empty", def.Name)
		}
		if seen[p.Name] {
			return errors.Newf(errors.KindValidation, "tool %s: duplicate parameter %s", def.Name, p.Name)
		}
		seen[p.Name] = true
		if !validParamTypes[p.Type] {
			return errors.Newf(errors.KindValidation, "tool %s: invalid type %q for parameter %s", def.Name, p.Type, p.Name)
		}
	}
	return nil
}

// compileSchema builds a JSON Schema from the declared parameters.
func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	properties := make(map[string]interface{}, len(def.Parameters))
	var required []string

	for _, p := range def.Parameters {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop

		if p.Required {
			required = append(required, p.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": def.AllowUnknownArgs,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}
