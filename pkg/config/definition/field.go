package definition

import (
	"reflect"
	"sort"
	"strings"
)

// FieldDef defines a configuration field with its metadata
type FieldDef struct {
	Path      string       // Config path like "training.batch_size"
	Default   any          // Default value
	CLIFlag   string       // CLI flag name like "batch-size"
	Shorthand string       // Single character shorthand like "b"
	EnvVar    string       // Environment variable name like "TENCDM_BATCH_SIZE"
	Type      reflect.Type // Field type for validation
	Help      string       // Help text for CLI
	// PerAccumStep marks defaults expressed per gradient-accumulation step;
	// the builder multiplies them by training.accum_batch_steps unless overridden.
	PerAccumStep bool
}

// Registry holds all configuration field definitions
type Registry struct {
	fields map[string]FieldDef
}

// NewRegistry creates a new field registry
func NewRegistry() *Registry {
	return &Registry{
		fields: make(map[string]FieldDef),
	}
}

// Register adds a field definition to the registry
func (r *Registry) Register(field *FieldDef) {
	r.fields[field.Path] = *field
}

// GetField returns a field definition by path
func (r *Registry) GetField(path string) (FieldDef, bool) {
	field, exists := r.fields[path]
	return field, exists
}

// GetDefault returns the default value for a field path
func (r *Registry) GetDefault(path string) any {
	if field, exists := r.fields[path]; exists {
		return field.Default
	}
	return nil
}

// GetAllFields returns all registered fields
func (r *Registry) GetAllFields() map[string]FieldDef {
	result := make(map[string]FieldDef)
	for k, v := range r.fields {
		result[k] = v
	}
	return result
}

// Sorted returns the registered fields ordered by path.
func (r *Registry) Sorted() []FieldDef {
	out := make([]FieldDef, 0, len(r.fields))
	for _, f := range r.fields {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// WithPrefix returns the fields whose path starts with prefix followed by a dot.
func (r *Registry) WithPrefix(prefix string) []FieldDef {
	var out []FieldDef
	for _, f := range r.Sorted() {
		if strings.HasPrefix(f.Path, prefix+".") {
			out = append(out, f)
		}
	}
	return out
}

// GetCLIFlagMapping returns a map of CLI flag names to config paths
func (r *Registry) GetCLIFlagMapping() map[string]string {
	mapping := make(map[string]string)
	for path, field := range r.fields {
		if field.CLIFlag != "" {
			mapping[field.CLIFlag] = path
		}
	}
	return mapping
}

// GetEnvMapping returns a map of environment variable names to config paths
func (r *Registry) GetEnvMapping() map[string]string {
	mapping := make(map[string]string)
	for path, field := range r.fields {
		if field.EnvVar != "" {
			mapping[field.EnvVar] = path
		}
	}
	return mapping
}

// Defaults returns a nested map of every default, keyed by path segments.
func (r *Registry) Defaults() map[string]any {
	out := make(map[string]any)
	for _, f := range r.Sorted() {
		cur := out
		parts := strings.Split(f.Path, ".")
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = f.Default
	}
	return out
}
