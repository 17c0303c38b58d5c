package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/tencdm/tencdm/pkg/config/definition"
)

// SourceType identifies where a configuration value came from.
type SourceType string

const (
	SourceDefault  SourceType = "default"
	SourceEnv      SourceType = "env"
	SourceCLI      SourceType = "cli"
	SourceArgs     SourceType = "args"
	SourceYAML     SourceType = "yaml"
	SourceOverride SourceType = "override"
)

// Source yields a nested configuration map layered over the registry defaults.
type Source interface {
	Load() (map[string]any, error)
	Type() SourceType
}

// cliProvider maps changed CLI flags, keyed by flag name, onto config paths.
type cliProvider struct {
	flags map[string]any
}

// NewCLIProvider creates a configuration source from flag-name keyed values.
func NewCLIProvider(flags map[string]any) Source {
	return &cliProvider{flags: flags}
}

func (c *cliProvider) Load() (map[string]any, error) {
	config := make(map[string]any)
	if len(c.flags) == 0 {
		return config, nil
	}
	flagToPath := definition.CreateRegistry().GetCLIFlagMapping()
	for key, value := range c.flags {
		path, ok := flagToPath[key]
		if !ok {
			continue
		}
		if err := setNested(config, path, value); err != nil {
			return nil, fmt.Errorf("failed to set CLI flag %s: %w", key, err)
		}
	}
	return config, nil
}

func (c *cliProvider) Type() SourceType {
	return SourceCLI
}

// overrideProvider carries explicit dot-path overrides such as
// "decoder.max_sequence_len".
type overrideProvider struct {
	values map[string]any
}

// NewOverrideProvider creates a configuration source from dot-path keyed values.
func NewOverrideProvider(values map[string]any) Source {
	return &overrideProvider{values: values}
}

func (o *overrideProvider) Load() (map[string]any, error) {
	config := make(map[string]any)
	for path, value := range o.values {
		if err := setNested(config, path, value); err != nil {
			return nil, fmt.Errorf("failed to set override %s: %w", path, err)
		}
	}
	return config, nil
}

func (o *overrideProvider) Type() SourceType {
	return SourceOverride
}

// setNested sets a value in a nested map structure using dot notation.
// It returns an error if a path conflict is encountered.
func setNested(m map[string]any, path string, value any) error {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	current := m
	for i := 0; i < len(parts)-1; i++ {
		part := parts[i]
		if _, exists := current[part]; !exists {
			current[part] = make(map[string]any)
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return fmt.Errorf("configuration conflict: key %q is not a map", strings.Join(parts[:i+1], "."))
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
	return nil
}

// yamlProvider reads overrides from a YAML document.
type yamlProvider struct {
	fs   afero.Fs
	path string
}

// NewYAMLProvider creates a YAML file configuration source on the OS filesystem.
func NewYAMLProvider(path string) Source {
	return NewYAMLProviderFs(afero.NewOsFs(), path)
}

// NewYAMLProviderFs creates a YAML file configuration source on fs.
func NewYAMLProviderFs(fs afero.Fs, path string) Source {
	return &yamlProvider{fs: fs, path: path}
}

func (y *yamlProvider) Load() (map[string]any, error) {
	data, err := afero.ReadFile(y.fs, y.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found: %w", y.path, err)
		}
		return nil, fmt.Errorf("failed to read YAML file: %w", err)
	}
	var config map[string]any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML file: %w", err)
	}
	return filterNilValues(config), nil
}

func (y *yamlProvider) Type() SourceType {
	return SourceYAML
}

// filterNilValues recursively removes nil values from a map
// This prevents koanf from overriding existing values with nil
func filterNilValues(m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		if v == nil {
			continue
		}
		if nestedMap, ok := v.(map[string]any); ok {
			filtered := filterNilValues(nestedMap)
			if len(filtered) > 0 {
				result[k] = filtered
			}
		} else {
			result[k] = v
		}
	}
	return result
}

// flattenMap flattens a nested map into dot-notation keys
func flattenMap(prefix string, m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nestedMap, ok := v.(map[string]any); ok && len(nestedMap) > 0 {
			for fk, fv := range flattenMap(key, nestedMap) {
				result[fk] = fv
			}
		} else {
			result[key] = v
		}
	}
	return result
}

// rawMap is a koanf.Provider adapter for map[string]any data.
type rawMap map[string]any

func (r rawMap) Read() (map[string]any, error) {
	return r, nil
}

func (r rawMap) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("ReadBytes not implemented")
}
