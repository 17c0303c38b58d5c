package config

import (
	"sort"
	"sync"

	"github.com/tencdm/tencdm/pkg/config/definition"
)

// EnvPrefix is shared by every environment variable the registry declares.
const EnvPrefix = "TENCDM_"

// EnvMapping represents a mapping between environment variable and config path
type EnvMapping struct {
	EnvVar     string
	ConfigPath string
}

var (
	cachedMappings []EnvMapping
	mappingsOnce   sync.Once
)

// GenerateEnvMappings lists the registry's environment variables ordered by name.
func GenerateEnvMappings() []EnvMapping {
	mappingsOnce.Do(func() {
		for envVar, path := range definition.CreateRegistry().GetEnvMapping() {
			cachedMappings = append(cachedMappings, EnvMapping{EnvVar: envVar, ConfigPath: path})
		}
		sort.Slice(cachedMappings, func(i, j int) bool {
			return cachedMappings[i].EnvVar < cachedMappings[j].EnvVar
		})
	})
	return cachedMappings
}

// GenerateEnvToConfigMap generates a map from env var to config path
func GenerateEnvToConfigMap() map[string]string {
	mappings := GenerateEnvMappings()
	result := make(map[string]string, len(mappings))
	for _, m := range mappings {
		result[m.EnvVar] = m.ConfigPath
	}
	return result
}

// GetEnvVarForConfigPath returns the environment variable for a given config path
func GetEnvVarForConfigPath(configPath string) string {
	for _, m := range GenerateEnvMappings() {
		if m.ConfigPath == configPath {
			return m.EnvVar
		}
	}
	return ""
}
