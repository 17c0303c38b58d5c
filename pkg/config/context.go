package config

import (
	"context"
)

// ContextKey is an alias used for storing values in context
type ContextKey string

const (
	// ConfigCtxKey is the context key used to store the built *Config
	ConfigCtxKey ContextKey = "config"
)

// ContextWithConfig stores the configuration in the context
func ContextWithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ConfigCtxKey, cfg)
}

// FromContext returns the configuration attached to ctx, or nil when none was attached.
// Unlike the logger there is no fallback: a configuration is only meaningful
// once it has been derived from explicit arguments.
func FromContext(ctx context.Context) *Config {
	if ctx == nil {
		return nil
	}
	if cfg, ok := ctx.Value(ConfigCtxKey).(*Config); ok {
		return cfg
	}
	return nil
}
