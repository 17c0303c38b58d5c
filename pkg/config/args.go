package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"

	"github.com/tencdm/tencdm/pkg/config/definition"
)

// LoadArgs resolves the training arguments from the registry defaults, then the
// TENCDM_* environment variables, then the explicitly changed CLI flags keyed
// by flag name. Later layers win.
func LoadArgs(flags map[string]any) (Args, error) {
	k := koanf.New(".")
	registry := definition.CreateRegistry()
	defaults := registry.Defaults()
	if err := k.Load(rawMap{"args": defaults["args"]}, nil); err != nil {
		return Args{}, fmt.Errorf("failed to load argument defaults: %w", err)
	}
	envToPath := GenerateEnvToConfigMap()
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: "",
		TransformFunc: func(key string, value string) (string, any) {
			if path, ok := envToPath[key]; ok {
				return path, value
			}
			return "", nil
		},
	}), nil); err != nil {
		return Args{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	data, err := NewCLIProvider(flags).Load()
	if err != nil {
		return Args{}, err
	}
	for key, value := range flattenMap("", data) {
		if err := k.Set(key, value); err != nil {
			return Args{}, fmt.Errorf("failed to set flag %s: %w", key, err)
		}
	}
	var args Args
	if err := k.UnmarshalWithConf("args", &args, unmarshalConf(&args)); err != nil {
		return Args{}, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}
	return args, nil
}

func unmarshalConf(result any) koanf.UnmarshalConf {
	return koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Squash:           true,
			Result:           result,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
}
