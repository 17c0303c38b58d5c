package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	configcmd "github.com/tencdm/tencdm/cli/cmd/config"
	encodercmd "github.com/tencdm/tencdm/cli/cmd/encoder"
	hubcmd "github.com/tencdm/tencdm/cli/cmd/hub"
	"github.com/tencdm/tencdm/cli/helpers"
	"github.com/tencdm/tencdm/engine/hub"
	"github.com/tencdm/tencdm/pkg/config"
	"github.com/tencdm/tencdm/pkg/config/definition"
	"github.com/tencdm/tencdm/pkg/logger"
	"github.com/tencdm/tencdm/pkg/version"
)

const defaultEnvFile = ".env"

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tencdm",
		Short:         "Training configuration and encoder tooling for latent text diffusion",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := setupLogging(cmd); err != nil {
				return err
			}
			err := SetupGlobalConfig(cmd)
			if err != nil && cmd.Annotations[helpers.AnnotationDeferConfigErrors] != "" {
				cmd.SetContext(helpers.ContextWithBuildError(cmd.Context(), err))
				return nil
			}
			return err
		},
	}

	flags := root.PersistentFlags()
	flags.String("log-level", "info", "Log level (debug, info, warn, error, disabled)")
	flags.Bool("log-json", false, "Emit logs as JSON")
	flags.Bool("log-source", false, "Include source locations in logs")
	flags.String("env-file", defaultEnvFile, "Environment file loaded before reading TENCDM_* variables")
	flags.String("config", "", "YAML file of configuration overrides")
	flags.StringArray("set", nil, "Override a configuration value (key=value, repeatable)")
	flags.String("hub-cache", "", "Directory of downloaded pretrained model files")
	flags.String("hub-endpoint", hub.DefaultEndpoint, "Base URL pretrained files are downloaded from")
	flags.Bool("offline", false, "Only use pretrained files already in the cache")
	registerArgFlags(flags, definition.CreateRegistry())

	root.AddCommand(
		configcmd.NewConfigCommand(),
		encodercmd.NewEncoderCommand(),
		hubcmd.NewHubCommand(),
	)

	return root
}

func setupLogging(cmd *cobra.Command) error {
	level, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}
	logger.SetupLogger(level, logJSON, logSource)
	cmd.SetContext(logger.ContextWithLogger(cmd.Context(), logger.GetDefault()))
	return nil
}

// SetupGlobalConfig builds the configuration from the environment file, the
// TENCDM_* variables, the changed argument flags and the YAML and --set
// overrides, then stores it with the hub in the command context.
func SetupGlobalConfig(cmd *cobra.Command) error {
	ctx := cmd.Context()
	flags := cmd.Flags()
	if err := loadEnvFile(flags); err != nil {
		return err
	}
	args, err := config.LoadArgs(changedArgFlags(flags))
	if err != nil {
		return err
	}
	h, err := newHub(flags)
	if err != nil {
		return err
	}
	ctx = helpers.ContextWithHub(ctx, h)
	cmd.SetContext(ctx)

	opts := []config.Option{config.WithModelConfigProvider(h.Fallback(config.BuiltinPretrained()))}
	path, err := flags.GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	if path != "" {
		opts = append(opts, config.WithSources(config.NewYAMLProvider(path)))
	}
	sets, err := flags.GetStringArray("set")
	if err != nil {
		return fmt.Errorf("failed to get set flag: %w", err)
	}
	overrides, err := parseOverrides(sets)
	if err != nil {
		return err
	}
	if len(overrides) > 0 {
		opts = append(opts, config.WithOverrides(overrides))
	}
	cfg, err := config.Build(ctx, args, opts...)
	if err != nil {
		return err
	}
	cmd.SetContext(config.ContextWithConfig(ctx, cfg))
	return nil
}

// loadEnvFile ignores a missing default file but not an explicitly named one.
func loadEnvFile(flags *pflag.FlagSet) error {
	path, err := flags.GetString("env-file")
	if err != nil {
		return fmt.Errorf("failed to get env-file flag: %w", err)
	}
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !flags.Changed("env-file") {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func newHub(flags *pflag.FlagSet) (*hub.Hub, error) {
	cacheDir, err := flags.GetString("hub-cache")
	if err != nil {
		return nil, fmt.Errorf("failed to get hub-cache flag: %w", err)
	}
	endpoint, err := flags.GetString("hub-endpoint")
	if err != nil {
		return nil, fmt.Errorf("failed to get hub-endpoint flag: %w", err)
	}
	offline, err := flags.GetBool("offline")
	if err != nil {
		return nil, fmt.Errorf("failed to get offline flag: %w", err)
	}
	if offline {
		endpoint = ""
	}
	return hub.New(hub.WithCacheDir(cacheDir), hub.WithEndpoint(endpoint))
}

func parseOverrides(values []string) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, helpers.NewOverrideError(v)
		}
		out[key] = value
	}
	return out, nil
}
