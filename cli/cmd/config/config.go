package config

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tencdm/tencdm/cli/helpers"
	"github.com/tencdm/tencdm/pkg/config"
	"github.com/tencdm/tencdm/pkg/logger"
)

var formats = []string{"json", "yaml", "table"}

// NewConfigCommand creates the config command
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the derived training configuration",
	}

	cmd.AddCommand(
		NewConfigShowCommand(),
		NewConfigValidateCommand(),
	)

	return cmd
}

// NewConfigShowCommand creates the config show subcommand
func NewConfigShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the derived configuration",
		Long: `Display every derived configuration value.
Supports JSON, YAML, and table output formats.`,
		RunE: runConfigShow,
	}

	cmd.Flags().StringP("format", "f", "table", "Output format (json, yaml, table)")

	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger.FromContext(ctx).Debug("executing config show command")
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return helpers.ErrNoConfig
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	return formatConfigOutput(cmd.OutOrStdout(), cfg, format)
}

// NewConfigValidateCommand creates the config validate subcommand
func NewConfigValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration built from the given flags and overrides",
		Annotations: map[string]string{
			helpers.AnnotationDeferConfigErrors: "true",
		},
		RunE: runConfigValidate,
	}

	cmd.Flags().Bool("json", false, "Report the result as JSON")

	return cmd
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("failed to get json flag: %w", err)
	}
	buildErr := helpers.BuildErrorFromContext(ctx)
	if buildErr == nil && config.FromContext(ctx) == nil {
		buildErr = helpers.ErrNoConfig
	}
	out := cmd.OutOrStdout()
	if asJSON {
		result := map[string]any{"valid": buildErr == nil, "message": "Configuration is valid"}
		if buildErr != nil {
			result["message"] = buildErr.Error()
		}
		if err := helpers.WriteJSON(out, result); err != nil {
			return err
		}
		if buildErr != nil {
			return fmt.Errorf("configuration validation failed: %w", buildErr)
		}
		return nil
	}
	if buildErr != nil {
		return fmt.Errorf("configuration validation failed: %w", buildErr)
	}
	fmt.Fprintln(out, "✅ Configuration is valid")
	return nil
}

// formatConfigOutput writes cfg in the requested format
func formatConfigOutput(w io.Writer, cfg *config.Config, format string) error {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}
	switch format {
	case "json":
		return helpers.WriteJSON(w, k.Raw())
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(k.Raw()); err != nil {
			return err
		}
		return enc.Close()
	case "table":
		return outputTable(w, k.All())
	default:
		return helpers.NewFormatError(format, formats...)
	}
}

func outputTable(w io.Writer, flat map[string]any) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(tw, "KEY\tVALUE")
	fmt.Fprintln(tw, "---\t-----")
	for _, key := range keys {
		fmt.Fprintf(tw, "%s\t%v\n", key, flat[key])
	}
	return tw.Flush()
}
