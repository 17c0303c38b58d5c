package hub

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tencdm/tencdm/cli/helpers"
	"github.com/tencdm/tencdm/pkg/config"
)

// NewHubCommand creates the hub command
func NewHubCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Manage the local cache of pretrained model files",
	}
	cmd.AddCommand(NewDownloadCommand())
	return cmd
}

// NewDownloadCommand creates the hub download subcommand
func NewDownloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "download [model-id...]",
		Short: "Download model files into the cache (defaults to the configured encoder)",
		RunE:  runDownload,
	}
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	h := helpers.HubFromContext(ctx)
	if h == nil {
		return helpers.ErrNoConfig
	}
	ids := args
	if len(ids) == 0 {
		cfg := config.FromContext(ctx)
		if cfg == nil {
			return helpers.ErrNoConfig
		}
		ids = []string{cfg.Model.EncoderLink}
	}
	for _, id := range ids {
		names, err := h.Download(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to download %s: %w", id, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, strings.Join(names, ", "))
	}
	return nil
}
