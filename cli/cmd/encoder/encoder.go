package encoder

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/tencdm/tencdm/cli/helpers"
	"github.com/tencdm/tencdm/engine/encoder"
	"github.com/tencdm/tencdm/pkg/config"
	"github.com/tencdm/tencdm/pkg/logger"
)

// previewDims bounds how many statistic values inspect prints.
const previewDims = 4

// NewEncoderCommand creates the encoder command
func NewEncoderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encoder",
		Short: "Work with the pretrained encoder adapter",
	}
	cmd.AddCommand(NewInspectCommand())
	return cmd
}

// NewInspectCommand creates the encoder inspect subcommand
func NewInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Build the encoder adapter and report how it was constructed",
		RunE:  runInspect,
	}
	cmd.Flags().Bool("json", false, "Report as JSON")
	return cmd
}

// Report summarises a constructed adapter.
type Report struct {
	Link        string    `json:"link"`
	Family      string    `json:"family"`
	Mode        string    `json:"mode"`
	HiddenSize  int       `json:"hidden_size"`
	TableRows   int       `json:"table_rows,omitempty"`
	UsedIDs     int       `json:"used_ids,omitempty"`
	Aggregation string    `json:"aggregation,omitempty"`
	MeanPreview []float64 `json:"mean_preview,omitempty"`
	StdPreview  []float64 `json:"std_preview,omitempty"`
}

func runInspect(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := logger.FromContext(ctx)
	cfg := config.FromContext(ctx)
	h := helpers.HubFromContext(ctx)
	if cfg == nil || h == nil {
		return helpers.ErrNoConfig
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("failed to get json flag: %w", err)
	}
	ecfg := encoder.ConfigFrom(cfg)
	log.Debug("building encoder adapter", "link", ecfg.Link, "emb", ecfg.Emb)
	adapter, err := encoder.New(ctx, ecfg, encoder.Deps{
		Models:     h,
		Tokenizers: h,
		Fs:         afero.NewOsFs(),
	})
	if err != nil {
		return fmt.Errorf("failed to build encoder adapter: %w", err)
	}
	report := NewReport(ecfg.Link, adapter)
	if asJSON {
		return helpers.WriteJSON(cmd.OutOrStdout(), report)
	}
	return writeReport(cmd.OutOrStdout(), report)
}

// NewReport collects the inspectable state of an adapter.
func NewReport(link string, a *encoder.Adapter) Report {
	r := Report{
		Link:       link,
		Family:     a.Family().String(),
		Mode:       a.Mode().String(),
		HiddenSize: a.HiddenSize(),
		UsedIDs:    len(a.UsedIDs()),
	}
	if t := a.Table(); t != nil {
		r.TableRows, _ = t.Dims()
	}
	if s := a.Statistics(); s != nil {
		r.Aggregation = string(s.Aggregation)
		r.MeanPreview = preview(s.Mean)
		r.StdPreview = preview(s.Std)
	}
	return r
}

func preview(v []float64) []float64 {
	if len(v) > previewDims {
		return v[:previewDims]
	}
	return v
}

func writeReport(w io.Writer, r Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "link\t%s\n", r.Link)
	fmt.Fprintf(tw, "family\t%s\n", r.Family)
	fmt.Fprintf(tw, "mode\t%s\n", r.Mode)
	fmt.Fprintf(tw, "hidden size\t%d\n", r.HiddenSize)
	if r.TableRows > 0 {
		fmt.Fprintf(tw, "table rows\t%d\n", r.TableRows)
		fmt.Fprintf(tw, "used ids\t%d\n", r.UsedIDs)
	}
	if r.Aggregation != "" {
		fmt.Fprintf(tw, "aggregation\t%s\n", r.Aggregation)
		fmt.Fprintf(tw, "mean[:%d]\t%v\n", len(r.MeanPreview), r.MeanPreview)
		fmt.Fprintf(tw, "std[:%d]\t%v\n", len(r.StdPreview), r.StdPreview)
	}
	return tw.Flush()
}
