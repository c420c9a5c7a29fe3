package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/trobanga/pacsbatch/internal/lib"
	"github.com/trobanga/pacsbatch/internal/services"
)

var statusFormat string

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the journal of an output directory",
	Long: `Display how many requests the output directory journals and how many of
them completed, failed or are still pending.

The status command only reads the journal and does not contact the peer.

Examples:
  pacsbatch status --output ./output
  pacsbatch status --output ./output --format yaml`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusFormat, "format", "text", "output format: text or yaml")
	_ = statusCmd.RegisterFlagCompletionFunc("format", fixedCompletion("text", "yaml"))
}

// statusReport is the yaml form of the status output
type statusReport struct {
	Directory  string                `yaml:"directory"`
	InProgress bool                  `yaml:"in_progress"`
	PriorRun   bool                  `yaml:"prior_run"`
	Counts     services.LedgerCounts `yaml:"counts"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusFormat != "text" && statusFormat != "yaml" {
		return lib.ErrConfig("format", fmt.Sprintf("--format must be text or yaml, got %q", statusFormat))
	}

	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer logger.Sync()

	ledger := services.NewLedger(cfg.Output.Directory, logger)
	report := statusReport{
		Directory:  cfg.Output.Directory,
		InProgress: services.IsOutputLocked(cfg.Output.Directory),
		PriorRun:   ledger.HasPriorRun(),
	}
	if report.PriorRun {
		if report.Counts, err = ledger.Counts(); err != nil {
			return err
		}
	}
	return writeStatus(cmd.OutOrStdout(), statusFormat, report)
}

func writeStatus(w io.Writer, format string, report statusReport) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	}

	if report.InProgress {
		fmt.Fprintf(w, "A run is in progress in %s\n", report.Directory)
	}
	if !report.PriorRun {
		fmt.Fprintf(w, "No extraction found in %s\n", report.Directory)
		return nil
	}
	c := report.Counts
	fmt.Fprintf(w, "Output directory: %s\n", report.Directory)
	fmt.Fprintf(w, "  Total:     %d\n", c.Whole)
	fmt.Fprintf(w, "  Completed: %d\n", c.Completed)
	fmt.Fprintf(w, "  Failed:    %d\n", c.Failed)
	fmt.Fprintf(w, "  Pending:   %d\n", c.Pending)
	if c.Pending == 0 && c.Failed == 0 && !report.InProgress {
		fmt.Fprintln(w, "✓ Extraction complete")
	}
	return nil
}
