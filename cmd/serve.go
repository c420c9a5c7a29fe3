package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/trobanga/pacsbatch/internal/pipeline"
	"github.com/trobanga/pacsbatch/internal/ui"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run only the local storage listener",
	Long: `Accept inbound storage requests and place every received instance under
the output directory, without sending any request.

Files are staged in <output>/tmp and moved to the configured layout by a pool
of placement workers, optionally after de-identification. CTRL-C stops the
listener after every staged file has been placed.

Example:
  pacsbatch serve --local-ae PACSBATCH --local-port 11112 --output ./incoming`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&onMissingTool, "on-missing-tool", pipeline.DecisionAsk, "what to do when the anonymizer is missing: ask, continue or exit")
	_ = serveCmd.RegisterFlagCompletionFunc("on-missing-tool", fixedCompletion(pipeline.DecisionAsk, pipeline.DecisionContinue, pipeline.DecisionExit))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer logger.Sync()

	provider, err := openProvider(cfg)
	if err != nil {
		return err
	}
	m, stopMetrics := startMetrics(cfg, logger)
	defer stopMetrics()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	runner := pipeline.NewRunner(*cfg, provider, pipeline.RunPolicy{
		OnMissingTool: onMissingTool,
		Prompter:      ui.NewPrompter(),
	}, logger, pipeline.WithRunnerMetrics(m))

	report, err := runner.Serve(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Received %d (%s), stored %d, not stored %d in %s\n",
		report.Received, ui.FormatBytes(report.Bytes), report.Placed, report.Failed, ui.FormatDuration(report.Elapsed))
	return nil
}
