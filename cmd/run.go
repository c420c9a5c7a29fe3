package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/trobanga/pacsbatch/internal/dimse"
	"github.com/trobanga/pacsbatch/internal/models"
	"github.com/trobanga/pacsbatch/internal/pipeline"
	"github.com/trobanga/pacsbatch/internal/ui"
)

var (
	onPriorRun    string
	onFailures    string
	onMissingTool string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch of requests",
	Long: `Expand the request template by the variation table and send every request
to the peer.

Outcomes are journaled in the output directory. When a previous run is found
there, pacsbatch asks whether to resume, overwrite or re-try the failed
requests. Without a terminal the answers must be given as flags:

  --on-prior-run    ask|resume|overwrite
  --on-failures     ask|retry|drop
  --on-missing-tool ask|continue|exit

Press CTRL-C to stop. The next run with the same output directory resumes
where this one stopped.

Examples:
  # Query studies of every patient listed in patients.csv
  pacsbatch run --kind query --element QueryRetrieveLevel=STUDY \
    --element StudyInstanceUID= --variation-file patients.csv

  # Retrieve with 4 parallel sessions, resuming unattended
  pacsbatch run --config retrieve.yaml --workers 4 --on-prior-run resume`,
	Args: cobra.NoArgs,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	flags.String("kind", "", "request kind: query, retrieve or verify")
	flags.String("model", "", "information model: patient, study, psonly or worklist")
	flags.StringArray("element", nil, "request attribute, Keyword=value or Keyword= to return it (repeatable)")
	flags.String("variation-file", "", "CSV table with one request variation per row")
	flags.Int("workers", 0, "number of parallel sessions")
	flags.Duration("throttle-delay", 0, "pause after every request of a session")
	flags.Float64("max-rate", 0, "maximum requests per second across all sessions (0 = unlimited)")
	flags.StringVar(&onPriorRun, "on-prior-run", pipeline.DecisionAsk, "what to do with a previous run: ask, resume or overwrite")
	flags.StringVar(&onFailures, "on-failures", pipeline.DecisionAsk, "what to do with failed requests: ask, retry or drop")
	flags.StringVar(&onMissingTool, "on-missing-tool", pipeline.DecisionAsk, "what to do when the anonymizer is missing: ask, continue or exit")

	_ = runCmd.RegisterFlagCompletionFunc("kind", fixedCompletion(
		string(models.KindQuery), string(models.KindRetrieve), string(models.KindVerify)))
	_ = runCmd.RegisterFlagCompletionFunc("model", fixedCompletion(
		string(dimse.ModelPatientRoot), string(dimse.ModelStudyRoot), string(dimse.ModelPatientStudyOnly), string(dimse.ModelWorklist)))
	_ = runCmd.RegisterFlagCompletionFunc("on-prior-run", fixedCompletion(pipeline.DecisionAsk, pipeline.DecisionResume, pipeline.DecisionOverwrite))
	_ = runCmd.RegisterFlagCompletionFunc("on-failures", fixedCompletion(pipeline.DecisionAsk, pipeline.DecisionRetry, pipeline.DecisionDrop))
	_ = runCmd.RegisterFlagCompletionFunc("on-missing-tool", fixedCompletion(pipeline.DecisionAsk, pipeline.DecisionContinue, pipeline.DecisionExit))
}

var runBindings = map[string]string{
	"request.kind":           "kind",
	"request.model":          "model",
	"request.elements":       "element",
	"request.variation_file": "variation-file",
	"request.workers":        "workers",
	"request.throttle_delay": "throttle-delay",
	"request.max_rate":       "max-rate",
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, runBindings)
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
		OnPriorRun:    onPriorRun,
		OnFailures:    onFailures,
		OnMissingTool: onMissingTool,
		Prompter:      ui.NewPrompter(),
	}, logger, pipeline.WithRunnerMetrics(m))

	result, err := runner.Batch(ctx)
	if errors.Is(err, pipeline.ErrCancelled) {
		fmt.Println("Cancelled, nothing was sent")
		return nil
	}
	if err != nil {
		return err
	}

	if result.Planned > 0 {
		fmt.Printf("\n✓ %d sent (%d succeeded, %d failed) in %s\n",
			result.Summary.Recorded(), result.Summary.Succeeded, result.Summary.Failed,
			ui.FormatDuration(result.Summary.Duration))
		if result.Ingest != nil {
			fmt.Printf("  Received: %d, stored: %d, not stored: %d\n",
				result.Ingest.Received, result.Ingest.Placed, result.Ingest.Failed)
		}
	}
	fmt.Printf("  Journal: %d total, %d completed, %d failed, %d pending\n",
		result.Ledger.Whole, result.Ledger.Completed, result.Ledger.Failed, result.Ledger.Pending)
	return nil
}
