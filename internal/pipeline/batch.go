package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/trobanga/pacsbatch/internal/dimse"
	"github.com/trobanga/pacsbatch/internal/lib"
	"github.com/trobanga/pacsbatch/internal/metrics"
	"github.com/trobanga/pacsbatch/internal/models"
	"github.com/trobanga/pacsbatch/internal/services"
	"github.com/trobanga/pacsbatch/internal/ui"
)

// Decisions taken by the operator or by the policy flags
const (
	DecisionAsk       = "ask"
	DecisionResume    = "resume"
	DecisionOverwrite = "overwrite"
	DecisionCancel    = "cancel"
	DecisionRetry     = "retry"
	DecisionDrop      = "drop"
	DecisionContinue  = "continue"
	DecisionExit      = "exit"
)

// ErrCancelled is returned when the operator chooses to stop before anything is sent
var ErrCancelled = errors.New("cancelled by operator")

// RunPolicy decides what to do about prior runs, failed requests and missing tools.
// A decision of "ask" (or empty) prompts the operator.
type RunPolicy struct {
	OnPriorRun    string
	OnFailures    string
	OnMissingTool string
	Prompter      ui.Prompter
}

// Validate checks the decision values
func (p RunPolicy) Validate() error {
	checks := []struct {
		flag    string
		value   string
		allowed []string
	}{
		{"on-prior-run", p.OnPriorRun, []string{DecisionResume, DecisionOverwrite}},
		{"on-failures", p.OnFailures, []string{DecisionRetry, DecisionDrop}},
		{"on-missing-tool", p.OnMissingTool, []string{DecisionContinue, DecisionExit}},
	}
	for _, c := range checks {
		if c.value == "" || c.value == DecisionAsk {
			continue
		}
		valid := false
		for _, a := range c.allowed {
			if c.value == a {
				valid = true
			}
		}
		if !valid {
			return lib.ErrConfig(c.flag, fmt.Sprintf("--%s must be ask or one of %v, got %q", c.flag, c.allowed, c.value))
		}
	}
	return nil
}

func (p RunPolicy) decide(flag, setting, title string, choices ...ui.Choice) (string, error) {
	if setting != "" && setting != DecisionAsk {
		return setting, nil
	}
	prompter := p.Prompter
	if prompter == nil {
		prompter = ui.NonInteractive{}
	}

	answer, err := prompter.Select(title, choices)
	if errors.Is(err, ui.ErrNotInteractive) {
		return "", lib.ErrConfig(flag, fmt.Sprintf("%s (pass --%s when running without a terminal)", title, flag))
	}
	if errors.Is(err, ui.ErrAborted) {
		return "", ErrCancelled
	}
	return answer, err
}

// Runner executes batches, the storage server and verification against one configuration
type Runner struct {
	cfg      models.Config
	provider dimse.Provider
	policy   RunPolicy
	metrics  *metrics.Metrics
	logger   *lib.Logger
	out      io.Writer
	progress io.Writer
	command  services.CommandRunner
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithOutput sets where operator messages and progress bars are written
func WithOutput(messages, progress io.Writer) RunnerOption {
	return func(r *Runner) {
		r.out = messages
		r.progress = progress
	}
}

// WithRunnerMetrics records batch and ingest metrics into m
func WithRunnerMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithCommandRunner replaces the subprocess runner of the anonymizer
func WithCommandRunner(c services.CommandRunner) RunnerOption {
	return func(r *Runner) { r.command = c }
}

// NewRunner creates a runner for cfg
func NewRunner(cfg models.Config, provider dimse.Provider, policy RunPolicy, logger *lib.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:      cfg,
		provider: provider,
		policy:   policy,
		logger:   logger,
		out:      os.Stdout,
		progress: os.Stderr,
		command:  services.ExecRunner,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BatchResult describes a finished, interrupted or skipped batch
type BatchResult struct {
	// Planned is the number of requests dispatched by this run
	Planned int
	Summary Summary
	Ledger  services.LedgerCounts
	Ingest  *IngestReport
}

// Batch plans the work list from the ledger and the template, dispatches it and reports.
// The output directory is locked for the duration of the run.
func (r *Runner) Batch(ctx context.Context) (BatchResult, error) {
	if err := r.policy.Validate(); err != nil {
		return BatchResult{}, err
	}
	if err := r.cfg.RequirePeer(); err != nil {
		return BatchResult{}, lib.ErrConfig("peer.ae_title", err.Error())
	}
	template, err := r.cfg.Request.Template()
	if err != nil {
		return BatchResult{}, lib.ErrConfig("request", err.Error())
	}
	if err := template.Validate(); err != nil {
		return BatchResult{}, lib.ErrConfig("request", err.Error())
	}

	dir := r.cfg.Output.Directory
	if err := os.MkdirAll(dir, 0755); err != nil {
		return BatchResult{}, lib.WrapError(lib.CategoryState, "failed to create output directory", err)
	}

	var result BatchResult
	err = services.WithOutputLock(dir, r.logger, func() error {
		var runErr error
		result, runErr = r.batch(ctx, template)
		return runErr
	})
	return result, err
}

func (r *Runner) batch(ctx context.Context, template models.Request) (BatchResult, error) {
	ledger := services.NewLedger(r.cfg.Output.Directory, r.logger)

	work, err := r.plan(ledger, template)
	if err != nil {
		return BatchResult{}, err
	}
	result := BatchResult{Planned: len(work)}
	if len(work) == 0 {
		fmt.Fprintln(r.out, "No further requests pending")
		result.Ledger, err = ledger.Counts()
		return result, err
	}

	var ingest *Ingest
	if template.Kind == models.KindRetrieve {
		if ingest, err = r.newIngest(); err != nil {
			return result, err
		}
		if err := ingest.Start(ctx); err != nil {
			return result, err
		}
	}

	schedule, err := NewSchedule(r.cfg.Schedule, template.Kind)
	if err != nil {
		return result, r.stopIngest(ingest, &result, err)
	}

	bar := ui.NewProgressBarWithWriter(int64(len(work)), fmt.Sprintf("Sending %s requests", template.Kind), r.progress)
	classifier := NewClassifier(ledger, r.cfg.Output.ResultsPath(), r.cfg.Local.AETitle, r.metrics, r.logger)
	pool := NewPool(r.provider, r.cfg.PeerAddress(), classifier, lib.NewBackoffPolicyFromModel(r.cfg.Session), r.logger,
		WithSchedule(schedule),
		WithMaxRate(r.cfg.Request.MaxRate),
		WithProgress(bar),
		WithMetrics(r.metrics),
	)

	fmt.Fprintln(r.out, "To stop extraction, press CTRL-C. Extraction can be resumed at a later time.")
	lib.LogBatchStart(r.logger, string(template.Kind), len(work), template.Workers)

	summary, runErr := pool.Run(ctx, work, template.Workers)
	_ = bar.Finish()
	fmt.Fprintln(r.progress)
	result.Summary = summary
	lib.LogBatchComplete(r.logger, string(template.Kind), summary.Succeeded, summary.Failed, summary.Duration)

	runErr = r.stopIngest(ingest, &result, runErr)

	counts, err := ledger.Counts()
	if err != nil && runErr == nil {
		runErr = err
	}
	result.Ledger = counts

	switch {
	case summary.Interrupted:
		fmt.Fprintln(r.out, "Extraction interrupted. Failed requests will be detected on the next run,")
		fmt.Fprintln(r.out, "and re-running with the same output directory resumes where this run stopped.")
	case runErr == nil && counts.Failed > 0:
		fmt.Fprintf(r.out, "%d request(s) failed. Run again to re-try the failed requests.\n", counts.Failed)
	}
	return result, runErr
}

// plan returns the work list for this run, asking about prior runs when there is one
func (r *Runner) plan(ledger *services.Ledger, template models.Request) ([]models.Request, error) {
	if !ledger.HasPriorRun() {
		return r.fresh(ledger, template)
	}

	if ledger.HasFailures() {
		decision, err := r.policy.decide("on-failures", r.policy.OnFailures,
			"Failed requests from a previous extraction were detected. Do you want to re-try the failed requests?",
			ui.Choice{Label: "Re-try failed requests", Value: DecisionRetry},
			ui.Choice{Label: "Remove failed requests", Value: DecisionDrop},
		)
		if err != nil {
			return nil, err
		}
		if decision == DecisionRetry {
			work, err := ledger.FailedWorkList()
			if err != nil {
				return nil, err
			}
			if err := ledger.ClearFailed(); err != nil {
				return nil, err
			}
			r.logger.Info("Re-trying failed requests", "requests", len(work))
			return work, nil
		}
	}

	pending, err := ledger.PendingWorkList()
	if err != nil {
		return nil, err
	}

	var decision string
	if len(pending) > 0 {
		decision, err = r.policy.decide("on-prior-run", r.policy.OnPriorRun,
			"A partial extraction was detected. Do you want to resume or overwrite?",
			ui.Choice{Label: "Resume", Value: DecisionResume},
			ui.Choice{Label: "Overwrite", Value: DecisionOverwrite},
		)
	} else {
		decision, err = r.policy.decide("on-prior-run", r.policy.OnPriorRun,
			"A completed extraction was detected. Do you want to overwrite?",
			ui.Choice{Label: "Cancel", Value: DecisionCancel},
			ui.Choice{Label: "Overwrite", Value: DecisionOverwrite},
		)
	}
	if err != nil {
		return nil, err
	}

	switch decision {
	case DecisionOverwrite:
		return r.fresh(ledger, template)
	case DecisionCancel:
		return nil, nil
	default:
		r.logger.Info("Resuming prior run", "pending", len(pending))
		return pending, nil
	}
}

func (r *Runner) fresh(ledger *services.Ledger, template models.Request) ([]models.Request, error) {
	work, err := ExpandRequests(template, r.cfg.Request.VariationFile)
	if err != nil {
		return nil, err
	}
	if err := ledger.Initialize(work); err != nil {
		return nil, err
	}
	if err := os.Remove(r.cfg.Output.ResultsPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, lib.WrapError(lib.CategoryState, "failed to remove prior result table", err)
	}
	return work, nil
}

func (r *Runner) stopIngest(ingest *Ingest, result *BatchResult, runErr error) error {
	if ingest == nil {
		return runErr
	}
	report, err := ingest.Stop()
	result.Ingest = &report
	if runErr != nil {
		return runErr
	}
	return err
}

// Serve runs the storage listener until ctx is cancelled, then drains and reports
func (r *Runner) Serve(ctx context.Context) (IngestReport, error) {
	if err := r.policy.Validate(); err != nil {
		return IngestReport{}, err
	}
	if err := os.MkdirAll(r.cfg.Output.Directory, 0755); err != nil {
		return IngestReport{}, lib.WrapError(lib.CategoryState, "failed to create output directory", err)
	}

	ingest, err := r.newIngest()
	if err != nil {
		return IngestReport{}, err
	}
	if err := ingest.Start(ctx); err != nil {
		return IngestReport{}, err
	}
	fmt.Fprintf(r.out, "Storage server %s listening on port %d. Press CTRL-C to stop.\n", r.cfg.Local.AETitle, r.cfg.Local.Port)

	<-ctx.Done()
	return ingest.Stop()
}

// Echo sends one verification request to the peer
func (r *Runner) Echo(ctx context.Context) (*dimse.Status, error) {
	if err := r.cfg.RequirePeer(); err != nil {
		return nil, lib.ErrConfig("peer.ae_title", err.Error())
	}
	pool := NewPool(r.provider, r.cfg.PeerAddress(), nil, lib.NewBackoffPolicyFromModel(r.cfg.Session), r.logger)
	session, err := pool.establish(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = session.Release() }()

	status, err := session.Verify(ctx)
	if err != nil {
		return nil, lib.WrapError(lib.CategorySession, "verification failed", err)
	}
	if !status.IsSuccess() {
		return status, lib.ErrOperationFailed(string(models.KindVerify), status.String())
	}
	return status, nil
}

func (r *Runner) newIngest() (*Ingest, error) {
	layout, err := NewLayout(r.cfg.Output.Directory, r.cfg.Output.DirectoryStructure, r.cfg.Output.Filename)
	if err != nil {
		return nil, err
	}
	anonymizer, err := r.prepareAnonymizer()
	if err != nil {
		return nil, err
	}

	return NewIngest(r.provider, IngestOptions{
		Listen: dimse.ListenConfig{
			AETitle:          r.cfg.Local.AETitle,
			Port:             r.cfg.Local.Port,
			TransferSyntaxes: dimse.SupportedTransferSyntaxes,
		},
		StagingDir: r.cfg.Output.StagingDir(),
		Layout:     layout,
		Workers:    r.cfg.IngestWorkers(),
		Decompress: r.cfg.Output.Decompress,
		Anonymizer: anonymizer,
		Out:        r.progress,
	}, r.metrics, r.logger), nil
}

// prepareAnonymizer checks the de-identification tool. Missing pieces degrade the feature
// after the operator (or --on-missing-tool) agrees to continue.
func (r *Runner) prepareAnonymizer() (*services.Anonymizer, error) {
	cfg := r.cfg.Anonymization
	if !cfg.Enabled {
		return nil, nil
	}

	check := services.CheckAnonymizer(cfg)
	for _, problem := range check.Problems() {
		r.logger.Warn("De-identification tool check failed", "error", problem)
	}

	if check.ToolMissing() {
		title := "The DICOM anonymizer tool was not found. Do you still want to proceed?"
		if !check.JavaMissing && !check.JarMissing {
			title = "Anonymization script not found. Do you still want to proceed?"
		}
		decision, err := r.policy.decide("on-missing-tool", r.policy.OnMissingTool, title,
			ui.Choice{Label: "Continue without anonymization", Value: DecisionContinue},
			ui.Choice{Label: "Exit", Value: DecisionExit},
		)
		if err != nil {
			return nil, err
		}
		if decision == DecisionExit {
			return nil, ErrCancelled
		}
		fmt.Fprintln(r.out, "Continuing without anonymization")
		return nil, nil
	}

	anonymizer := services.NewAnonymizer(cfg, r.command, r.logger)
	if check.LUTMissing {
		decision, err := r.policy.decide("on-missing-tool", r.policy.OnMissingTool,
			"Anonymization look up table not found. Do you still want to proceed?",
			ui.Choice{Label: "Continue without look up table", Value: DecisionContinue},
			ui.Choice{Label: "Exit", Value: DecisionExit},
		)
		if err != nil {
			return nil, err
		}
		if decision == DecisionExit {
			return nil, ErrCancelled
		}
		return anonymizer.WithoutLookupTable(), nil
	}
	return anonymizer, nil
}
