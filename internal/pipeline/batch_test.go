package pipeline_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/pacsbatch/internal/dimse"
	"github.com/trobanga/pacsbatch/internal/dimse/dimsetest"
	"github.com/trobanga/pacsbatch/internal/lib"
	"github.com/trobanga/pacsbatch/internal/models"
	"github.com/trobanga/pacsbatch/internal/pipeline"
	"github.com/trobanga/pacsbatch/internal/services"
	"github.com/trobanga/pacsbatch/internal/ui"
)

const (
	testTimeout = 2 * time.Second
	testTick    = 5 * time.Millisecond
)

func batchConfig(t *testing.T, patients int) models.Config {
	t.Helper()
	cfg := models.DefaultConfig()
	cfg.Peer.AETitle = "PACS"
	cfg.Network.Provider = "test"
	cfg.Output.Directory = t.TempDir()
	cfg.Request.Elements = []string{"QueryRetrieveLevel=STUDY", "StudyInstanceUID="}
	cfg.Request.Workers = 2
	cfg.Session.MaxAttempts = 2
	cfg.Session.RetryDelay = 0
	cfg.Session.MaxRetryDelay = 0

	if patients > 0 {
		var b strings.Builder
		b.WriteString("PatientID\n")
		for i := 0; i < patients; i++ {
			fmt.Fprintf(&b, "P%03d\n", i)
		}
		cfg.Request.VariationFile = writeFile(t, "patients.csv", b.String())
	}
	return cfg
}

func newRunner(cfg models.Config, provider dimse.Provider, policy pipeline.RunPolicy) (*pipeline.Runner, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return pipeline.NewRunner(cfg, provider, policy, lib.NopLogger(), pipeline.WithOutput(out, &bytes.Buffer{})), out
}

func ledgerCounts(t *testing.T, cfg models.Config) services.LedgerCounts {
	t.Helper()
	counts, err := services.NewLedger(cfg.Output.Directory, lib.NopLogger()).Counts()
	require.NoError(t, err)
	return counts
}

func TestRunner_FreshQueryBatch(t *testing.T) {
	cfg := batchConfig(t, 6)
	provider := &dimsetest.Provider{
		QueryFunc: func(identifier *dimse.Dataset, _ dimse.Model) []dimse.Response {
			patient, _ := identifier.Value(dimse.MustParsePath("PatientID").Tag())
			return []dimse.Response{
				dimsetest.Pending(dimsetest.Dataset("PatientID", patient, "StudyInstanceUID", "1.2."+patient)),
				dimsetest.Final(dimse.StatusSuccess),
			}
		},
	}
	runner, out := newRunner(cfg, provider, pipeline.RunPolicy{})

	result, err := runner.Batch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, result.Planned)
	assert.Equal(t, int64(6), result.Summary.Succeeded)
	assert.Equal(t, services.LedgerCounts{Whole: 6, Completed: 6}, result.Ledger)
	assert.Nil(t, result.Ingest)
	assert.Contains(t, out.String(), "press CTRL-C")
	assert.Equal(t, 2, provider.Sessions())

	header, rows, err := services.ReadTable(cfg.Output.ResultsPath())
	require.NoError(t, err)
	assert.Equal(t, []string{"PatientID", "QueryRetrieveLevel", "StudyInstanceUID"}, header)
	assert.Len(t, rows, 6)
}

func TestRunner_CompletedRunCancelsOrOverwrites(t *testing.T) {
	cfg := batchConfig(t, 3)
	provider := &dimsetest.Provider{}
	runner, _ := newRunner(cfg, provider, pipeline.RunPolicy{})
	_, err := runner.Batch(context.Background())
	require.NoError(t, err)

	prompter := &ui.ScriptedPrompter{Answers: []string{pipeline.DecisionCancel}}
	runner, out := newRunner(cfg, provider, pipeline.RunPolicy{Prompter: prompter})
	result, err := runner.Batch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Planned)
	assert.Contains(t, out.String(), "No further requests pending")
	require.Len(t, prompter.Asked, 1)
	assert.Contains(t, prompter.Asked[0], "completed extraction")
	assert.Len(t, provider.Calls(), 3)

	runner, _ = newRunner(cfg, provider, pipeline.RunPolicy{OnPriorRun: pipeline.DecisionOverwrite})
	result, err = runner.Batch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Planned)
	assert.Equal(t, services.LedgerCounts{Whole: 3, Completed: 3}, result.Ledger)
	assert.Len(t, provider.Calls(), 6)
}

func TestRunner_ResumesPartialRun(t *testing.T) {
	cfg := batchConfig(t, 10)
	cfg.Request.Workers = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exchanges := 0
	interrupting := &dimsetest.Provider{
		BeforeExchange: func(dimsetest.Call) {
			exchanges++
			if exchanges == 4 {
				cancel()
			}
		},
	}
	runner, out := newRunner(cfg, interrupting, pipeline.RunPolicy{})
	result, err := runner.Batch(ctx)
	require.NoError(t, err)
	assert.True(t, result.Summary.Interrupted)
	assert.Equal(t, 6, result.Ledger.Pending)
	assert.Contains(t, out.String(), "Extraction interrupted")

	provider := &dimsetest.Provider{}
	runner, _ = newRunner(cfg, provider, pipeline.RunPolicy{OnPriorRun: pipeline.DecisionResume})
	result, err = runner.Batch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, result.Planned)
	assert.Len(t, provider.Calls(), 6)
	assert.Equal(t, services.LedgerCounts{Whole: 10, Completed: 10}, ledgerCounts(t, cfg))
}

func TestRunner_RetriesFailedRequests(t *testing.T) {
	cfg := batchConfig(t, 4)
	failing := &dimsetest.Provider{
		QueryFunc: func(identifier *dimse.Dataset, _ dimse.Model) []dimse.Response {
			patient, _ := identifier.Value(dimse.MustParsePath("PatientID").Tag())
			if patient == "P001" || patient == "P003" {
				return []dimse.Response{dimsetest.Final(dimse.StatusOutOfResources)}
			}
			return []dimse.Response{dimsetest.Final(dimse.StatusSuccess)}
		},
	}
	runner, out := newRunner(cfg, failing, pipeline.RunPolicy{})
	result, err := runner.Batch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Ledger.Failed)
	assert.Contains(t, out.String(), "2 request(s) failed")

	provider := &dimsetest.Provider{}
	prompter := &ui.ScriptedPrompter{Answers: []string{pipeline.DecisionRetry}}
	runner, _ = newRunner(cfg, provider, pipeline.RunPolicy{Prompter: prompter})
	result, err = runner.Batch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Planned)
	require.Len(t, provider.Calls(), 2)
	for _, c := range provider.Calls() {
		patient, _ := c.Identifier.Value(dimse.MustParsePath("PatientID").Tag())
		assert.Contains(t, []string{"P001", "P003"}, patient)
	}
	assert.Equal(t, services.LedgerCounts{Whole: 4, Completed: 4}, ledgerCounts(t, cfg))
}

func TestRunner_DropFailuresResumesPending(t *testing.T) {
	cfg := batchConfig(t, 2)
	failing := &dimsetest.Provider{
		QueryFunc: func(*dimse.Dataset, dimse.Model) []dimse.Response {
			return []dimse.Response{dimsetest.Final(dimse.StatusRefused)}
		},
	}
	runner, _ := newRunner(cfg, failing, pipeline.RunPolicy{})
	_, err := runner.Batch(context.Background())
	require.NoError(t, err)

	provider := &dimsetest.Provider{}
	runner, out := newRunner(cfg, provider, pipeline.RunPolicy{
		OnFailures: pipeline.DecisionDrop,
		OnPriorRun: pipeline.DecisionResume,
	})
	result, err := runner.Batch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Planned)
	assert.Empty(t, provider.Calls())
	assert.Contains(t, out.String(), "No further requests pending")
}

func TestRunner_NonInteractiveAskIsConfigError(t *testing.T) {
	cfg := batchConfig(t, 2)
	runner, _ := newRunner(cfg, &dimsetest.Provider{}, pipeline.RunPolicy{})
	_, err := runner.Batch(context.Background())
	require.NoError(t, err)

	runner, _ = newRunner(cfg, &dimsetest.Provider{}, pipeline.RunPolicy{Prompter: ui.NonInteractive{}})
	_, err = runner.Batch(context.Background())
	require.Error(t, err)
	assert.True(t, lib.IsCategory(err, lib.CategoryConfiguration))
	assert.Contains(t, err.Error(), "on-prior-run")
}

func TestRunner_InvalidPolicy(t *testing.T) {
	cfg := batchConfig(t, 0)
	runner, _ := newRunner(cfg, &dimsetest.Provider{}, pipeline.RunPolicy{OnPriorRun: "sometimes"})
	_, err := runner.Batch(context.Background())
	require.Error(t, err)
	assert.True(t, lib.IsCategory(err, lib.CategoryConfiguration))
}

func TestRunner_RetrieveRunsIngest(t *testing.T) {
	cfg := batchConfig(t, 0)
	cfg.Request.Kind = string(models.KindRetrieve)
	cfg.Request.Elements = []string{"QueryRetrieveLevel=STUDY", "StudyInstanceUID=1.2.3"}

	provider := &dimsetest.Provider{}
	provider.RetrieveFunc = func(_ *dimse.Dataset, destinationAE string, _ dimse.Model) []dimse.Response {
		status := provider.Deliver(dimsetest.NewEvent(instance("p1", "1.2.3", "se1", "1.2.3.4")))
		if status != dimse.StatusSuccess || destinationAE != "PACSBATCH" {
			return []dimse.Response{dimsetest.Final(dimse.StatusRefused)}
		}
		return []dimse.Response{dimsetest.Final(dimse.StatusSuccess)}
	}
	runner, _ := newRunner(cfg, provider, pipeline.RunPolicy{})

	result, err := runner.Batch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Summary.Succeeded)
	require.NotNil(t, result.Ingest)
	assert.Equal(t, int64(1), result.Ingest.Placed)
	assert.False(t, provider.Listening())
	assert.FileExists(t, filepath.Join(cfg.Output.Directory, "p1", "1.2.3", "se1", "1.2.3.4.dcm"))

	_, rows, err := services.ReadTable(cfg.Output.ResultsPath())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"STUDY", "1.2.3", "0x0000"}}, rows)
}

func TestRunner_MissingToolExits(t *testing.T) {
	cfg := batchConfig(t, 0)
	cfg.Request.Kind = string(models.KindRetrieve)
	cfg.Anonymization.Enabled = true
	cfg.Anonymization.Java = "definitely-not-a-java-binary"
	cfg.Anonymization.ToolDir = t.TempDir()

	provider := &dimsetest.Provider{}
	runner, _ := newRunner(cfg, provider, pipeline.RunPolicy{OnMissingTool: pipeline.DecisionExit})
	_, err := runner.Batch(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrCancelled)
	assert.Empty(t, provider.Calls())

	runner, out := newRunner(cfg, provider, pipeline.RunPolicy{
		OnMissingTool: pipeline.DecisionContinue,
		OnPriorRun:    pipeline.DecisionOverwrite,
	})
	result, err := runner.Batch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Planned)
	assert.Contains(t, out.String(), "Continuing without anonymization")
}

func TestRunner_Echo(t *testing.T) {
	cfg := batchConfig(t, 0)

	provider := &dimsetest.Provider{}
	runner, _ := newRunner(cfg, provider, pipeline.RunPolicy{})
	status, err := runner.Echo(context.Background())
	require.NoError(t, err)
	assert.True(t, status.IsSuccess())
	assert.Equal(t, 1, provider.Released())

	runner, _ = newRunner(cfg, &dimsetest.Provider{VerifyStatus: dimse.NewStatus(0x0122)}, pipeline.RunPolicy{})
	status, err = runner.Echo(context.Background())
	require.Error(t, err)
	assert.Equal(t, "0x0122", status.String())

	runner, _ = newRunner(cfg, &dimsetest.Provider{EstablishFailures: 5}, pipeline.RunPolicy{})
	_, err = runner.Echo(context.Background())
	require.Error(t, err)
	assert.True(t, lib.IsCategory(err, lib.CategorySession))
}

func TestRunner_Serve(t *testing.T) {
	cfg := batchConfig(t, 0)
	provider := &dimsetest.Provider{}
	runner, out := newRunner(cfg, provider, pipeline.RunPolicy{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var report pipeline.IngestReport
	var serveErr error
	go func() {
		defer close(done)
		report, serveErr = runner.Serve(ctx)
	}()

	require.Eventually(t, provider.Listening, testTimeout, testTick)
	assert.Equal(t, dimse.StatusSuccess, provider.Deliver(dimsetest.NewEvent(instance("p9", "s9", "se9", "9.9"))))
	cancel()
	<-done

	require.NoError(t, serveErr)
	assert.Equal(t, int64(1), report.Placed)
	assert.Contains(t, out.String(), "listening on port 11112")
	_, err := os.Stat(filepath.Join(cfg.Output.Directory, "p9", "s9", "se9", "9.9.dcm"))
	assert.NoError(t, err)
}
