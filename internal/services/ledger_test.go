package services_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/pacsbatch/internal/dimse"
	"github.com/trobanga/pacsbatch/internal/lib"
	"github.com/trobanga/pacsbatch/internal/models"
	"github.com/trobanga/pacsbatch/internal/services"
)

func workList(n int) []models.Request {
	out := make([]models.Request, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.Request{
			Elements:      []string{"QueryRetrieveLevel=STUDY", fmt.Sprintf("PatientID=%03d", i), "StudyInstanceUID="},
			Kind:          models.KindQuery,
			Model:         dimse.ModelStudyRoot,
			ThrottleDelay: 250 * time.Millisecond,
			Workers:       2,
		})
	}
	return out
}

func keys(records []models.Request) []services.RecordKey {
	out := make([]services.RecordKey, 0, len(records))
	for _, r := range records {
		out = append(out, services.KeyOf(r))
	}
	return out
}

func TestLedger_FreshPendingEqualsWork(t *testing.T) {
	dir := t.TempDir()
	ledger := services.NewLedger(dir, lib.NopLogger())
	work := workList(5)

	assert.False(t, ledger.HasPriorRun())
	require.NoError(t, ledger.Initialize(work))
	assert.True(t, ledger.HasPriorRun())
	assert.False(t, ledger.HasFailures())

	pending, err := ledger.PendingWorkList()
	require.NoError(t, err)
	assert.Equal(t, keys(work), keys(pending))
}

func TestLedger_RecordOutcomeIsDisjoint(t *testing.T) {
	dir := t.TempDir()
	ledger := services.NewLedger(dir, lib.NopLogger())
	work := workList(2)
	require.NoError(t, ledger.Initialize(work))

	require.NoError(t, ledger.RecordOutcome(work[0], true))
	require.NoError(t, ledger.RecordOutcome(work[1], false))
	// second outcome for an already recorded record is ignored
	require.NoError(t, ledger.RecordOutcome(work[0], false))

	completed, err := ledger.Completed()
	require.NoError(t, err)
	failed, err := ledger.Failed()
	require.NoError(t, err)

	assert.Equal(t, keys(work[:1]), keys(completed))
	assert.Equal(t, keys(work[1:]), keys(failed))
	assert.True(t, ledger.HasFailures())
}

func TestLedger_InterruptedRunResumes(t *testing.T) {
	dir := t.TempDir()
	work := workList(100)

	first := services.NewLedger(dir, lib.NopLogger())
	require.NoError(t, first.Initialize(work))
	for i, r := range work[:40] {
		require.NoError(t, first.RecordOutcome(r, i%4 != 0))
	}

	// A new process reads the same directory
	second := services.NewLedger(dir, lib.NopLogger())
	pending, err := second.PendingWorkList()
	require.NoError(t, err)
	require.Len(t, pending, 60)

	done := services.NewRecordSet(work[:40])
	for _, r := range pending {
		assert.False(t, done.Contains(r))
	}
	assert.Equal(t, keys(work[40:]), keys(pending))

	again, err := second.PendingWorkList()
	require.NoError(t, err)
	assert.Equal(t, keys(pending), keys(again), "pending is idempotent")

	counts, err := second.Counts()
	require.NoError(t, err)
	assert.Equal(t, services.LedgerCounts{Whole: 100, Completed: 30, Failed: 10, Pending: 60}, counts)
}

func TestLedger_ElementOrderDoesNotMatter(t *testing.T) {
	dir := t.TempDir()
	ledger := services.NewLedger(dir, lib.NopLogger())

	r := models.Request{Elements: []string{"PatientID=1", "QueryRetrieveLevel=STUDY"}, Kind: models.KindQuery, Model: dimse.ModelStudyRoot, Workers: 1}
	require.NoError(t, ledger.Initialize([]models.Request{r}))

	reordered := r
	reordered.Elements = []string{"QueryRetrieveLevel=STUDY", "PatientID=1"}
	require.NoError(t, ledger.RecordOutcome(reordered, true))

	pending, err := ledger.PendingWorkList()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLedger_FailedWorkListAndClear(t *testing.T) {
	dir := t.TempDir()
	ledger := services.NewLedger(dir, lib.NopLogger())
	work := workList(3)
	require.NoError(t, ledger.Initialize(work))
	require.NoError(t, ledger.RecordOutcome(work[0], false))
	require.NoError(t, ledger.RecordOutcome(work[2], false))

	failed, err := ledger.FailedWorkList()
	require.NoError(t, err)
	assert.Equal(t, keys([]models.Request{work[0], work[2]}), keys(failed))

	require.NoError(t, ledger.ClearFailed())
	assert.False(t, ledger.HasFailures())
	_, err = os.Stat(filepath.Join(dir, services.FailedFileName))
	assert.True(t, os.IsNotExist(err))

	// retried records can be recorded again
	require.NoError(t, ledger.RecordOutcome(work[0], true))
	pending, err := ledger.PendingWorkList()
	require.NoError(t, err)
	assert.Equal(t, keys(work[1:]), keys(pending))
}

func TestLedger_InitializeDiscardsPriorLogs(t *testing.T) {
	dir := t.TempDir()
	ledger := services.NewLedger(dir, lib.NopLogger())
	work := workList(2)
	require.NoError(t, ledger.Initialize(work))
	require.NoError(t, ledger.RecordOutcome(work[0], true))
	require.NoError(t, ledger.RecordOutcome(work[1], false))

	require.NoError(t, ledger.Initialize(work))
	counts, err := ledger.Counts()
	require.NoError(t, err)
	assert.Equal(t, services.LedgerCounts{Whole: 2, Pending: 2}, counts)
}

func TestLedger_ConcurrentAppends(t *testing.T) {
	dir := t.TempDir()
	ledger := services.NewLedger(dir, lib.NopLogger())
	work := workList(200)
	require.NoError(t, ledger.Initialize(work))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < len(work); i += 8 {
				assert.NoError(t, ledger.RecordOutcome(work[i], i%2 == 0))
			}
		}(w)
	}
	wg.Wait()

	counts, err := ledger.Counts()
	require.NoError(t, err)
	assert.Equal(t, 100, counts.Completed)
	assert.Equal(t, 100, counts.Failed)
	assert.Zero(t, counts.Pending)
}

func TestLedger_RoundTripPreservesFields(t *testing.T) {
	dir := t.TempDir()
	ledger := services.NewLedger(dir, lib.NopLogger())
	r := models.Request{
		Elements:      []string{"PatientName=DOE^JANE", "StudyDescription=a,b \"quoted\""},
		Kind:          models.KindRetrieve,
		Model:         dimse.ModelPatientRoot,
		ThrottleDelay: 1500 * time.Millisecond,
		Workers:       4,
	}
	require.NoError(t, ledger.Initialize([]models.Request{r}))

	whole, err := ledger.Whole()
	require.NoError(t, err)
	require.Len(t, whole, 1)
	assert.Equal(t, r.Canonical(), whole[0])
}

func TestLedger_CorruptedWhole(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, services.WholeFileName)
	require.NoError(t, os.WriteFile(path, []byte("elements,kind,model,throttle_delay,workers\n[],nonsense,study,0s,1\n"), 0644))

	ledger := services.NewLedger(dir, lib.NopLogger())
	_, err := ledger.PendingWorkList()
	require.Error(t, err)
	assert.True(t, lib.IsCategory(err, lib.CategoryState))
}

func TestLedger_MissingLogsAreEmpty(t *testing.T) {
	ledger := services.NewLedger(t.TempDir(), lib.NopLogger())
	pending, err := ledger.PendingWorkList()
	require.NoError(t, err)
	assert.Empty(t, pending)
}
