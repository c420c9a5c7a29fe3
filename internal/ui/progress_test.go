package ui_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/pacsbatch/internal/ui"
)

func TestProgressBar_Percentage(t *testing.T) {
	var buf bytes.Buffer
	bar := ui.NewProgressBarWithWriter(100, "Sending", &buf)

	require.NoError(t, bar.Add(25))
	assert.Equal(t, 25.0, bar.GetPercentage())
	assert.Equal(t, int64(25), bar.Current())

	require.NoError(t, bar.Set(50))
	assert.Equal(t, 50.0, bar.GetPercentage())

	bar.SetTotal(200)
	assert.Equal(t, 25.0, bar.GetPercentage())
}

func TestProgressBar_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	bar := ui.NewProgressBarWithWriter(0, "Empty", &buf)
	assert.Equal(t, 0.0, bar.GetPercentage())
}

func TestProgressBar_Describe(t *testing.T) {
	var buf bytes.Buffer
	bar := ui.NewProgressBarWithWriter(10, "Sending", &buf)

	bar.Describe("Extraction PAUSED")
	assert.Equal(t, "Extraction PAUSED", bar.Description())
}

func TestProgressBar_ConcurrentAdd(t *testing.T) {
	var buf bytes.Buffer
	bar := ui.NewProgressBarWithWriter(400, "Sending", &buf)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = bar.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(400), bar.Current())
}

func TestProgressBar_NilIsNoop(t *testing.T) {
	var bar *ui.ProgressBar

	assert.NoError(t, bar.Add(1))
	assert.NoError(t, bar.Set(1))
	bar.SetTotal(5)
	bar.Describe("x")
	assert.Equal(t, "", bar.Description())
	assert.Equal(t, 0.0, bar.GetPercentage())
	assert.NoError(t, bar.Finish())
	assert.NoError(t, bar.Clear())
}

func TestSpinner(t *testing.T) {
	var buf bytes.Buffer
	spinner := ui.NewSpinnerWithWriter("Verifying ARCHIVE@pacs:104", &buf)

	spinner.Start()
	assert.True(t, spinner.IsActive())
	spinner.Stop(true)
	assert.False(t, spinner.IsActive())

	out := buf.String()
	assert.Contains(t, out, "Verifying ARCHIVE@pacs:104...")
	assert.Contains(t, out, "✓ Verifying ARCHIVE@pacs:104 (completed in")

	buf.Reset()
	spinner.Start()
	spinner.Stop(false)
	assert.Contains(t, buf.String(), "✗ Verifying ARCHIVE@pacs:104 (failed after")
}
