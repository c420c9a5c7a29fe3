package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/trobanga/pacsbatch/internal/lib"
	"github.com/trobanga/pacsbatch/internal/services"
)

// execute runs the root command with args and returns its standard output
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestWriteStatus_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeStatus(&buf, "text", statusReport{
		Directory: "/data/out",
		PriorRun:  true,
		Counts:    services.LedgerCounts{Whole: 10, Completed: 7, Failed: 1, Pending: 2},
	}))
	out := buf.String()
	assert.Contains(t, out, "Output directory: /data/out")
	assert.Contains(t, out, "Pending:   2")
	assert.NotContains(t, out, "Extraction complete")

	buf.Reset()
	require.NoError(t, writeStatus(&buf, "text", statusReport{Directory: "/data/empty"}))
	assert.Equal(t, "No extraction found in /data/empty\n", buf.String())
}

func TestWriteStatus_YAML(t *testing.T) {
	var buf bytes.Buffer
	want := statusReport{
		Directory: "/data/out",
		PriorRun:  true,
		Counts:    services.LedgerCounts{Whole: 3, Completed: 3},
	}
	require.NoError(t, writeStatus(&buf, "yaml", want))

	var got statusReport
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, want, got)
	assert.Contains(t, buf.String(), "completed: 3")
}

func TestCommandsAreRegistered(t *testing.T) {
	for _, name := range []string{"run", "serve", "echo", "status", "completion"} {
		c, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}

	for _, flag := range []string{"on-prior-run", "on-failures", "on-missing-tool", "element", "variation-file"} {
		assert.NotNil(t, runCmd.Flags().Lookup(flag), flag)
	}
}

func TestStatus_WorksWithoutConfigFile(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "status", "--output", dir, "--format", "text")
	require.NoError(t, err)
	assert.Equal(t, "No extraction found in "+dir+"\n", out)
}

func TestStatus_ReportsRunInProgress(t *testing.T) {
	dir := t.TempDir()
	lock, err := services.AcquireOutputLock(dir, lib.NopLogger())
	require.NoError(t, err)
	defer lock.Release()

	out, err := execute(t, "status", "--output", dir, "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "A run is in progress in "+dir)
}

func TestEcho_NeedsProvider(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	_, err := execute(t, "echo", "--output", dir, "--peer-ae", "ARCHIVE")
	require.Error(t, err)
	assert.True(t, lib.IsCategory(err, lib.CategoryConfiguration))
	assert.Contains(t, err.Error(), "network.provider")
}
