package services_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/pacsbatch/internal/lib"
	"github.com/trobanga/pacsbatch/internal/models"
	"github.com/trobanga/pacsbatch/internal/services"
)

func toolDir(t *testing.T, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("x"), 0644))
	}
	return dir
}

func TestCheckAnonymizer(t *testing.T) {
	dir := toolDir(t, "DAT.jar", "anonymizer.script")
	cfg := models.AnonymizationConfig{
		Enabled:     true,
		Java:        "definitely-not-a-java-binary",
		ToolDir:     dir,
		Jar:         "DAT.jar",
		Script:      "anonymizer.script",
		LookupTable: "lut.properties",
	}

	check := services.CheckAnonymizer(cfg)
	assert.True(t, check.JavaMissing)
	assert.False(t, check.JarMissing)
	assert.False(t, check.ScriptMissing)
	assert.True(t, check.LUTMissing)
	assert.True(t, check.ToolMissing())

	problems := check.Problems()
	require.Len(t, problems, 2)
	for _, p := range problems {
		assert.True(t, lib.IsCategory(p, lib.CategoryExternalTool))
		assert.False(t, lib.IsFatal(p))
	}

	cfg.LookupTable = ""
	assert.False(t, services.CheckAnonymizer(cfg).LUTMissing, "no lookup table configured")
}

func TestAnonymizer_InvokesTool(t *testing.T) {
	dir := toolDir(t, "DAT.jar", "anonymizer.script", "lut.properties")
	cfg := models.AnonymizationConfig{
		Java:        "java",
		ToolDir:     dir,
		Jar:         "DAT.jar",
		Script:      "anonymizer.script",
		LookupTable: "lut.properties",
	}

	var gotDir, gotName string
	var gotArgs []string
	runner := func(_ context.Context, d string, name string, args ...string) ([]byte, error) {
		gotDir, gotName, gotArgs = d, name, args
		return nil, nil
	}

	anon := services.NewAnonymizer(cfg, runner, lib.NopLogger())
	staged := filepath.Join(t.TempDir(), "a.dcm")
	require.NoError(t, anon.Anonymize(context.Background(), staged))

	assert.Equal(t, dir, gotDir)
	assert.Equal(t, "java", gotName)
	assert.Equal(t, []string{
		"-jar", filepath.Join(dir, "DAT.jar"),
		"-da", filepath.Join(dir, "anonymizer.script"),
		"-lut", filepath.Join(dir, "lut.properties"),
		"-in", staged, "-out", staged,
	}, gotArgs)

	noLUT := anon.WithoutLookupTable()
	assert.False(t, noLUT.UsesLookupTable())
	assert.True(t, anon.UsesLookupTable())
	assert.NotContains(t, noLUT.Args(staged), "-lut")
}

func TestAnonymizer_ToolFailure(t *testing.T) {
	runner := func(context.Context, string, string, ...string) ([]byte, error) {
		return []byte("Exception in thread main"), errors.New("exit status 1")
	}
	anon := services.NewAnonymizer(models.AnonymizationConfig{Java: "java", Jar: "/x/DAT.jar", Script: "/x/s"}, runner, lib.NopLogger())

	err := anon.Anonymize(context.Background(), "/tmp/a.dcm")
	require.Error(t, err)
	assert.True(t, lib.IsCategory(err, lib.CategoryExternalTool))
	assert.Contains(t, err.Error(), "Exception in thread main")
}

func TestAnonymizer_TimesOut(t *testing.T) {
	runner := func(ctx context.Context, _ string, _ string, _ ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	anon := services.NewAnonymizer(models.AnonymizationConfig{
		Java: "java", Jar: "/x/DAT.jar", Script: "/x/s", Timeout: 20 * time.Millisecond,
	}, runner, lib.NopLogger())

	err := anon.Anonymize(context.Background(), "/tmp/a.dcm")
	require.Error(t, err)
	assert.True(t, lib.IsCategory(err, lib.CategoryExternalTool))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out after 20ms")
}
