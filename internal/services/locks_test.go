//go:build unix

package services_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/pacsbatch/internal/lib"
	"github.com/trobanga/pacsbatch/internal/services"
)

func TestOutputLock_Exclusive(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	logger := lib.NopLogger()

	lock, err := services.AcquireOutputLock(dir, logger)
	require.NoError(t, err)
	assert.NotEmpty(t, lock.Token())
	assert.True(t, services.IsOutputLocked(dir))

	_, err = services.AcquireOutputLock(dir, logger)
	require.Error(t, err)
	assert.True(t, lib.IsCategory(err, lib.CategoryState))

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release(), "release is idempotent")
	assert.False(t, services.IsOutputLocked(dir))

	data, err := os.ReadFile(filepath.Join(dir, services.LockFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "token="+lock.Token())
}

func TestWithOutputLock(t *testing.T) {
	dir := t.TempDir()
	sentinel := errors.New("boom")

	err := services.WithOutputLock(dir, lib.NopLogger(), func() error {
		assert.True(t, services.IsOutputLocked(dir))
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.False(t, services.IsOutputLocked(dir))
}
