package dimse_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/pacsbatch/internal/dimse"
	"github.com/trobanga/pacsbatch/internal/dimse/dimsetest"
)

func TestRegistry_OpenRegistered(t *testing.T) {
	fake := &dimsetest.Provider{}
	dimse.Register("registry-test", func(cfg dimse.ProviderConfig) (dimse.Provider, error) {
		return fake, nil
	})

	p, err := dimse.Open("registry-test", dimse.ProviderConfig{MaxPDU: 16384})
	require.NoError(t, err)
	assert.Same(t, fake, p)
	assert.Contains(t, dimse.Providers(), "registry-test")

	assert.Panics(t, func() {
		dimse.Register("registry-test", func(dimse.ProviderConfig) (dimse.Provider, error) { return nil, nil })
	})
}

func TestRegistry_OpenUnknown(t *testing.T) {
	_, err := dimse.Open("does-not-exist", dimse.ProviderConfig{})
	require.Error(t, err)

	var unknown *dimse.ErrUnknownProvider
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "does-not-exist", unknown.Name)
}
