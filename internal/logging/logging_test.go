package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cell-module.log")

	closer, err := Init(zerolog.InfoLevel, path)
	require.NoError(t, err)

	log.Info().Int("duty", 128).Msg("balance active")
	log.Debug().Msg("hidden")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"duty":128`)
	assert.Contains(t, string(data), `"time":`)
	assert.NotContains(t, string(data), "hidden")
}

func TestInit_NoFile(t *testing.T) {
	closer, err := Init(zerolog.WarnLevel, "")
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
	assert.Equal(t, zerolog.WarnLevel, log.Logger.GetLevel())
}

func TestInit_BadPath(t *testing.T) {
	_, err := Init(zerolog.InfoLevel, filepath.Join(t.TempDir(), "missing", "x.log"))
	assert.Error(t, err)
}
