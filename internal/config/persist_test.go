package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fivetwenty-io/apiclient/internal/config"
	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersister_WriteSampleRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yml")
	persister := config.NewPersister(path)

	require.NoError(t, persister.WriteSample(config.Sample(), false))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(constants.ConfigFilePerm), info.Mode().Perm())

	v := config.NewViper()
	require.NoError(t, config.ReadFile(v, path))

	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1", cfg.BaseURL)
	assert.Equal(t, "all", cfg.CacheMode)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, time.Minute, cfg.Cache.Memory.CleanupInterval)

	err = persister.WriteSample(config.Sample(), false)
	require.ErrorIs(t, err, constants.ErrConfigAlreadyExists)

	require.NoError(t, persister.WriteSample(config.Sample(), true))
}

func TestPersister_UpdateTokens(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, sampleConfig)
	persister := config.NewPersister(path)

	require.NoError(t, persister.UpdateTokens("access", "refresh"))

	v := config.NewViper()
	require.NoError(t, config.ReadFile(v, path))

	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, "access", cfg.AccessToken)
	assert.Equal(t, "refresh", cfg.RefreshToken)
	assert.Equal(t, "alice", cfg.Username)
	assert.Equal(t, "localhost:6379", cfg.Cache.Redis.Addr)
}

func TestPersister_UpdateCreatesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yml")

	require.NoError(t, config.NewPersister(path).Update(map[string]any{"base_url": "https://x"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "base_url: https://x")
}
