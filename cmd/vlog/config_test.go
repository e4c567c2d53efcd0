package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "value", cfg.Base)
	assert.Equal(t, 1<<20, cfg.BufferSize)
	assert.Equal(t, 10*time.Millisecond, cfg.EpochInterval)
	assert.Equal(t, 8, cfg.KeySize)
	assert.False(t, cfg.Compression)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dir: /var/lib/vlog
threads: 8
compression: true
epoch_interval: 40ms
buffer_size: 65536
`), 0644))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("VLOG_THREADS", "16")
	t.Setenv("VLOG_LOG_FORMAT", "console")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/vlog", cfg.Dir)
	assert.Equal(t, 16, cfg.Threads, "environment overrides the file")
	assert.True(t, cfg.Compression)
	assert.Equal(t, 40*time.Millisecond, cfg.EpochInterval)
	assert.Equal(t, 65536, cfg.BufferSize)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "")
	t.Setenv("VLOG_BUFFER_SIZE", "100")
	_, err := LoadConfig()
	require.Error(t, err)

	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "BufferSize", verrs[0].Field())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := LoadConfig()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfig_Validate(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.LogLevel = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.PayloadSize = 256
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.EpochInterval = 0
	assert.Error(t, cfg.Validate())
}
