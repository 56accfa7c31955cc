package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 7, cfg.EntryTTLDays)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)

	dsn, err := cfg.ResolveBufferDSN()
	require.NoError(t, err)
	assert.Equal(t, "memory://", dsn)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LOUDTHOUGHTS_ADDR", ":9090")
	t.Setenv("LOUDTHOUGHTS_BUFFER_DSN", "sqlite:///tmp/buffer.db")
	t.Setenv("LOUDTHOUGHTS_RATE_LIMIT_MAX", "30")
	t.Setenv("LOUDTHOUGHTS_RATE_LIMIT_WINDOW", "30s")
	t.Setenv("LOUDTHOUGHTS_ENTRY_TTL_DAYS", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 30, cfg.RateLimitMax)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 3, cfg.EntryTTLDays)

	dsn, err := cfg.ResolveBufferDSN()
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///tmp/buffer.db", dsn)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("LOUDTHOUGHTS_ENTRY_TTL_DAYS", "0")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("LOUDTHOUGHTS_ENTRY_TTL_DAYS", "soon")
	_, err = Load()
	assert.Error(t, err)
}

func TestResolveBufferDSNProfiles(t *testing.T) {
	cfg := Config{DataDir: "data"}

	cfg.BackendProfile = "durable-local"
	dsn, err := cfg.ResolveBufferDSN()
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join("data", "buffer.json"), dsn)

	cfg.BackendProfile = "sqlite"
	dsn, err = cfg.ResolveBufferDSN()
	require.NoError(t, err)
	assert.Equal(t, "sqlite://"+filepath.Join("data", "buffer.db"), dsn)

	cfg.BackendProfile = "production"
	_, err = cfg.ResolveBufferDSN()
	assert.Error(t, err)

	cfg.PostgresDSN = "postgres://localhost/loudthoughts"
	dsn, err = cfg.ResolveBufferDSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/loudthoughts", dsn)

	cfg.BackendProfile = "carrier-pigeon"
	_, err = cfg.ResolveBufferDSN()
	assert.Error(t, err)
}
