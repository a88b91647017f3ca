package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coldvault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/coldvault", cfg.StorageRoot)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 24*time.Hour, cfg.SweepInterval())
	assert.Equal(t, time.Minute, cfg.MonitorInterval())
	assert.Equal(t, 15*time.Minute, cfg.TokenTTL())
	assert.Equal(t, 100, cfg.Monitor.MaxAlerts)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
storage_root: /srv/vault
log_level: debug
sweep:
  enabled: true
  interval: 1h
monitor:
  enabled: true
  interval: 30s
  max_alerts: 10
stream:
  token_ttl: 5m
  max_streams: 4
  max_payload: 256MB
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/vault", cfg.StorageRoot)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Sweep.Enabled)
	assert.Equal(t, time.Hour, cfg.SweepInterval())
	assert.Equal(t, 30*time.Second, cfg.MonitorInterval())
	assert.Equal(t, 10, cfg.Monitor.MaxAlerts)
	assert.Equal(t, 5*time.Minute, cfg.TokenTTL())
	assert.Equal(t, 4, cfg.Stream.MaxStreams)
	assert.Equal(t, int64(256<<20), cfg.Stream.MaxPayload.Bytes())
	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, "storage_root: /srv/vault\n")
	t.Setenv(EnvStorageRoot, "/mnt/cold")
	t.Setenv(EnvSigningSecret, strings.Repeat("k", 40))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/cold", cfg.StorageRoot)
	assert.Equal(t, strings.Repeat("k", 40), cfg.Stream.SigningSecret)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsShortSecret(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Stream.SigningSecret = "too-short"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signing secret")
}

func TestValidateRejectsBadDurations(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Sweep.Interval = "often"
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	path := writeConfig(t, "storage_root: [\n")
	_, err := Load(path)
	assert.Error(t, err)
}
