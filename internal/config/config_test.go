package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "database:\n  path: "+filepath.Join(dir, "calbook.db")+"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.PurgeInterval())

	rps, burst := cfg.RateLimit()
	assert.Equal(t, 10, rps)
	assert.Equal(t, 20, burst)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_ADMIN_KEY", "sekret")
	dir := t.TempDir()
	path := writeConfig(t, `
server:
  port: 9999
  admin_api_key: "${TEST_ADMIN_KEY}"
database:
  path: `+filepath.Join(dir, "calbook.db")+`
revocation:
  purge_interval_minutes: 15
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "sekret", cfg.Server.AdminAPIKey)
	assert.Equal(t, 15*time.Minute, cfg.PurgeInterval())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
