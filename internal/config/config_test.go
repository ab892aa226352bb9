package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValidWithAuthDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AuthDisabled = true
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AuthSecret = "secret"

	cfg.HTTPPort = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.AuthSecret = "secret"
	cfg.StoreBackend = "cassandra"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.AuthSecret = "secret"
	cfg.StoreBackend = "postgres"
	cfg.PostgresDSN = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	assert.Error(t, cfg.Validate(), "auth secret required unless disabled")

	cfg = DefaultConfig()
	cfg.AuthSecret = "secret"
	cfg.VerifyInterval = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CHAIND_HTTP_PORT", "9090")
	t.Setenv("CHAIND_STORE_BACKEND", "memory")
	t.Setenv("CHAIND_VERIFY_INTERVAL", "1m")
	t.Setenv("CHAIND_AUTH_DISABLED", "true")
	t.Setenv("CHAIND_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.LoadEnv()

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, time.Minute, cfg.VerifyInterval)
	assert.True(t, cfg.AuthDisabled)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chaind.yaml")
	content := []byte(`
http_port: 8181
store_backend: memory
auth_disabled: true
verify_workers: 8
log_format: console
`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.HTTPPort)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 8, cfg.VerifyWorkers)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chaind.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_port: 8181\nstore_backend: memory\nauth_disabled: true\n"), 0644))

	t.Setenv("CHAIND_HTTP_PORT", "9999")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.HTTPPort)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/chaind.yaml")
	assert.Error(t, err)
}
