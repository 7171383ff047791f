package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9090
  allowed_origins:
    - "https://app.example.com"

database:
  url: "postgres://localhost/sendrelay"
  max_open_conns: 10

tracking:
  base_url: "https://track.example.com"

sending:
  bulk_interval_ms: 250

logging:
  level: "DEBUG"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr())
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "postgres://localhost/sendrelay", cfg.Database.URL)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, "https://track.example.com", cfg.Tracking.BaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Sending.BulkInterval())
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server: {}\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, 100*time.Millisecond, cfg.Sending.BulkInterval())
	assert.Equal(t, "http://0.0.0.0:8080", cfg.Tracking.BaseURL)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeConfig(t, "database:\n  url: \"postgres://file/db\"\n")

	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("CREDENTIAL_ENCRYPTION_KEY", "env-key")
	t.Setenv("PORT", "7070")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, "env-key", cfg.Security.EncryptionKey)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping\n")
	_, err := Load(path)
	assert.Error(t, err)
}
