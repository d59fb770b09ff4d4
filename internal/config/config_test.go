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
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DISPATCHER_DATABASE__URL", "postgres://localhost/outbox")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/outbox", cfg.Database.URL)
	assert.Equal(t, 50, cfg.Worker.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Worker.IdleDelay)
	assert.Equal(t, 5, cfg.Worker.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Attachments.DownloadTimeout)
	assert.Equal(t, int64(25<<20), cfg.Attachments.MaxBytes)
	assert.Equal(t, "X-API-Key", cfg.SMS.APIKeyHeader)
	assert.False(t, cfg.Cache.Enabled)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: text
database:
  url: postgres://file/outbox
worker:
  batch_size: 20
  idle_delay: 3s
sms:
  enabled: true
  base_url: https://sms.example.com/send
`)
	t.Setenv("DISPATCHER_WORKER__MAX_ATTEMPTS", "8")
	t.Setenv("DISPATCHER_DATABASE__URL", "postgres://env/outbox")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "postgres://env/outbox", cfg.Database.URL)
	assert.Equal(t, 20, cfg.Worker.BatchSize)
	assert.Equal(t, 3*time.Second, cfg.Worker.IdleDelay)
	assert.Equal(t, 8, cfg.Worker.MaxAttempts)
	assert.True(t, cfg.SMS.Enabled)
	assert.Equal(t, 30*time.Second, cfg.SMS.Timeout)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "missing database url",
			content: "log:\n  level: info\n",
		},
		{
			name:    "unknown log level",
			content: "database:\n  url: postgres://x\nlog:\n  level: verbose\n",
		},
		{
			name:    "zero batch size",
			content: "database:\n  url: postgres://x\nworker:\n  batch_size: 0\n",
		},
		{
			name:    "sms enabled without gateway",
			content: "database:\n  url: postgres://x\nsms:\n  enabled: true\n",
		},
		{
			name:    "events enabled without broker",
			content: "database:\n  url: postgres://x\nevents:\n  enabled: true\n",
		},
		{
			name:    "malformed secret key",
			content: "database:\n  url: postgres://x\nsecrets:\n  key: '***'\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "database: [unterminated"))
	assert.Error(t, err)
}
