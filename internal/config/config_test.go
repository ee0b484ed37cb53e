package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"PORT", "ENV", "STORE", "MONGODB_URI", "MONGODB_DATABASE", "JWT_SECRET",
	"WEBHOOK_SECRET", "DEVICE_TIMEOUT", "DEVICE_FAILURE_THRESHOLD",
	"SYNC_CONCURRENCY", "DEFAULT_LOCALE", "DEVICE_TIMEZONE", "LOG_LEVEL", "CONFIG_FILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "mongo", cfg.Store)
	assert.Equal(t, 10*time.Second, cfg.DeviceTimeout)
	assert.Equal(t, 3, cfg.DeviceFailureThreshold)
	assert.Equal(t, 4, cfg.SyncConcurrency)
	assert.Equal(t, time.UTC, cfg.DeviceTimezone)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 8080
store: memory
device_timeout: 3s
sync_concurrency: 8
device_timezone: Asia/Ho_Chi_Minh
log_level: debug
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SYNC_CONCURRENCY", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 3*time.Second, cfg.DeviceTimeout)
	assert.Equal(t, 2, cfg.SyncConcurrency)
	assert.Equal(t, "Asia/Ho_Chi_Minh", cfg.DeviceTimezone.String())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides a variable that is already set, even empty.
	require.NoError(t, os.Unsetenv("WEBHOOK_SECRET"))
	require.NoError(t, os.WriteFile(".env", []byte("WEBHOOK_SECRET=from-dotenv\n"), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.WebhookSecret)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"STORE":                    "postgres",
		"DEVICE_TIMEOUT":           "soon",
		"DEVICE_FAILURE_THRESHOLD": "0",
		"SYNC_CONCURRENCY":         "many",
		"DEVICE_TIMEZONE":          "Mars/Olympus",
		"LOG_LEVEL":                "chatty",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}

	t.Run("production without jwt secret", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ENV", "production")
		_, err := Load()
		assert.Error(t, err)
	})
}
