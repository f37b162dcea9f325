package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"TELEGRAM_BOT_API_TOKEN", "RUN_MODE", "WEBHOOK_DOMAIN", "WEBHOOK_SECRET",
	"WEBHOOK_HOST", "WEBHOOK_PORT", "LOG_LEVEL", "LOG_FORMAT", "STORE_BACKEND",
	"SNAPSHOT_PATH", "SQLITE_PATH", "DATABASE_URL", "DISPLAY_TIMEZONE",
	"DEFAULT_RETRY_INTERVAL", "DISPATCH_TIMEOUT", "MAX_CONCURRENT_FIRES",
	"DISPATCH_RATE_PER_SECOND", "HEALTH_ADDR", "HEALTH_CHECK_TOKEN",
	"ALLOWED_USERS", "OTEL_SERVICE_NAME", "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT",
}

// clearEnv blanks every key so the host environment does not leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_API_TOKEN", "123:abc")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, RunModePolling, cfg.RunMode)
	assert.Equal(t, StoreFile, cfg.StoreBackend)
	assert.Equal(t, "reminders.json", cfg.SnapshotPath)
	assert.Equal(t, "Europe/Moscow", cfg.DisplayTimezone.String())
	assert.Equal(t, 30*time.Minute, cfg.DefaultRetryInterval)
	assert.Equal(t, 10*time.Second, cfg.DispatchTimeout)
	assert.Equal(t, 4, cfg.MaxConcurrentFires)
	assert.Equal(t, 25.0, cfg.DispatchRate)
	assert.Equal(t, "remindme", cfg.OtelServiceName)
	assert.True(t, cfg.IsAllowed("anyone"))
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_API_TOKEN", "123:abc")
	t.Setenv("RUN_MODE", "Webhook")
	t.Setenv("WEBHOOK_DOMAIN", "bot.example.org")
	t.Setenv("WEBHOOK_SECRET", "s3cret")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/remindme")
	t.Setenv("DISPLAY_TIMEZONE", "UTC")
	t.Setenv("DEFAULT_RETRY_INTERVAL", "5m")
	t.Setenv("MAX_CONCURRENT_FIRES", "8")
	t.Setenv("ALLOWED_USERS", "alice, @bob,,")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, RunModeWebhook, cfg.RunMode)
	assert.Equal(t, StorePostgres, cfg.StoreBackend)
	assert.Equal(t, time.UTC, cfg.DisplayTimezone)
	assert.Equal(t, 5*time.Minute, cfg.DefaultRetryInterval)
	assert.Equal(t, 8, cfg.MaxConcurrentFires)
	assert.Len(t, cfg.AllowedUsers, 2)
	assert.True(t, cfg.IsAllowed("bob"))
	assert.False(t, cfg.IsAllowed("mallory"))
}

func TestFromEnvNamesOffendingKey(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing token", map[string]string{}, "TELEGRAM_BOT_API_TOKEN"},
		{"bad mode", map[string]string{"RUN_MODE": "push"}, "RUN_MODE"},
		{"webhook without domain", map[string]string{"RUN_MODE": "webhook", "WEBHOOK_SECRET": "x"}, "WEBHOOK_DOMAIN"},
		{"bad backend", map[string]string{"STORE_BACKEND": "redis"}, "STORE_BACKEND"},
		{"postgres without url", map[string]string{"STORE_BACKEND": "postgres"}, "DATABASE_URL"},
		{"bad zone", map[string]string{"DISPLAY_TIMEZONE": "Mars/Olympus"}, "DISPLAY_TIMEZONE"},
		{"bad duration", map[string]string{"DEFAULT_RETRY_INTERVAL": "soon"}, "DEFAULT_RETRY_INTERVAL"},
		{"zero timeout", map[string]string{"DISPATCH_TIMEOUT": "0s"}, "DISPATCH_TIMEOUT"},
		{"bad int", map[string]string{"MAX_CONCURRENT_FIRES": "many"}, "MAX_CONCURRENT_FIRES"},
		{"bad rate", map[string]string{"DISPATCH_RATE_PER_SECOND": "-1"}, "DISPATCH_RATE_PER_SECOND"},
		{"bad format", map[string]string{"LOG_FORMAT": "xml"}, "LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if tt.want != "TELEGRAM_BOT_API_TOKEN" {
				t.Setenv("TELEGRAM_BOT_API_TOKEN", "123:abc")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStoreFromEnvNeedsNoToken(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/r.db")

	cfg, err := StoreFromEnv()
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.StoreBackend)
	assert.Equal(t, "/tmp/r.db", cfg.SQLitePath)

	t.Setenv("STORE_BACKEND", "postgres")
	_, err = StoreFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
