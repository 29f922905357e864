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
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.False(t, cfg.Telegram.Enabled())
	assert.Equal(t, DefaultTelegramRetries, cfg.Telegram.Retries)
	assert.Equal(t, 60*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 5, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 600*time.Second, cfg.RateLimit.BanDuration)
	assert.Equal(t, "Asia/Seoul", cfg.Dispatch.Timezone)
	assert.Equal(t, "mark_attempted", cfg.Dispatch.FailurePolicy)
	assert.Len(t, cfg.Dispatch.Links, 2)
	assert.Contains(t, cfg.Scheduler.Tasks, "sql_maintenance")
	assert.Contains(t, cfg.Scheduler.Tasks, "limiter_sweep")

	hour, minute, err := cfg.Dispatch.DailyAt()
	require.NoError(t, err)
	assert.Equal(t, uint(8), hour)
	assert.Equal(t, uint(20), minute)

	loc, err := cfg.Dispatch.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Seoul", loc.String())
}

func TestLoadConfigFileOverrides(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  json: true
telegram:
  token: "123456:ABC"
  chat_id: "-1001"
  retries: 3
ratelimit:
  window: 30s
  max_requests: 2
dispatch:
  at: "07:05"
  failure_policy: allow_retry
  links:
    - name: Calendar
      url: https://example.com/calendar
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.True(t, cfg.Telegram.Enabled())
	assert.Equal(t, 3, cfg.Telegram.Retries)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 2, cfg.RateLimit.MaxRequests)
	assert.Equal(t, DefaultRateLimitBanDuration, cfg.RateLimit.BanDuration)
	assert.Equal(t, "allow_retry", cfg.Dispatch.FailurePolicy)
	require.Len(t, cfg.Dispatch.Links, 1)
	assert.Equal(t, "Calendar", cfg.Dispatch.Links[0].Name)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("RELAYBOT_TELEGRAM_TOKEN", "999:XYZ")
	t.Setenv("RELAYBOT_TELEGRAM_CHAT_ID", "42")
	t.Setenv("RELAYBOT_RATELIMIT_BAN_DURATION", "5m")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "999:XYZ", cfg.Telegram.Token)
	assert.Equal(t, "42", cfg.Telegram.ChatID)
	assert.Equal(t, 5*time.Minute, cfg.RateLimit.BanDuration)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "bad log level", body: "log:\n  level: loud\n"},
		{name: "bad failure policy", body: "dispatch:\n  failure_policy: retry_forever\n"},
		{name: "bad dispatch time", body: "dispatch:\n  at: \"25:99\"\n"},
		{name: "bad timezone", body: "dispatch:\n  timezone: Mars/Olympus\n"},
		{name: "zero max requests", body: "ratelimit:\n  max_requests: 0\n"},
		{name: "short csrf secret", body: "csrf:\n  secret: short\n"},
		{name: "bad link url", body: "dispatch:\n  links:\n    - name: x\n      url: not a url\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestLoadConfigMalformedFile(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "log: [unterminated"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrValidation)
}
