package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default values for configuration
const (
	DefaultLogLevel = "info"

	DefaultTelegramAPIURL  = "https://api.telegram.org"
	DefaultTelegramTimeout = 10 * time.Second
	DefaultTelegramRetries = 1

	DefaultServerAddr            = ":5000"
	DefaultServerReadTimeout     = 15 * time.Second
	DefaultServerWriteTimeout    = 90 * time.Second // covers the full retry budget of one send
	DefaultServerShutdownTimeout = 10 * time.Second

	DefaultCSRFTTL = time.Hour

	DefaultRateLimitWindow      = 60 * time.Second
	DefaultRateLimitMaxRequests = 5
	DefaultRateLimitBanDuration = 600 * time.Second

	DefaultDispatchTimezone      = "Asia/Seoul"
	DefaultDispatchAt            = "08:20"
	DefaultDispatchMinInterval   = time.Minute
	DefaultDispatchFailurePolicy = "mark_attempted"
	DefaultDispatchTestDelay     = 30 * time.Second
	DefaultDispatchClaimTTL      = 36 * time.Hour

	DefaultDispatchHeader = "[자동 알림] {date} 시장 링크"
	DefaultDispatchTitle  = "오늘의 경제 링크 모음"
	DefaultDispatchFooter = "#bot01 #daily"

	DefaultDBPath      = "relaybot.db"
	DefaultDBRetention = 30 * 24 * time.Hour
)

// DefaultDispatchLinks is the fixed link set of the daily digest.
var DefaultDispatchLinks = []LinkConfig{
	{Name: "경제달력", URL: "https://kr.investing.com/economic-calendar/"},
	{Name: "중앙은행 기준금리", URL: "https://kr.investing.com/central-banks/"},
}

// DefaultSchedulerTasks enables the maintenance tasks.
var DefaultSchedulerTasks = map[string]any{
	"sql_maintenance": map[string]any{"enabled": true, "schedule": "30 4 * * *"},
	"limiter_sweep":   map[string]any{"enabled": true, "schedule": "*/15 * * * *"},
}

// setDefaults registers default values for every key so that environment
// overrides are picked up by Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", false)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.api_url", DefaultTelegramAPIURL)
	v.SetDefault("telegram.timeout", DefaultTelegramTimeout)
	v.SetDefault("telegram.retries", DefaultTelegramRetries)

	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.read_timeout", DefaultServerReadTimeout)
	v.SetDefault("server.write_timeout", DefaultServerWriteTimeout)
	v.SetDefault("server.shutdown_timeout", DefaultServerShutdownTimeout)

	v.SetDefault("csrf.secret", "")
	v.SetDefault("csrf.ttl", DefaultCSRFTTL)

	v.SetDefault("ratelimit.window", DefaultRateLimitWindow)
	v.SetDefault("ratelimit.max_requests", DefaultRateLimitMaxRequests)
	v.SetDefault("ratelimit.ban_duration", DefaultRateLimitBanDuration)

	v.SetDefault("dispatch.enabled", true)
	v.SetDefault("dispatch.timezone", DefaultDispatchTimezone)
	v.SetDefault("dispatch.at", DefaultDispatchAt)
	v.SetDefault("dispatch.min_interval", DefaultDispatchMinInterval)
	v.SetDefault("dispatch.failure_policy", DefaultDispatchFailurePolicy)
	v.SetDefault("dispatch.test_mode", false)
	v.SetDefault("dispatch.test_delay", DefaultDispatchTestDelay)
	v.SetDefault("dispatch.header", DefaultDispatchHeader)
	v.SetDefault("dispatch.title", DefaultDispatchTitle)
	v.SetDefault("dispatch.footer", DefaultDispatchFooter)
	v.SetDefault("dispatch.links", DefaultDispatchLinks)
	v.SetDefault("dispatch.redis_addr", "")
	v.SetDefault("dispatch.redis_password", "")
	v.SetDefault("dispatch.redis_db", 0)
	v.SetDefault("dispatch.claim_ttl", DefaultDispatchClaimTTL)

	v.SetDefault("database.path", DefaultDBPath)
	v.SetDefault("database.retention", DefaultDBRetention)

	v.SetDefault("scheduler.tasks", DefaultSchedulerTasks)
}
