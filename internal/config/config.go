// Package config provides configuration loading, validation, and defaults
// for relaybot. Values come from defaults, an optional YAML file, and
// RELAYBOT_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrValidation is returned (wrapped) when the loaded configuration fails validation.
var ErrValidation = errors.New("config validation error")

// Config defines the application configuration parameters for all components.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Server    ServerConfig    `mapstructure:"server"`
	CSRF      CSRFConfig      `mapstructure:"csrf"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds the Bot API credentials and delivery policy.
// An empty Token or ChatID disables delivery instead of failing validation.
type TelegramConfig struct {
	Token   string        `mapstructure:"token"`
	ChatID  string        `mapstructure:"chat_id"`
	APIURL  string        `mapstructure:"api_url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"min=1s,max=2m"`
	Retries int           `mapstructure:"retries" validate:"min=0,max=10"`
}

// Enabled reports whether both credential values are present.
func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && t.ChatID != ""
}

// ServerConfig configures the public HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"             validate:"required"`
	TrustProxy      bool          `mapstructure:"trust_proxy"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"     validate:"min=1s"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"    validate:"min=1s"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s"`
}

// CSRFConfig configures anti-forgery tokens. An empty secret means a random
// per-process secret is generated at startup.
type CSRFConfig struct {
	Secret string        `mapstructure:"secret" validate:"omitempty,min=16"`
	TTL    time.Duration `mapstructure:"ttl"    validate:"min=1m,max=24h"`
}

// RateLimitConfig configures the per-source sliding window and ban.
type RateLimitConfig struct {
	Window      time.Duration `mapstructure:"window"       validate:"min=1s"`
	MaxRequests int           `mapstructure:"max_requests" validate:"gt=0"`
	BanDuration time.Duration `mapstructure:"ban_duration" validate:"min=1s"`
}

// LinkConfig is one entry of the daily link digest.
type LinkConfig struct {
	Name string `mapstructure:"name" validate:"required"`
	URL  string `mapstructure:"url"  validate:"required,url"`
}

// DispatchConfig configures the once-daily scheduled link dispatch.
type DispatchConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Timezone      string        `mapstructure:"timezone"       validate:"required,timezone"`
	At            string        `mapstructure:"at"             validate:"required,datetime=15:04"`
	MinInterval   time.Duration `mapstructure:"min_interval"   validate:"min=0"`
	FailurePolicy string        `mapstructure:"failure_policy" validate:"required,oneof=mark_attempted allow_retry"`
	TestMode      bool          `mapstructure:"test_mode"`
	TestDelay     time.Duration `mapstructure:"test_delay"     validate:"min=0"`

	Header string       `mapstructure:"header" validate:"required"`
	Title  string       `mapstructure:"title"`
	Footer string       `mapstructure:"footer"`
	Links  []LinkConfig `mapstructure:"links"  validate:"required,min=1,dive"`

	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"  validate:"min=0"`
	ClaimTTL      time.Duration `mapstructure:"claim_ttl" validate:"min=1m"`
}

// Location resolves the configured dispatch timezone.
func (d DispatchConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", d.Timezone, err)
	}
	return loc, nil
}

// DailyAt returns the hour and minute of the daily trigger.
func (d DispatchConfig) DailyAt() (hour, minute uint, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(d.At))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid dispatch time %q: %w", d.At, err)
	}
	return uint(t.Hour()), uint(t.Minute()), nil
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path      string        `mapstructure:"path"      validate:"required"`
	Retention time.Duration `mapstructure:"retention" validate:"min=1h"`
}

// SchedulerConfig maps task names to their schedule.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig is the schedule of one registered maintenance task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// Validate checks struct tags and returns an error wrapping ErrValidation.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
