package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. RELAYBOT_TELEGRAM_TOKEN.
const EnvPrefix = "RELAYBOT"

// LoadConfig reads configuration from:
// 1. Default values
// 2. The YAML file at path (optional; a missing file is not an error)
// 3. RELAYBOT_* environment variables
//
// Returns the validated configuration or an error if loading or validation fails.
func LoadConfig(path string) (*Config, error) {
	startTime := time.Now()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
			slog.Info("Configuration file not found, using defaults", "path", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Debug("Configuration loaded",
		"path", v.ConfigFileUsed(),
		"telegram_enabled", cfg.Telegram.Enabled(),
		"dispatch_enabled", cfg.Dispatch.Enabled,
		"duration_ms", time.Since(startTime).Milliseconds())

	return cfg, nil
}
