// Package telegram delivers text messages to one Telegram chat through the
// Bot API, with bounded retry and exponential backoff.
package telegram

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-telegram/bot"

	"github.com/edgard/relaybot/internal/logger"
)

// NewTelegramBot creates a go-telegram/bot client for outbound calls only.
// getMe is skipped so construction never touches the network; every request
// goes through a transport that rejects non-2xx responses.
func NewTelegramBot(token, apiURL string, timeout time.Duration, log *slog.Logger, opts ...bot.Option) (*bot.Bot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	log = logger.OrDefault(log).With("component", "telegram_bot")

	client := &http.Client{Transport: &statusTransport{base: http.DefaultTransport}}

	options := []bot.Option{
		bot.WithSkipGetMe(),
		bot.WithHTTPClient(timeout, client),
	}
	if apiURL != "" {
		options = append(options, bot.WithServerURL(strings.TrimRight(apiURL, "/")))
	}
	options = append(options, opts...)

	b, err := bot.New(token, options...)
	if err != nil {
		log.Error("Failed to create Telegram bot instance", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	log.Info("Telegram bot instance created successfully", "token_prefix", tokenPrefix(token), "api_url", apiURL)
	return b, nil
}

func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "..."
}
