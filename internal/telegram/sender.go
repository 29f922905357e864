package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"

	"github.com/edgard/relaybot/internal/logger"
	"github.com/edgard/relaybot/internal/metrics"
)

// DefaultBackoffBase is the first retry delay; later delays double.
const DefaultBackoffBase = time.Second

// Report describes the result of one Deliver call.
type Report struct {
	OK       bool
	Attempts int
}

// Options configures a Sender.
type Options struct {
	Token   string
	ChatID  string
	APIURL  string
	Timeout time.Duration
	Retries int

	// BackoffBase is the delay before the first retry. Zero means DefaultBackoffBase.
	BackoffBase time.Duration
}

// Sender delivers text to a single chat. It never returns errors: every
// outcome resolves to success or failure and is logged.
type Sender struct {
	bot      *bot.Bot
	token    string
	chatID   string
	timeout  time.Duration
	retries  int
	backoff  time.Duration
	disabled string

	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewSender builds a Sender. Missing credentials produce a disabled Sender
// rather than an error; only a failure to construct the client is returned.
func NewSender(opts Options, log *slog.Logger, m *metrics.Metrics) (*Sender, error) {
	log = logger.OrDefault(log).With("component", "telegram_sender")

	s := &Sender{
		token:   opts.Token,
		chatID:  opts.ChatID,
		timeout: opts.Timeout,
		retries: opts.Retries,
		backoff: opts.BackoffBase,
		log:     log,
		metrics: m,
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}
	if s.retries < 0 {
		s.retries = 0
	}
	if s.backoff <= 0 {
		s.backoff = DefaultBackoffBase
	}

	switch {
	case opts.Token == "":
		s.disabled = "missing bot token"
	case opts.ChatID == "":
		s.disabled = "missing chat id"
	}
	if s.disabled != "" {
		log.Error("Telegram delivery disabled", "reason", s.disabled)
		return s, nil
	}

	b, err := NewTelegramBot(opts.Token, opts.APIURL, s.timeout, log)
	if err != nil {
		return nil, err
	}
	s.bot = b
	return s, nil
}

// Enabled reports whether the Sender can reach the network.
func (s *Sender) Enabled() bool {
	return s.bot != nil
}

// Send delivers text using an explicit per-attempt timeout and retry count.
// retries is the number of additional attempts after the first failure.
func (s *Sender) Send(ctx context.Context, text string, timeout time.Duration, retries int) bool {
	return s.deliver(ctx, text, timeout, retries).OK
}

// Deliver delivers text with the configured timeout and retry count.
func (s *Sender) Deliver(ctx context.Context, text string) Report {
	return s.deliver(ctx, text, s.timeout, s.retries)
}

func (s *Sender) deliver(ctx context.Context, text string, timeout time.Duration, retries int) Report {
	if s.bot == nil {
		s.log.ErrorContext(ctx, "Telegram delivery skipped: sender disabled", "reason", s.disabled)
		s.metrics.ObserveSendAttempt("disabled", 0)
		return Report{}
	}
	if timeout <= 0 {
		timeout = s.timeout
	}
	if retries < 0 {
		retries = 0
	}

	attempts := 0
	for attempt := 0; attempt <= retries; attempt++ {
		attempts++
		startTime := time.Now()
		err := s.attempt(ctx, text, timeout)
		duration := time.Since(startTime)

		if err == nil {
			s.metrics.ObserveSendAttempt("ok", duration)
			s.log.InfoContext(ctx, "Telegram message sent successfully",
				"attempt", attempts, "duration", duration)
			return Report{OK: true, Attempts: attempts}
		}

		s.metrics.ObserveSendAttempt("error", duration)
		s.logFailure(ctx, err, attempts, retries+1)

		if attempt < retries {
			delay := s.backoff * time.Duration(1<<attempt)
			s.log.InfoContext(ctx, "Retrying Telegram delivery",
				"delay", delay, "retry", attempt+1, "retries", retries)
			if !sleep(ctx, delay) {
				s.log.WarnContext(ctx, "Telegram delivery abandoned during backoff", "error", ctx.Err())
				break
			}
		}
	}

	return Report{Attempts: attempts}
}

func (s *Sender) attempt(ctx context.Context, text string, timeout time.Duration) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	attemptCtx, ack := withAck(attemptCtx)

	_, err := s.bot.SendMessage(attemptCtx, &bot.SendMessageParams{
		ChatID: s.chatID,
		Text:   text,
	})
	if err != nil && ack.ok {
		// 2xx with "ok": true; only the result payload failed to decode.
		s.log.DebugContext(ctx, "Telegram accepted message without a decodable result", "error", s.redact(err))
		return nil
	}
	return err
}

func (s *Sender) logFailure(ctx context.Context, err error, attempt, total int) {
	args := []any{"error", s.redact(err), "attempt", attempt, "attempts_total", total}

	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		args = append(args, "kind", "http_status", "status_code", statusErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		args = append(args, "kind", "timeout")
	case isAPIError(err):
		args = append(args, "kind", "api_error")
	default:
		args = append(args, "kind", "request_failed")
	}

	s.log.ErrorContext(ctx, "Telegram delivery attempt failed", args...)
}

// isAPIError reports errors produced from an {"ok": false} payload.
// The error text carries Telegram's error_code and description.
func isAPIError(err error) bool {
	return errors.Is(err, bot.ErrorBadRequest) ||
		errors.Is(err, bot.ErrorUnauthorized) ||
		errors.Is(err, bot.ErrorForbidden) ||
		errors.Is(err, bot.ErrorNotFound)
}

// sleep waits for d or until ctx is done; it reports whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// redact renders err with the bot token masked. Transport errors wrap a
// *url.Error whose text carries the full request URL.
func (s *Sender) redact(err error) string {
	msg := err.Error()
	if s.token == "" {
		return msg
	}
	return strings.ReplaceAll(msg, s.token, tokenPrefix(s.token))
}
