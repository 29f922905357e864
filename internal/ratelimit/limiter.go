// Package ratelimit implements a per-source sliding-window request counter
// that escalates to a timed ban once a source exceeds its allowance.
//
// State lives only in process memory and is lost on restart. One Limiter is
// shared by every throttled endpoint, so a source's budget is global.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/relaybot/internal/logger"
)

// Config holds the limiter thresholds.
type Config struct {
	Window      time.Duration
	MaxRequests int
	BanDuration time.Duration
}

// DefaultConfig allows 5 requests per 60 seconds and bans for 10 minutes.
func DefaultConfig() Config {
	return Config{
		Window:      60 * time.Second,
		MaxRequests: 5,
		BanDuration: 600 * time.Second,
	}
}

// Reason explains a Decision.
type Reason string

const (
	ReasonAllowed  Reason = "allowed"
	ReasonBanned   Reason = "banned"
	ReasonExceeded Reason = "exceeded"
)

// Decision is the outcome of one Check.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Count is the number of requests in the window after this one was
	// recorded. Zero for requests rejected by an active ban.
	Count int
	// RetryAfter is the remaining ban time for rejected requests.
	RetryAfter time.Duration
}

// Limiter is safe for concurrent use. A source is either banned or tracked:
// setting a ban drops its history.
type Limiter struct {
	cfg   Config
	clock clockwork.Clock
	log   *slog.Logger

	mu      sync.Mutex
	history map[string][]time.Time
	bans    map[string]time.Time
}

// New creates a Limiter. A nil clock means the real clock; non-positive
// thresholds fall back to DefaultConfig values.
func New(cfg Config, clock clockwork.Clock, log *slog.Logger) *Limiter {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.BanDuration <= 0 {
		cfg.BanDuration = def.BanDuration
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Limiter{
		cfg:     cfg,
		clock:   clock,
		log:     logger.OrDefault(log).With("component", "ratelimit"),
		history: make(map[string][]time.Time),
		bans:    make(map[string]time.Time),
	}
}

// Check records one request from sourceID and decides whether to allow it.
func (l *Limiter) Check(sourceID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()

	if until, ok := l.bans[sourceID]; ok {
		if until.After(now) {
			retryAfter := until.Sub(now)
			l.log.Warn("Request rejected: source banned",
				"source", sourceID, "banned_until", until, "retry_after", retryAfter)
			return Decision{Reason: ReasonBanned, RetryAfter: retryAfter}
		}
		delete(l.bans, sourceID)
	}

	recent := prune(l.history[sourceID], now.Add(-l.cfg.Window))
	recent = append(recent, now)
	count := len(recent)

	if count > l.cfg.MaxRequests {
		until := now.Add(l.cfg.BanDuration)
		l.bans[sourceID] = until
		delete(l.history, sourceID)
		l.log.Warn("Request rejected: rate limit exceeded, source banned",
			"source", sourceID, "count", count, "max_requests", l.cfg.MaxRequests,
			"window", l.cfg.Window, "banned_until", until)
		return Decision{Reason: ReasonExceeded, Count: count, RetryAfter: l.cfg.BanDuration}
	}

	l.history[sourceID] = recent
	l.log.Debug("Request allowed", "source", sourceID, "count", count, "max_requests", l.cfg.MaxRequests)
	return Decision{Allowed: true, Reason: ReasonAllowed, Count: count}
}

// Sweep drops expired bans and empty histories. It only bounds memory:
// Check already treats expired entries as absent.
func (l *Limiter) Sweep() (bans, sources int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	cutoff := now.Add(-l.cfg.Window)

	for id, until := range l.bans {
		if !until.After(now) {
			delete(l.bans, id)
			bans++
		}
	}
	for id, ts := range l.history {
		if recent := prune(ts, cutoff); len(recent) > 0 {
			l.history[id] = recent
		} else {
			delete(l.history, id)
			sources++
		}
	}

	if bans > 0 || sources > 0 {
		l.log.Debug("Swept limiter state", "expired_bans", bans, "idle_sources", sources)
	}
	return bans, sources
}

// Tracked returns the number of sources with history and active or stale bans.
func (l *Limiter) Tracked() (sources, bans int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history), len(l.bans)
}

// prune keeps timestamps strictly newer than cutoff. ts is ordered.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	out := make([]time.Time, len(ts)-i, len(ts)-i+1)
	copy(out, ts[i:])
	return out
}
