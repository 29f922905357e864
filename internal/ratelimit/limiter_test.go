package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/relaybot/internal/logger"
)

var epoch = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestLimiter(t *testing.T) (*Limiter, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	return New(DefaultConfig(), clock, logger.Discard()), clock
}

func TestCheckAllowsUpToMaxThenBans(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(t)

	for i := 1; i <= 5; i++ {
		d := l.Check("1.2.3.4")
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, ReasonAllowed, d.Reason)
		assert.Equal(t, i, d.Count)
		clock.Advance(5 * time.Second)
	}

	d := l.Check("1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonExceeded, d.Reason)
	assert.Equal(t, 6, d.Count)
	assert.Equal(t, 600*time.Second, d.RetryAfter)

	d = l.Check("1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonBanned, d.Reason)
	assert.Equal(t, 600*time.Second, d.RetryAfter)
}

func TestBanIsPerSource(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(t)
	for range 6 {
		l.Check("10.0.0.1")
	}

	assert.False(t, l.Check("10.0.0.1").Allowed)
	assert.True(t, l.Check("10.0.0.2").Allowed)
}

func TestBanExpiry(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(t)
	for range 6 {
		l.Check("src")
	}

	clock.Advance(300 * time.Second)
	d := l.Check("src")
	assert.Equal(t, ReasonBanned, d.Reason)
	assert.Equal(t, 300*time.Second, d.RetryAfter)

	clock.Advance(299 * time.Second)
	assert.False(t, l.Check("src").Allowed)

	// Exactly at expiry the ban no longer applies.
	clock.Advance(time.Second)
	d = l.Check("src")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count, "history restarts after a ban")
}

func TestBannedRequestsAreNotRecorded(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(t)
	for range 6 {
		l.Check("src")
	}
	for range 20 {
		clock.Advance(10 * time.Second)
		l.Check("src")
	}

	clock.Advance(400 * time.Second)
	for i := 1; i <= 5; i++ {
		d := l.Check("src")
		require.True(t, d.Allowed)
		assert.Equal(t, i, d.Count)
	}
}

func TestWindowPruning(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(t)
	for range 5 {
		require.True(t, l.Check("src").Allowed)
	}

	// Entries exactly one window old no longer count.
	clock.Advance(60 * time.Second)
	d := l.Check("src")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
}

func TestSlidingWindowCountsOnlyRecent(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(t)

	// One request every 15s never has more than 4 in a 60s window.
	for i := range 40 {
		d := l.Check("src")
		require.True(t, d.Allowed, "request %d", i)
		assert.LessOrEqual(t, d.Count, 4)
		clock.Advance(15 * time.Second)
	}
}

func TestCustomConfig(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(epoch)
	l := New(Config{Window: 10 * time.Second, MaxRequests: 1, BanDuration: time.Minute}, clock, nil)

	assert.True(t, l.Check("a").Allowed)
	d := l.Check("a")
	assert.Equal(t, ReasonExceeded, d.Reason)
	assert.Equal(t, time.Minute, d.RetryAfter)

	clock.Advance(time.Minute)
	assert.True(t, l.Check("a").Allowed)
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	l := New(Config{}, nil, nil)
	assert.Equal(t, DefaultConfig(), l.cfg)
	assert.NotNil(t, l.clock)
}

func TestSweep(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(t)
	for range 6 {
		l.Check("banned")
	}
	l.Check("idle")
	clock.Advance(30 * time.Second)
	l.Check("active")

	sources, bans := l.Tracked()
	assert.Equal(t, 2, sources)
	assert.Equal(t, 1, bans)

	clock.Advance(31 * time.Second)
	expired, idle := l.Sweep()
	assert.Zero(t, expired)
	assert.Equal(t, 1, idle)

	clock.Advance(600 * time.Second)
	expired, idle = l.Sweep()
	assert.Equal(t, 1, expired)
	assert.Equal(t, 1, idle)

	sources, bans = l.Tracked()
	assert.Zero(t, sources)
	assert.Zero(t, bans)
}

func TestConcurrentChecksDoNotLoseUpdates(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(epoch)
	l := New(Config{Window: time.Minute, MaxRequests: 50, BanDuration: time.Minute}, clock, logger.Discard())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				if l.Check("shared").Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}
