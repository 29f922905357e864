package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/relaybot/internal/database"
	"github.com/edgard/relaybot/internal/logger"
	"github.com/edgard/relaybot/internal/metrics"
)

func seoul(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	return loc
}

type countingAction struct {
	calls atomic.Int32
	ok    atomic.Bool
}

func newCountingAction(ok bool) *countingAction {
	a := &countingAction{}
	a.ok.Store(ok)
	return a
}

func (a *countingAction) run(context.Context, time.Time) bool {
	a.calls.Add(1)
	return a.ok.Load()
}

type memStore struct {
	mu    sync.Mutex
	state *database.DispatchState
	saves int
	err   error
}

func (m *memStore) LoadDispatchState(context.Context) (*database.DispatchState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.state == nil {
		return nil, nil
	}
	cp := *m.state
	return &cp, nil
}

func (m *memStore) SaveDispatchState(_ context.Context, s *database.DispatchState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.state = &cp
	m.saves++
	return m.err
}

type fakeClaimer struct {
	mu       sync.Mutex
	owned    map[string]bool
	taken    map[string]bool
	err      error
	released []string
}

func (f *fakeClaimer) Claim(_ context.Context, date string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.taken[date] {
		return false, nil
	}
	if f.owned == nil {
		f.owned = map[string]bool{}
	}
	f.owned[date] = true
	return true, nil
}

func (f *fakeClaimer) Release(_ context.Context, date string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.owned, date)
	f.released = append(f.released, date)
	return nil
}

func newTestGuard(t *testing.T, action Action, opts Options) *Guard {
	t.Helper()
	if opts.Location == nil {
		opts.Location = seoul(t)
	}
	if opts.MinInterval == 0 {
		opts.MinInterval = DefaultMinInterval
	}
	g, err := NewGuard(action, opts, logger.Discard())
	require.NoError(t, err)
	return g
}

func TestFireSameDayIsIdempotent(t *testing.T) {
	t.Parallel()

	loc := seoul(t)
	action := newCountingAction(true)
	g := newTestGuard(t, action.run, Options{Location: loc})

	morning := time.Date(2025, 3, 14, 8, 20, 0, 0, loc)
	assert.Equal(t, ResultSent, g.Fire(context.Background(), morning))
	assert.Equal(t, ResultSkippedSameDay, g.Fire(context.Background(), morning.Add(2*time.Hour)))
	assert.Equal(t, ResultSkippedSameDay, g.Fire(context.Background(), morning.Add(15*time.Hour)))
	assert.EqualValues(t, 1, action.calls.Load())

	at, date := g.State()
	assert.True(t, morning.Equal(at))
	assert.Equal(t, "2025-03-14", date)

	// The next calendar day dispatches again.
	assert.Equal(t, ResultSent, g.Fire(context.Background(), morning.Add(24*time.Hour)))
	assert.EqualValues(t, 2, action.calls.Load())
}

func TestFireMinimumIntervalAcrossMidnight(t *testing.T) {
	t.Parallel()

	loc := seoul(t)
	action := newCountingAction(true)
	g := newTestGuard(t, action.run, Options{Location: loc})

	beforeMidnight := time.Date(2025, 3, 14, 23, 59, 40, 0, loc)
	afterMidnight := beforeMidnight.Add(30 * time.Second)

	assert.Equal(t, ResultSent, g.Fire(context.Background(), beforeMidnight))
	assert.Equal(t, ResultSkippedTooSoon, g.Fire(context.Background(), afterMidnight))
	assert.EqualValues(t, 1, action.calls.Load())

	assert.Equal(t, ResultSent, g.Fire(context.Background(), beforeMidnight.Add(time.Minute)))
	assert.EqualValues(t, 2, action.calls.Load())
}

func TestFireUsesConfiguredTimezone(t *testing.T) {
	t.Parallel()

	loc := seoul(t)
	action := newCountingAction(true)
	g := newTestGuard(t, action.run, Options{Location: loc})

	// 2025-03-14 16:00 UTC is already 2025-03-15 01:00 in Seoul.
	first := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	second := time.Date(2025, 3, 14, 16, 0, 0, 0, time.UTC)

	assert.Equal(t, ResultSent, g.Fire(context.Background(), first))
	assert.Equal(t, ResultSent, g.Fire(context.Background(), second))

	_, date := g.State()
	assert.Equal(t, "2025-03-15", date)
}

func TestFireFailurePolicies(t *testing.T) {
	t.Parallel()

	loc := seoul(t)
	now := time.Date(2025, 3, 14, 8, 20, 0, 0, loc)

	t.Run("mark attempted", func(t *testing.T) {
		t.Parallel()

		action := newCountingAction(false)
		g := newTestGuard(t, action.run, Options{Location: loc, FailurePolicy: MarkAttempted})

		assert.Equal(t, ResultFailed, g.Fire(context.Background(), now))
		action.ok.Store(true)
		assert.Equal(t, ResultSkippedSameDay, g.Fire(context.Background(), now.Add(time.Hour)))
		assert.EqualValues(t, 1, action.calls.Load())
	})

	t.Run("allow retry", func(t *testing.T) {
		t.Parallel()

		action := newCountingAction(false)
		claimer := &fakeClaimer{}
		g := newTestGuard(t, action.run, Options{Location: loc, FailurePolicy: AllowRetry, Claimer: claimer})

		assert.Equal(t, ResultFailed, g.Fire(context.Background(), now))
		assert.Equal(t, []string{"2025-03-14"}, claimer.released)

		// Still spaced by the minimum interval.
		assert.Equal(t, ResultSkippedTooSoon, g.Fire(context.Background(), now.Add(10*time.Second)))

		action.ok.Store(true)
		assert.Equal(t, ResultSent, g.Fire(context.Background(), now.Add(time.Hour)))
		assert.Equal(t, ResultSkippedSameDay, g.Fire(context.Background(), now.Add(2*time.Hour)))
		assert.EqualValues(t, 2, action.calls.Load())
	})
}

func TestFireConcurrentTriggersSendOnce(t *testing.T) {
	t.Parallel()

	loc := seoul(t)
	action := newCountingAction(true)
	g := newTestGuard(t, func(ctx context.Context, now time.Time) bool {
		time.Sleep(5 * time.Millisecond)
		return action.run(ctx, now)
	}, Options{Location: loc})

	now := time.Date(2025, 3, 14, 8, 20, 0, 0, loc)
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Fire(context.Background(), now.Add(time.Duration(i)*time.Millisecond))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, action.calls.Load())
}

func TestHydrateFromStore(t *testing.T) {
	t.Parallel()

	loc := seoul(t)
	last := time.Date(2025, 3, 14, 8, 20, 0, 0, loc)
	store := &memStore{state: &database.DispatchState{
		LastDispatchAt:   sql.NullTime{Time: last, Valid: true},
		LastDispatchDate: "2025-03-14",
	}}

	action := newCountingAction(true)
	g := newTestGuard(t, action.run, Options{Location: loc, Store: store})
	require.NoError(t, g.Hydrate(context.Background()))

	// A restart later the same day does not send again.
	assert.Equal(t, ResultSkippedSameDay, g.Fire(context.Background(), last.Add(3*time.Hour)))
	assert.Zero(t, action.calls.Load())

	assert.Equal(t, ResultSent, g.Fire(context.Background(), last.Add(24*time.Hour)))
	assert.Equal(t, "2025-03-15", store.state.LastDispatchDate)
	assert.True(t, last.Add(24*time.Hour).Equal(store.state.LastDispatchAt.Time))
	assert.Equal(t, 1, store.saves)
}

func TestHydrateEmptyAndErrors(t *testing.T) {
	t.Parallel()

	action := newCountingAction(true)

	g := newTestGuard(t, action.run, Options{Store: &memStore{}})
	require.NoError(t, g.Hydrate(context.Background()))
	at, date := g.State()
	assert.True(t, at.IsZero())
	assert.Empty(t, date)

	boom := errors.New("disk on fire")
	g = newTestGuard(t, action.run, Options{Store: &memStore{err: boom}})
	assert.ErrorIs(t, g.Hydrate(context.Background()), boom)

	g = newTestGuard(t, action.run, Options{})
	assert.NoError(t, g.Hydrate(context.Background()))
}

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	t.Parallel()

	loc := seoul(t)
	store := &memStore{err: errors.New("read-only")}
	action := newCountingAction(true)
	g := newTestGuard(t, action.run, Options{Location: loc, Store: store})

	now := time.Date(2025, 3, 14, 8, 20, 0, 0, loc)
	assert.Equal(t, ResultSent, g.Fire(context.Background(), now))
	assert.Equal(t, ResultSkippedSameDay, g.Fire(context.Background(), now.Add(time.Hour)))
}

func TestClaimer(t *testing.T) {
	t.Parallel()

	loc := seoul(t)
	now := time.Date(2025, 3, 14, 8, 20, 0, 0, loc)

	t.Run("claimed elsewhere", func(t *testing.T) {
		t.Parallel()

		action := newCountingAction(true)
		claimer := &fakeClaimer{taken: map[string]bool{"2025-03-14": true}}
		g := newTestGuard(t, action.run, Options{Location: loc, Claimer: claimer})

		assert.Equal(t, ResultSkippedClaimed, g.Fire(context.Background(), now))
		assert.Zero(t, action.calls.Load())
		at, date := g.State()
		assert.True(t, at.IsZero())
		assert.Empty(t, date)
	})

	t.Run("claimer error fails open", func(t *testing.T) {
		t.Parallel()

		action := newCountingAction(true)
		claimer := &fakeClaimer{err: errors.New("connection refused")}
		g := newTestGuard(t, action.run, Options{Location: loc, Claimer: claimer})

		assert.Equal(t, ResultSent, g.Fire(context.Background(), now))
		assert.EqualValues(t, 1, action.calls.Load())
	})
}

func TestForceBypassesChecks(t *testing.T) {
	t.Parallel()

	loc := seoul(t)
	action := newCountingAction(true)
	m := metrics.New()
	g := newTestGuard(t, action.run, Options{Location: loc, Metrics: m})

	now := time.Date(2025, 3, 14, 8, 20, 0, 0, loc)
	assert.Equal(t, ResultSent, g.Fire(context.Background(), now))
	assert.Equal(t, ResultSent, g.Force(context.Background(), now.Add(time.Second)))
	assert.EqualValues(t, 2, action.calls.Load())
	assert.Equal(t, ResultSkippedSameDay, g.Fire(context.Background(), now.Add(time.Hour)))
}

func TestNewGuardValidation(t *testing.T) {
	t.Parallel()

	action := newCountingAction(true)

	_, err := NewGuard(nil, Options{Location: time.UTC}, nil)
	assert.Error(t, err)

	_, err = NewGuard(action.run, Options{}, nil)
	assert.Error(t, err)

	_, err = NewGuard(action.run, Options{Location: time.UTC, FailurePolicy: "sometimes"}, nil)
	assert.Error(t, err)

	g, err := NewGuard(action.run, Options{Location: time.UTC}, nil)
	require.NoError(t, err)
	assert.Equal(t, MarkAttempted, g.policy)
}

func TestResultSkipped(t *testing.T) {
	t.Parallel()

	assert.False(t, ResultSent.Skipped())
	assert.False(t, ResultFailed.Skipped())
	assert.True(t, ResultSkippedSameDay.Skipped())
	assert.True(t, ResultSkippedTooSoon.Skipped())
	assert.True(t, ResultSkippedClaimed.Skipped())
}

func TestRedisClaimer(t *testing.T) {
	addr := os.Getenv("RELAYBOT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RELAYBOT_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	a, err := NewRedisClaimer(ctx, addr, "", 0, time.Minute, logger.Discard())
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisClaimer(ctx, addr, "", 0, time.Minute, logger.Discard())
	require.NoError(t, err)
	defer b.Close()

	date := "test-" + time.Now().Format(time.RFC3339Nano)
	defer a.Release(ctx, date)

	ok, err := a.Claim(ctx, date)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Claim(ctx, date)
	require.NoError(t, err)
	assert.True(t, ok, "owner may claim again")

	ok, err = b.Claim(ctx, date)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Release(ctx, date))
	ok, err = b.Claim(ctx, date)
	require.NoError(t, err)
	assert.False(t, ok, "release by non-owner is a no-op")

	require.NoError(t, a.Release(ctx, date))
	ok, err = b.Claim(ctx, date)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release(ctx, date))
}

func TestRedisClaimerUnreachable(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisClaimer(ctx, "127.0.0.1:1", "", 0, 0, logger.Discard())
	assert.Error(t, err)
}
