package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popkit/internal/kv"
	"popkit/internal/popups"
)

func TestRemainingUntil(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	r := RemainingUntil(now.Add(90061*time.Second), now)
	assert.Equal(t, Remaining{Days: 1, Hours: 1, Minutes: 1, Seconds: 1}, r)

	r = RemainingUntil(now.Add(59*time.Second), now)
	assert.Equal(t, Remaining{Seconds: 59}, r)

	// A past deadline clamps to zero, never negatives.
	r = RemainingUntil(now.Add(-time.Hour), now)
	assert.True(t, r.IsZero())
}

func TestCountdownPersistsAndReusesDeadline(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newManualClock(start)
	store := kv.NewMemory()
	settings := popups.TimerSettings{DurationSeconds: 3600, OnExpiration: popups.ExpirationHide}

	first := NewCountdown(CountdownConfig{Shop: "example.com", Settings: settings, Store: store, Clock: clock})
	require.NoError(t, first.Start(context.Background()))
	assert.Equal(t, start.Add(time.Hour), first.Deadline())
	first.Halt()

	// A reload ten minutes later resumes the same deadline, never resets.
	clock.Advance(10 * time.Minute)
	second := NewCountdown(CountdownConfig{Shop: "example.com", Settings: settings, Store: store, Clock: clock})
	require.NoError(t, second.Start(context.Background()))
	assert.Equal(t, first.Deadline(), second.Deadline())
	assert.Equal(t, Remaining{Minutes: 50}, second.Remaining())
	second.Halt()
}

func TestCountdownExpiredDeadlineStartsFresh(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newManualClock(start)
	store := kv.NewMemory()
	settings := popups.TimerSettings{DurationSeconds: 60, OnExpiration: popups.ExpirationShowExpired}

	first := NewCountdown(CountdownConfig{Shop: "example.com", Settings: settings, Store: store, Clock: clock})
	require.NoError(t, first.Start(context.Background()))
	first.Halt()

	clock.Advance(2 * time.Minute)
	second := NewCountdown(CountdownConfig{Shop: "example.com", Settings: settings, Store: store, Clock: clock})
	require.NoError(t, second.Start(context.Background()))
	assert.Equal(t, clock.Now().Add(time.Minute), second.Deadline())
	second.Halt()
}

func TestCountdownExpiresExactlyOnce(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newManualClock(start)
	store := kv.NewMemory()

	var expirations atomic.Int32
	var policy popups.ExpirationPolicy
	c := NewCountdown(CountdownConfig{
		Shop:     "example.com",
		Settings: popups.TimerSettings{DurationSeconds: 2, OnExpiration: popups.ExpirationHide},
		Store:    store,
		Clock:    clock,
		OnExpire: func(p popups.ExpirationPolicy) {
			expirations.Add(1)
			policy = p
		},
	})
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, CountdownRunning, c.State())

	clock.Advance(time.Second)
	assert.False(t, c.tick(clock.Now()))
	assert.Equal(t, Remaining{Seconds: 1}, c.Remaining())

	clock.Advance(time.Second)
	assert.True(t, c.tick(clock.Now()))
	assert.Equal(t, CountdownExpired, c.State())
	assert.Equal(t, int32(1), expirations.Load())
	assert.Equal(t, popups.ExpirationHide, policy)

	// Ticks after expiration are swallowed.
	clock.Advance(time.Second)
	assert.True(t, c.tick(clock.Now()))
	assert.Equal(t, int32(1), expirations.Load())
}

func TestCountdownHaltSuppressesExpiration(t *testing.T) {
	clock := newManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := kv.NewMemory()

	var expirations atomic.Int32
	c := NewCountdown(CountdownConfig{
		Shop:     "example.com",
		Settings: popups.TimerSettings{DurationSeconds: 1, OnExpiration: popups.ExpirationHide},
		Store:    store,
		Clock:    clock,
		OnExpire: func(popups.ExpirationPolicy) { expirations.Add(1) },
	})
	require.NoError(t, c.Start(context.Background()))

	c.Halt()
	assert.Equal(t, CountdownHalted, c.State())

	clock.Advance(time.Minute)
	assert.True(t, c.tick(clock.Now()))
	assert.Equal(t, int32(0), expirations.Load())
}

func TestCountdownTicksThroughTicker(t *testing.T) {
	clock := newManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := kv.NewMemory()

	ticks := make(chan Remaining, 8)
	done := make(chan struct{})
	c := NewCountdown(CountdownConfig{
		Shop:     "example.com",
		Settings: popups.TimerSettings{DurationSeconds: 2, OnExpiration: popups.ExpirationShowExpired},
		Store:    store,
		Clock:    clock,
		OnTick:   func(r Remaining) { ticks <- r },
		OnExpire: func(popups.ExpirationPolicy) { close(done) },
	})
	require.NoError(t, c.Start(context.Background()))

	// Start publishes the initial remaining snapshot synchronously.
	assert.Equal(t, Remaining{Seconds: 2}, <-ticks)

	clock.Advance(time.Second)
	clock.Tick()
	assert.Equal(t, Remaining{Seconds: 1}, <-ticks)

	clock.Advance(time.Second)
	clock.Tick()
	assert.True(t, (<-ticks).IsZero())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected expiration callback")
	}
	assert.Equal(t, CountdownExpired, c.State())
}

func TestTimerVariantSessionStartsCountdown(t *testing.T) {
	popup := &popups.Popup{
		ID:      4,
		ShopID:  1,
		Variant: popups.VariantTimerCountdown,
		Active:  true,
		DisplayRules: popups.DisplayRules{
			Frequency:      popups.FrequencyAlways,
			DisplayDelayMs: 1000,
		},
		Settings: popups.Settings{
			Timer: &popups.TimerSettings{DurationSeconds: 300, OnExpiration: popups.ExpirationShowExpired},
		},
	}

	clock := newManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := kv.NewMemory()
	s, _ := newTestSession(t, popup, clock, store)

	s.Start()
	clock.FireAfter()
	waitForState(t, s, StateShown)

	countdown := s.Countdown()
	require.NotNil(t, countdown)
	assert.Equal(t, clock.Now().Add(5*time.Minute), countdown.Deadline())

	// Email submission halts the timer for good.
	require.NoError(t, s.SubmitEmail("dave@example.com"))
	assert.Equal(t, CountdownHalted, countdown.State())
}
