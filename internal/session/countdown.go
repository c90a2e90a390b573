package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"popkit/internal/kv"
	"popkit/internal/popups"
)

// Remaining is the floor-divided, non-negative time left on a countdown.
type Remaining struct {
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// IsZero reports whether no time is left.
func (r Remaining) IsZero() bool {
	return r.Days == 0 && r.Hours == 0 && r.Minutes == 0 && r.Seconds == 0
}

// RemainingUntil splits the span from now to deadline into calendar-style
// components. A past deadline yields all zeros, never negatives.
func RemainingUntil(deadline, now time.Time) Remaining {
	left := deadline.Sub(now)
	if left < 0 {
		left = 0
	}
	totalSeconds := int(left / time.Second)
	return Remaining{
		Days:    totalSeconds / 86400,
		Hours:   (totalSeconds % 86400) / 3600,
		Minutes: (totalSeconds % 3600) / 60,
		Seconds: totalSeconds % 60,
	}
}

// CountdownState tracks the timer lifecycle.
type CountdownState int

const (
	CountdownIdle CountdownState = iota
	CountdownRunning
	CountdownHalted
	CountdownExpired
)

// CountdownConfig wires a Countdown's collaborators.
type CountdownConfig struct {
	Shop     string
	Settings popups.TimerSettings
	Store    kv.Store
	Clock    Clock
	Logger   *slog.Logger
	// OnTick receives each 1-second remaining snapshot.
	OnTick func(Remaining)
	// OnExpire fires exactly once when the deadline passes.
	OnExpire func(popups.ExpirationPolicy)
}

// Countdown drives a persisted-deadline timer at 1-second resolution.
// The deadline survives page reloads: an unexpired persisted deadline is
// always reused, so the timer never resets to full on reload.
type Countdown struct {
	shop     string
	settings popups.TimerSettings
	store    kv.Store
	clock    Clock
	logger   *slog.Logger
	onTick   func(Remaining)
	onExpire func(popups.ExpirationPolicy)

	mu       sync.Mutex
	state    CountdownState
	deadline time.Time
	halt     chan struct{}
}

// NewCountdown builds an idle countdown; Start resolves the deadline.
func NewCountdown(cfg CountdownConfig) *Countdown {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Countdown{
		shop:     cfg.Shop,
		settings: cfg.Settings,
		store:    cfg.Store,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		onTick:   cfg.OnTick,
		onExpire: cfg.OnExpire,
		state:    CountdownIdle,
		halt:     make(chan struct{}),
	}
}

// Start resolves the deadline and begins ticking. Only an absent or already
// expired persisted deadline causes a fresh one to be computed.
func (c *Countdown) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != CountdownIdle {
		c.mu.Unlock()
		return nil
	}

	now := c.clock.Now()
	deadline, found := loadDeadline(ctx, c.store, c.shop)
	if !found || !deadline.After(now) {
		duration := c.settings.DurationSeconds
		if duration < 0 {
			duration = 0
		}
		deadline = now.Add(time.Duration(duration) * time.Second)
		if err := saveDeadline(ctx, c.store, c.shop, deadline); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.deadline = deadline
	c.state = CountdownRunning
	c.mu.Unlock()

	c.tick(now)
	go c.run(ctx)
	return nil
}

func (c *Countdown) run(ctx context.Context) {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C():
			if c.tick(now) {
				return
			}
		case <-c.halt:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick publishes the remaining time and handles expiration. Returns true
// once the countdown is finished.
func (c *Countdown) tick(now time.Time) bool {
	c.mu.Lock()
	if c.state != CountdownRunning {
		c.mu.Unlock()
		return true
	}
	if now.IsZero() {
		now = c.clock.Now()
	}
	remaining := RemainingUntil(c.deadline, now)
	expired := !c.deadline.After(now)
	if expired {
		// One-way transition; the expiration callback fires exactly once.
		c.state = CountdownExpired
	}
	onTick := c.onTick
	onExpire := c.onExpire
	policy := c.settings.OnExpiration
	c.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if expired {
		if onExpire != nil {
			onExpire(policy)
		}
		return true
	}
	return false
}

// Halt stops the ticking for good, e.g. after a successful form submission.
// A halted countdown never emits an expiration.
func (c *Countdown) Halt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CountdownRunning || c.state == CountdownIdle {
		c.state = CountdownHalted
		close(c.halt)
	}
}

// State returns the current lifecycle state.
func (c *Countdown) State() CountdownState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Deadline returns the resolved absolute deadline.
func (c *Countdown) Deadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline
}

// Remaining returns the time left as of the clock's now.
func (c *Countdown) Remaining() Remaining {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()
	return RemainingUntil(deadline, c.clock.Now())
}
