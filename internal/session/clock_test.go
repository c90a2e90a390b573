package session

import (
	"sync"
	"time"
)

// manualClock is a hand-driven Clock for deterministic tests. After and
// NewTicker hand out shared channels the test fires explicitly.
type manualClock struct {
	mu    sync.Mutex
	now   time.Time
	after chan time.Time
	tick  chan time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{
		now:   start,
		after: make(chan time.Time),
		tick:  make(chan time.Time),
	}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *manualClock) After(time.Duration) <-chan time.Time {
	return c.after
}

// FireAfter delivers the pending After; blocks until the waiter receives.
func (c *manualClock) FireAfter() {
	c.after <- c.Now()
}

func (c *manualClock) NewTicker(time.Duration) Ticker {
	return &manualTicker{ch: c.tick}
}

// Tick delivers one ticker tick carrying the current manual time.
func (c *manualClock) Tick() {
	c.tick <- c.Now()
}

type manualTicker struct {
	ch chan time.Time
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               {}
