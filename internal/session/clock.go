package session

import "time"

// Clock abstracts wall-clock time and timer scheduling so the trigger
// controller and countdown run deterministically in tests.
type Clock interface {
	Now() time.Time
	// After fires once after d, like time.After.
	After(d time.Duration) <-chan time.Time
	// NewTicker emits periodic ticks until stopped.
	NewTicker(d time.Duration) Ticker
}

// Ticker is a stoppable periodic tick source.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// SystemClock is the production Clock over the real time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

func (SystemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (SystemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{ticker: time.NewTicker(d)}
}

type systemTicker struct {
	ticker *time.Ticker
}

func (t *systemTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t *systemTicker) Stop() {
	t.ticker.Stop()
}
