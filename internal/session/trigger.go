// Package session implements the visitor-side popup engine: one Session per
// popup load drives the trigger state machine, frequency capping, prize
// selection, the countdown timer and event emission. There is no ambient
// package state; everything hangs off the Session handle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"popkit/internal/events"
	"popkit/internal/kv"
	"popkit/internal/popups"
)

// State is the trigger controller state.
type State int

const (
	StateIdle State = iota
	StateArmedDelay
	StateArmedExitIntent
	StateShown
	StateDismissed
	StateConverted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmedDelay:
		return "armed_delay"
	case StateArmedExitIntent:
		return "armed_exit_intent"
	case StateShown:
		return "shown"
	case StateDismissed:
		return "dismissed"
	case StateConverted:
		return "converted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further trigger transitions are possible.
func (s State) Terminal() bool {
	return s == StateDismissed || s == StateConverted
}

// Frequency cap windows, in the exact millisecond values of the display
// rules contract.
const (
	dailyWindow    = 86_400_000 * time.Millisecond
	weeklyWindow   = 604_800_000 * time.Millisecond
	snoozeDuration = time.Hour
)

var (
	ErrNotShown        = errors.New("popup is not currently shown")
	ErrWrongVariant    = errors.New("operation not supported by this popup variant")
	ErrAlreadySpun     = errors.New("wheel was already spun this session")
	ErrInvalidEmailSub = errors.New("invalid email address submitted")
)

// Config wires a Session's collaborators. Store and Emitter are required;
// Clock, Logger and Selector default to production implementations.
type Config struct {
	Shop    string
	Popup   *popups.Popup
	Store   kv.Store
	Clock   Clock
	Emitter Emitter
	Logger  *slog.Logger
	// Selector overrides the prize RNG; tests seed it.
	Selector *PrizeSelector
	// OnShow and OnHide are the narrow interface to the presentation layer.
	OnShow func(*popups.Popup)
	OnHide func()
}

// Session is the per-page-load popup engine instance.
type Session struct {
	id       string
	shop     string
	popup    *popups.Popup
	store    kv.Store
	clock    Clock
	emitter  Emitter
	logger   *slog.Logger
	selector *PrizeSelector
	onShow   func(*popups.Popup)
	onHide   func()

	// ctx lives until page unload and bounds in-flight emits; timerCtx is
	// additionally cancelled on terminal transitions so no further scheduled
	// callbacks fire.
	ctx         context.Context
	cancel      context.CancelFunc
	timerCtx    context.Context
	timerCancel context.CancelFunc

	mu           sync.Mutex
	state        State
	armedAt      time.Time
	exitConsumed bool
	spun         bool
	countdown    *Countdown
}

// New validates the config and builds a Session in the Idle state.
func New(cfg Config) (*Session, error) {
	if cfg.Popup == nil {
		return nil, errors.New("session requires a popup config")
	}
	if err := cfg.Popup.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to start session on invalid config: %w", err)
	}
	if cfg.Store == nil {
		return nil, errors.New("session requires a key-value store")
	}
	if cfg.Emitter == nil {
		return nil, errors.New("session requires an event emitter")
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Selector == nil {
		cfg.Selector = NewPrizeSelector()
	}

	ctx, cancel := context.WithCancel(context.Background())
	timerCtx, timerCancel := context.WithCancel(ctx)
	return &Session{
		id:          uuid.NewString(),
		shop:        cfg.Shop,
		popup:       cfg.Popup,
		store:       cfg.Store,
		clock:       cfg.Clock,
		emitter:     cfg.Emitter,
		logger:      cfg.Logger,
		selector:    cfg.Selector,
		onShow:      cfg.OnShow,
		onHide:      cfg.OnHide,
		ctx:         ctx,
		cancel:      cancel,
		timerCtx:    timerCtx,
		timerCancel: timerCancel,
		state:       StateIdle,
	}, nil
}

// ID returns the opaque session identifier stamped on every emitted event.
func (s *Session) ID() string {
	return s.id
}

// State returns the current trigger state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start arms the trigger. An inactive config stays Idle forever.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle || !s.popup.Active {
		return
	}
	s.armedAt = s.clock.Now()

	if s.popup.DisplayRules.ExitIntentEnabled {
		s.state = StateArmedExitIntent
		return
	}

	s.state = StateArmedDelay
	delay := time.Duration(s.popup.DisplayRules.DisplayDelayMs) * time.Millisecond
	fire := s.clock.After(delay)
	go func() {
		select {
		case <-fire:
			s.evaluateShow()
		case <-s.timerCtx.Done():
		}
	}()
}

// SignalExitIntent reports a pointer-leave-toward-chrome signal. Only the
// first qualifying signal per session evaluates display; re-arming does not
// happen.
func (s *Session) SignalExitIntent() {
	s.mu.Lock()
	if s.state != StateArmedExitIntent || s.exitConsumed {
		s.mu.Unlock()
		return
	}
	// Signals arriving before the configured grace delay do not qualify.
	grace := time.Duration(s.popup.DisplayRules.ExitIntentDelayMs) * time.Millisecond
	if s.clock.Now().Sub(s.armedAt) < grace {
		s.mu.Unlock()
		return
	}
	s.exitConsumed = true
	s.mu.Unlock()

	s.evaluateShow()
}

// evaluateShow runs the frequency check and transitions to Shown, or stands
// the session down to Idle. Late timer fires after a terminal transition are
// no-ops.
func (s *Session) evaluateShow() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateArmedDelay && s.state != StateArmedExitIntent {
		return
	}

	now := s.clock.Now()
	freq := loadFrequencyState(s.ctx, s.store, s.shop)
	if !ShouldShow(s.popup.DisplayRules, freq, now) {
		s.logger.Debug("Popup display suppressed by frequency capping",
			slog.String("shop", s.shop),
			slog.String("frequency", string(s.popup.DisplayRules.Frequency)))
		s.state = StateIdle
		return
	}

	s.state = StateShown
	s.persistShownLocked(freq, now)
	s.emit(events.EventTypeView, EmitInput{})

	if s.onShow != nil {
		s.onShow(s.popup)
	}

	if s.popup.Variant == popups.VariantTimerCountdown {
		s.startCountdownLocked()
	}
}

// ShouldShow decides whether the popup may display now, given the display
// rules and the visitor's persisted history. Pure; the "always" frequency
// additionally skips any state write on show.
func ShouldShow(rules popups.DisplayRules, freq FrequencyState, now time.Time) bool {
	if freq.SnoozeUntil != nil && now.Before(*freq.SnoozeUntil) {
		return false
	}

	switch rules.Frequency {
	case popups.FrequencyOnce:
		return !freq.ShownOnce
	case popups.FrequencyDaily:
		return freq.LastShownAt == nil || now.Sub(*freq.LastShownAt) > dailyWindow
	case popups.FrequencyWeekly:
		return freq.LastShownAt == nil || now.Sub(*freq.LastShownAt) > weeklyWindow
	case popups.FrequencyAlways:
		return true
	default:
		return false
	}
}

// persistShownLocked records the display per frequency policy. "always"
// deliberately writes nothing.
func (s *Session) persistShownLocked(freq FrequencyState, now time.Time) {
	switch s.popup.DisplayRules.Frequency {
	case popups.FrequencyOnce:
		freq.ShownOnce = true
	case popups.FrequencyDaily, popups.FrequencyWeekly:
		shownAt := now
		freq.LastShownAt = &shownAt
	case popups.FrequencyAlways:
		return
	}
	if err := saveFrequencyState(s.ctx, s.store, s.shop, freq); err != nil {
		s.logger.Warn("Failed to persist frequency state", slog.Any("error", err))
	}
}

// Close handles the visitor explicitly dismissing the popup.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateShown {
		return
	}
	s.emit(events.EventTypeClose, EmitInput{})
	s.terminateLocked(StateDismissed)
}

// AskLater snoozes the popup for one hour. Community variant only.
func (s *Session) AskLater() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.popup.Variant != popups.VariantCommunitySocial {
		return ErrWrongVariant
	}
	if s.state != StateShown {
		return ErrNotShown
	}

	now := s.clock.Now()
	freq := loadFrequencyState(s.ctx, s.store, s.shop)
	until := now.Add(snoozeDuration)
	freq.SnoozeUntil = &until
	if err := saveFrequencyState(s.ctx, s.store, s.shop, freq); err != nil {
		s.logger.Warn("Failed to persist snooze", slog.Any("error", err))
	}

	s.emit(events.EventTypeAskMeLater, EmitInput{})
	s.terminateLocked(StateDismissed)
	return nil
}

// SubmitEmail records an address entered by the visitor. For the wheel combo
// the funnel continues to the spin; every other variant converts here. Any
// running countdown halts for good.
func (s *Session) SubmitEmail(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateShown {
		return ErrNotShown
	}
	if !events.ValidEmail(email) {
		return fmt.Errorf("%w: %q", ErrInvalidEmailSub, email)
	}

	s.emit(events.EventTypeEmailEntered, EmitInput{Email: email})

	if s.countdown != nil {
		s.countdown.Halt()
	}

	if s.popup.Variant != popups.VariantWheelCombo {
		s.terminateLocked(StateConverted)
	}
	return nil
}

// Spin runs the prize wheel once. It emits spin plus the win/lose outcome; a
// win converts the session.
func (s *Session) Spin() (int, popups.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.popup.Variant != popups.VariantWheelCombo {
		return 0, popups.Segment{}, ErrWrongVariant
	}
	if s.state != StateShown {
		return 0, popups.Segment{}, ErrNotShown
	}
	if s.spun {
		return 0, popups.Segment{}, ErrAlreadySpun
	}
	s.spun = true

	s.emit(events.EventTypeSpin, EmitInput{})

	index, segment, err := s.selector.Select(s.popup.Settings.Wheel.Segments)
	if err != nil {
		return 0, popups.Segment{}, err
	}

	if segment.IsWin() {
		s.emit(events.EventTypeWin, EmitInput{
			PrizeLabel:   segment.Label,
			DiscountCode: segment.PrizeCode,
		})
		s.terminateLocked(StateConverted)
	} else {
		s.emit(events.EventTypeLose, EmitInput{PrizeLabel: segment.Label})
	}
	return index, segment, nil
}

// CopyCode records the visitor copying a revealed discount code.
func (s *Session) CopyCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateShown && s.state != StateConverted {
		return
	}
	s.emit(events.EventTypeCopyCode, EmitInput{DiscountCode: code})
}

// Countdown returns the composed countdown timer, nil unless the popup is
// the timer variant and it has been shown.
func (s *Session) Countdown() *Countdown {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countdown
}

// Unload tears the session down on page unload: every pending timer and
// in-flight emit is cancelled. No event is recorded.
func (s *Session) Unload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.countdown != nil {
		s.countdown.Halt()
	}
	if !s.state.Terminal() {
		s.state = StateDismissed
	}
	s.cancel()
}

func (s *Session) startCountdownLocked() {
	timer := s.popup.Settings.Timer
	s.countdown = NewCountdown(CountdownConfig{
		Shop:     s.shop,
		Settings: *timer,
		Store:    s.store,
		Clock:    s.clock,
		Logger:   s.logger,
		OnExpire: func(policy popups.ExpirationPolicy) {
			s.emit(events.EventTypeTimerExpired, EmitInput{})
			if policy == popups.ExpirationHide && s.onHide != nil {
				s.onHide()
			}
		},
	})
	if err := s.countdown.Start(s.timerCtx); err != nil {
		s.logger.Warn("Failed to start countdown", slog.Any("error", err))
	}
}

// terminateLocked performs the one-way transition into a terminal state and
// cancels all scheduled callbacks. In-flight emits keep running; only page
// unload cuts those off.
func (s *Session) terminateLocked(terminal State) {
	s.state = terminal
	if s.countdown != nil {
		s.countdown.Halt()
	}
	s.timerCancel()
}

// emit stamps and sends an event, fire-and-forget. It reads only fields that
// never change after construction, so it is safe with or without s.mu held.
func (s *Session) emit(eventType events.EventType, input EmitInput) {
	input.Shop = s.shop
	input.PopupID = s.popup.ID
	input.EventType = eventType
	input.SessionID = s.id
	input.Timestamp = s.clock.Now()
	s.emitter.Emit(s.ctx, input)
}
