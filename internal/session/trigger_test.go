package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popkit/internal/events"
	"popkit/internal/kv"
	"popkit/internal/popups"
)

func emailPopup(freq popups.Frequency) *popups.Popup {
	return &popups.Popup{
		ID:      1,
		ShopID:  1,
		Variant: popups.VariantEmailCapture,
		Active:  true,
		DisplayRules: popups.DisplayRules{
			Frequency:      freq,
			DisplayDelayMs: 2000,
		},
		Settings: popups.Settings{
			Email: &popups.EmailSettings{Headline: "Get 10% off", SubmitLabel: "Subscribe"},
		},
	}
}

func wheelPopup(segments []popups.Segment) *popups.Popup {
	return &popups.Popup{
		ID:      2,
		ShopID:  1,
		Variant: popups.VariantWheelCombo,
		Active:  true,
		DisplayRules: popups.DisplayRules{
			Frequency:      popups.FrequencyAlways,
			DisplayDelayMs: 1000,
		},
		Settings: popups.Settings{
			Wheel: &popups.WheelSettings{Segments: segments},
		},
	}
}

func socialPopup() *popups.Popup {
	return &popups.Popup{
		ID:      3,
		ShopID:  1,
		Variant: popups.VariantCommunitySocial,
		Active:  true,
		DisplayRules: popups.DisplayRules{
			Frequency:      popups.FrequencyAlways,
			DisplayDelayMs: 1000,
		},
		Settings: popups.Settings{
			Social: &popups.SocialSettings{
				Headline: "Follow us",
				Links:    []popups.SocialLink{{Network: "instagram", URL: "https://instagram.com/shop"}},
			},
		},
	}
}

func newTestSession(t *testing.T, popup *popups.Popup, clock Clock, store kv.Store) (*Session, *RecordingEmitter) {
	t.Helper()
	emitter := NewRecordingEmitter()
	s, err := New(Config{
		Shop:    "example.com",
		Popup:   popup,
		Store:   store,
		Clock:   clock,
		Emitter: emitter,
	})
	require.NoError(t, err)
	t.Cleanup(s.Unload)
	return s, emitter
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return s.State() == want
	}, time.Second, time.Millisecond, "expected state %s, got %s", want, s.State())
}

func TestSessionRequiresValidConfig(t *testing.T) {
	_, err := New(Config{Popup: nil, Store: kv.NewMemory(), Emitter: NewRecordingEmitter()})
	assert.Error(t, err)

	bad := emailPopup(popups.FrequencyOnce)
	bad.Settings.Email = nil
	_, err = New(Config{Shop: "example.com", Popup: bad, Store: kv.NewMemory(), Emitter: NewRecordingEmitter()})
	assert.Error(t, err)

	_, err = New(Config{Shop: "example.com", Popup: emailPopup(popups.FrequencyOnce), Emitter: NewRecordingEmitter()})
	assert.Error(t, err)
}

func TestDelayTriggerShowsAndEmitsView(t *testing.T) {
	clock := newManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := kv.NewMemory()
	s, emitter := newTestSession(t, emailPopup(popups.FrequencyOnce), clock, store)

	s.Start()
	assert.Equal(t, StateArmedDelay, s.State())

	clock.Advance(2 * time.Second)
	clock.FireAfter()

	waitForState(t, s, StateShown)
	assert.Equal(t, 1, emitter.CountByType(events.EventTypeView))

	// The display is persisted for the "once" policy.
	freq := loadFrequencyState(context.Background(), store, "example.com")
	assert.True(t, freq.ShownOnce)
}

func TestFrequencyOnceSuppressesSecondSession(t *testing.T) {
	clock := newManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := kv.NewMemory()

	first, _ := newTestSession(t, emailPopup(popups.FrequencyOnce), clock, store)
	first.Start()
	clock.FireAfter()
	waitForState(t, first, StateShown)
	first.Unload()

	second, emitter := newTestSession(t, emailPopup(popups.FrequencyOnce), clock, store)
	second.Start()
	clock.FireAfter()
	waitForState(t, second, StateIdle)
	assert.Equal(t, 0, emitter.CountByType(events.EventTypeView))
}

func TestInactivePopupNeverArms(t *testing.T) {
	popup := emailPopup(popups.FrequencyAlways)
	popup.Active = false
	clock := newManualClock(time.Now().UTC())
	s, _ := newTestSession(t, popup, clock, kv.NewMemory())

	s.Start()
	assert.Equal(t, StateIdle, s.State())
}

func TestShouldShowFrequencyWindows(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hourAgo := now.Add(-time.Hour)
	twoDaysAgo := now.Add(-48 * time.Hour)
	eightDaysAgo := now.Add(-8 * 24 * time.Hour)
	soon := now.Add(30 * time.Minute)

	cases := []struct {
		name  string
		rules popups.DisplayRules
		freq  FrequencyState
		want  bool
	}{
		{"once never shown", popups.DisplayRules{Frequency: popups.FrequencyOnce}, FrequencyState{}, true},
		{"once already shown", popups.DisplayRules{Frequency: popups.FrequencyOnce}, FrequencyState{ShownOnce: true}, false},
		{"daily shown an hour ago", popups.DisplayRules{Frequency: popups.FrequencyDaily}, FrequencyState{LastShownAt: &hourAgo}, false},
		{"daily shown two days ago", popups.DisplayRules{Frequency: popups.FrequencyDaily}, FrequencyState{LastShownAt: &twoDaysAgo}, true},
		{"weekly shown two days ago", popups.DisplayRules{Frequency: popups.FrequencyWeekly}, FrequencyState{LastShownAt: &twoDaysAgo}, false},
		{"weekly shown eight days ago", popups.DisplayRules{Frequency: popups.FrequencyWeekly}, FrequencyState{LastShownAt: &eightDaysAgo}, true},
		{"always with history", popups.DisplayRules{Frequency: popups.FrequencyAlways}, FrequencyState{ShownOnce: true, LastShownAt: &hourAgo}, true},
		{"snoozed", popups.DisplayRules{Frequency: popups.FrequencyAlways}, FrequencyState{SnoozeUntil: &soon}, false},
		{"snooze elapsed", popups.DisplayRules{Frequency: popups.FrequencyAlways}, FrequencyState{SnoozeUntil: &hourAgo}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ShouldShow(tc.rules, tc.freq, now))
		})
	}
}

func TestExitIntentGracePeriod(t *testing.T) {
	popup := emailPopup(popups.FrequencyAlways)
	popup.DisplayRules.ExitIntentEnabled = true
	popup.DisplayRules.ExitIntentDelayMs = 500

	clock := newManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s, emitter := newTestSession(t, popup, clock, kv.NewMemory())

	s.Start()
	assert.Equal(t, StateArmedExitIntent, s.State())

	// A signal inside the grace period does not qualify.
	s.SignalExitIntent()
	assert.Equal(t, StateArmedExitIntent, s.State())

	clock.Advance(600 * time.Millisecond)
	s.SignalExitIntent()
	assert.Equal(t, StateShown, s.State())
	assert.Equal(t, 1, emitter.CountByType(events.EventTypeView))

	// Further signals are no-ops.
	s.SignalExitIntent()
	assert.Equal(t, 1, emitter.CountByType(events.EventTypeView))
}

func TestCloseEmitsAndDismisses(t *testing.T) {
	clock := newManualClock(time.Now().UTC())
	s, emitter := newTestSession(t, emailPopup(popups.FrequencyAlways), clock, kv.NewMemory())

	s.Start()
	clock.FireAfter()
	waitForState(t, s, StateShown)

	s.Close()
	assert.Equal(t, StateDismissed, s.State())
	assert.Equal(t, 1, emitter.CountByType(events.EventTypeClose))

	// Closing twice records nothing extra.
	s.Close()
	assert.Equal(t, 1, emitter.CountByType(events.EventTypeClose))
}

func TestAskLaterSnoozesForAnHour(t *testing.T) {
	clock := newManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := kv.NewMemory()
	s, emitter := newTestSession(t, socialPopup(), clock, store)

	s.Start()
	clock.FireAfter()
	waitForState(t, s, StateShown)

	require.NoError(t, s.AskLater())
	assert.Equal(t, StateDismissed, s.State())
	assert.Equal(t, 1, emitter.CountByType(events.EventTypeAskMeLater))

	freq := loadFrequencyState(context.Background(), store, "example.com")
	require.NotNil(t, freq.SnoozeUntil)

	rules := popups.DisplayRules{Frequency: popups.FrequencyAlways}
	assert.False(t, ShouldShow(rules, freq, clock.Now().Add(30*time.Minute)))
	assert.True(t, ShouldShow(rules, freq, clock.Now().Add(61*time.Minute)))
}

func TestAskLaterRejectedForOtherVariants(t *testing.T) {
	clock := newManualClock(time.Now().UTC())
	s, _ := newTestSession(t, emailPopup(popups.FrequencyAlways), clock, kv.NewMemory())

	s.Start()
	clock.FireAfter()
	waitForState(t, s, StateShown)

	assert.ErrorIs(t, s.AskLater(), ErrWrongVariant)
}

func TestSubmitEmailConvertsNonWheelVariants(t *testing.T) {
	clock := newManualClock(time.Now().UTC())
	s, emitter := newTestSession(t, emailPopup(popups.FrequencyAlways), clock, kv.NewMemory())

	s.Start()
	clock.FireAfter()
	waitForState(t, s, StateShown)

	assert.ErrorIs(t, s.SubmitEmail("not-an-email"), ErrInvalidEmailSub)

	require.NoError(t, s.SubmitEmail("alice@example.com"))
	assert.Equal(t, StateConverted, s.State())
	assert.Equal(t, 1, emitter.CountByType(events.EventTypeEmailEntered))

	recorded := emitter.Events()
	last := recorded[len(recorded)-1]
	assert.Equal(t, "alice@example.com", last.Email)
	assert.Equal(t, s.ID(), last.SessionID)
}

func TestWheelFunnelWin(t *testing.T) {
	segments := []popups.Segment{{Label: "10% OFF", PrizeCode: "SAVE10"}}
	clock := newManualClock(time.Now().UTC())
	s, emitter := newTestSession(t, wheelPopup(segments), clock, kv.NewMemory())

	s.Start()
	clock.FireAfter()
	waitForState(t, s, StateShown)

	// Email on the wheel combo keeps the funnel open for the spin.
	require.NoError(t, s.SubmitEmail("bob@example.com"))
	assert.Equal(t, StateShown, s.State())

	index, segment, err := s.Spin()
	require.NoError(t, err)
	assert.Equal(t, 0, index)
	assert.Equal(t, "10% OFF", segment.Label)
	assert.Equal(t, StateConverted, s.State())
	assert.Equal(t, 1, emitter.CountByType(events.EventTypeSpin))
	assert.Equal(t, 1, emitter.CountByType(events.EventTypeWin))

	_, _, err = s.Spin()
	assert.ErrorIs(t, err, ErrNotShown)
}

func TestWheelFunnelLoseStaysShown(t *testing.T) {
	segments := []popups.Segment{{Label: "Better luck next time"}}
	clock := newManualClock(time.Now().UTC())
	s, emitter := newTestSession(t, wheelPopup(segments), clock, kv.NewMemory())

	s.Start()
	clock.FireAfter()
	waitForState(t, s, StateShown)

	_, segment, err := s.Spin()
	require.NoError(t, err)
	assert.False(t, segment.IsWin())
	assert.Equal(t, StateShown, s.State())
	assert.Equal(t, 1, emitter.CountByType(events.EventTypeLose))
	assert.Equal(t, 0, emitter.CountByType(events.EventTypeWin))

	// One spin per session, win or lose.
	_, _, err = s.Spin()
	assert.ErrorIs(t, err, ErrAlreadySpun)
}

func TestSpinRejectedForNonWheel(t *testing.T) {
	clock := newManualClock(time.Now().UTC())
	s, _ := newTestSession(t, emailPopup(popups.FrequencyAlways), clock, kv.NewMemory())

	s.Start()
	clock.FireAfter()
	waitForState(t, s, StateShown)

	_, _, err := s.Spin()
	assert.ErrorIs(t, err, ErrWrongVariant)
}

func TestCopyCodeAfterConversion(t *testing.T) {
	clock := newManualClock(time.Now().UTC())
	s, emitter := newTestSession(t, emailPopup(popups.FrequencyAlways), clock, kv.NewMemory())

	s.Start()
	clock.FireAfter()
	waitForState(t, s, StateShown)
	require.NoError(t, s.SubmitEmail("carol@example.com"))

	s.CopyCode("WELCOME10")
	assert.Equal(t, 1, emitter.CountByType(events.EventTypeCopyCode))

	recorded := emitter.Events()
	assert.Equal(t, "WELCOME10", recorded[len(recorded)-1].DiscountCode)
}

func TestUnloadWithoutShowRecordsNothing(t *testing.T) {
	clock := newManualClock(time.Now().UTC())
	s, emitter := newTestSession(t, emailPopup(popups.FrequencyAlways), clock, kv.NewMemory())

	s.Start()
	s.Unload()
	assert.Equal(t, StateDismissed, s.State())
	assert.Empty(t, emitter.Events())
}
