package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"popkit/internal/kv"
)

// FrequencyState is the per-visitor, per-shop display history consumed by
// frequency capping. It is mutated only by the trigger controller.
type FrequencyState struct {
	ShownOnce   bool       `json:"shown_once"`
	LastShownAt *time.Time `json:"last_shown_at,omitempty"`
	SnoozeUntil *time.Time `json:"snooze_until,omitempty"`
}

func frequencyKey(shop string) string {
	return "popkit:freq:" + shop
}

func deadlineKey(shop string) string {
	return "popkit:deadline:" + shop
}

// loadFrequencyState reads the visitor's display history; a missing or
// unreadable entry yields the zero state so a corrupt record never blocks
// the popup forever.
func loadFrequencyState(ctx context.Context, store kv.Store, shop string) FrequencyState {
	var state FrequencyState
	raw, ok, err := store.Get(ctx, frequencyKey(shop))
	if err != nil || !ok {
		return state
	}
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return FrequencyState{}
	}
	return state
}

func saveFrequencyState(ctx context.Context, store kv.Store, shop string, state FrequencyState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode frequency state: %w", err)
	}
	if err := store.Set(ctx, frequencyKey(shop), string(data)); err != nil {
		return fmt.Errorf("failed to persist frequency state: %w", err)
	}
	return nil
}

// loadDeadline reads the persisted countdown deadline, if any.
func loadDeadline(ctx context.Context, store kv.Store, shop string) (time.Time, bool) {
	raw, ok, err := store.Get(ctx, deadlineKey(shop))
	if err != nil || !ok {
		return time.Time{}, false
	}
	deadline, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return deadline, true
}

func saveDeadline(ctx context.Context, store kv.Store, shop string, deadline time.Time) error {
	if err := store.Set(ctx, deadlineKey(shop), deadline.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to persist countdown deadline: %w", err)
	}
	return nil
}
