package events

import (
	"errors"
	"fmt"
	"net/mail"
	"time"
)

// EventType is the closed set of visitor actions recorded by the popup engine.
type EventType string

const (
	EventTypeView         EventType = "view"
	EventTypeEmailEntered EventType = "email_entered"
	EventTypeSpin         EventType = "spin"
	EventTypeWin          EventType = "win"
	EventTypeLose         EventType = "lose"
	EventTypeClose        EventType = "close"
	EventTypeCopyCode     EventType = "copy_code"
	EventTypeAskMeLater   EventType = "ask_me_later"
	EventTypeTimerExpired EventType = "timer_expired"
)

// allEventTypes lists every accepted type; anything else is rejected at the
// ingestion boundary.
var allEventTypes = map[EventType]bool{
	EventTypeView:         true,
	EventTypeEmailEntered: true,
	EventTypeSpin:         true,
	EventTypeWin:          true,
	EventTypeLose:         true,
	EventTypeClose:        true,
	EventTypeCopyCode:     true,
	EventTypeAskMeLater:   true,
	EventTypeTimerExpired: true,
}

// IsValid reports whether t is a known event type.
func (t EventType) IsValid() bool {
	return allEventTypes[t]
}

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingSessionID = errors.New("event requires a session id")
	ErrMissingShop      = errors.New("event requires a shop")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrMissingPrize     = errors.New("win event requires a prize label")
)

// AnalyticsEvent is one immutable record in the append-only event log.
// Rows are never updated; the only delete path is the retention cleanup job.
type AnalyticsEvent struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ShopID       uint      `gorm:"index:idx_shop_timestamp;not null" json:"shop_id"`
	PopupID      uint      `gorm:"index" json:"popup_id"`
	EventType    EventType `gorm:"index;not null" json:"event_type"`
	SessionID    string    `gorm:"index;size:64;not null" json:"session_id"`
	Email        string    `gorm:"index" json:"email,omitempty"`
	DiscountCode string    `json:"discount_code,omitempty"`
	PrizeLabel   string    `gorm:"index" json:"prize_label,omitempty"`
	Metadata     string    `gorm:"type:text" json:"metadata,omitempty"`
	Country      string    `json:"country,omitempty"`
	Timestamp    time.Time `gorm:"index:idx_shop_timestamp;not null" json:"timestamp"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate enforces the per-type required field set. The event types form a
// closed set: each variant has its own contract instead of one loose record
// where every field is optional everywhere.
func (e *AnalyticsEvent) Validate() error {
	if !e.EventType.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, e.EventType)
	}
	if e.ShopID == 0 {
		return ErrMissingShop
	}
	if e.SessionID == "" {
		return ErrMissingSessionID
	}

	switch e.EventType {
	case EventTypeEmailEntered:
		if !ValidEmail(e.Email) {
			return fmt.Errorf("%w: %q", ErrInvalidEmail, e.Email)
		}
	case EventTypeWin:
		if e.PrizeLabel == "" {
			return ErrMissingPrize
		}
	}

	// Email is optional on other types, but when present it must be well formed.
	if e.Email != "" && !ValidEmail(e.Email) {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, e.Email)
	}

	return nil
}

// ValidEmail reports whether addr parses as a bare RFC 5322 address.
func ValidEmail(addr string) bool {
	if addr == "" {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	return err == nil && parsed.Address == addr
}
