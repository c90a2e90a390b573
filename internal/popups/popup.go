package popups

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Variant identifies the popup type. Exactly one settings arm must be
// populated for the matching variant; mismatched or ambiguous payloads are
// rejected at the config boundary instead of being probed at use sites.
type Variant string

const (
	VariantEmailCapture    Variant = "email_capture"
	VariantWheelCombo      Variant = "wheel_combo"
	VariantCommunitySocial Variant = "community_social"
	VariantTimerCountdown  Variant = "timer_countdown"
)

// Frequency controls how often a popup may reappear to the same visitor.
type Frequency string

const (
	FrequencyOnce   Frequency = "once"
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
	FrequencyAlways Frequency = "always"
)

// ExpirationPolicy controls what a timer popup does when the countdown hits zero.
type ExpirationPolicy string

const (
	ExpirationShowExpired ExpirationPolicy = "show_expired"
	ExpirationHide        ExpirationPolicy = "hide"
)

// Validation errors surfaced at the config-fetch boundary.
var (
	ErrUnknownVariant    = errors.New("unknown popup variant")
	ErrNoPayload         = errors.New("popup config has no variant payload")
	ErrAmbiguousPayload  = errors.New("popup config has more than one variant payload")
	ErrPayloadMismatch   = errors.New("popup payload does not match declared variant")
	ErrEmptySegments     = errors.New("wheel popup requires at least one segment")
	ErrNegativeDelay     = errors.New("display delay must be >= 0")
	ErrNegativeDuration  = errors.New("timer duration must be >= 0")
	ErrInvalidFrequency  = errors.New("invalid display frequency")
	ErrInvalidExpiration = errors.New("invalid expiration policy")
)

// DisplayRules govern when the trigger controller may show a popup.
type DisplayRules struct {
	Frequency         Frequency `json:"frequency"`
	ExitIntentEnabled bool      `json:"exit_intent_enabled"`
	ExitIntentDelayMs int       `json:"exit_intent_delay_ms"`
	DisplayDelayMs    int       `json:"display_delay_ms"`
}

// Segment is one slice of a prize wheel. A segment is a winning outcome iff
// it carries a redeemable prize code; the label alone never decides a win.
type Segment struct {
	Label     string `json:"label"`
	PrizeCode string `json:"prize_code,omitempty"`
}

// IsWin reports whether landing on this segment is a winning outcome.
func (s Segment) IsWin() bool {
	return s.PrizeCode != ""
}

// EmailSettings configures the email capture variant.
type EmailSettings struct {
	Headline    string `json:"headline"`
	SubmitLabel string `json:"submit_label"`
}

// WheelSettings configures the wheel variant. Segments are ordered; the order
// defines wheel positions for the cosmetic rotation only.
type WheelSettings struct {
	Segments []Segment `json:"segments"`
}

// SocialLink is one follow target of the community variant.
type SocialLink struct {
	Network string `json:"network"`
	URL     string `json:"url"`
}

// SocialSettings configures the community/social-follow variant. This is the
// only variant that offers the visitor an "ask me later" snooze.
type SocialSettings struct {
	Headline string       `json:"headline"`
	Links    []SocialLink `json:"links"`
}

// TimerSettings configures the countdown variant.
type TimerSettings struct {
	DurationSeconds int              `json:"duration_seconds"`
	OnExpiration    ExpirationPolicy `json:"on_expiration"`
}

// Settings is the tagged union over the variant payloads. Exactly one arm is
// non-nil on a valid config.
type Settings struct {
	Email  *EmailSettings  `json:"email,omitempty"`
	Wheel  *WheelSettings  `json:"wheel,omitempty"`
	Social *SocialSettings `json:"social,omitempty"`
	Timer  *TimerSettings  `json:"timer,omitempty"`
}

// Popup is one promotional popup configuration. A shop has at most one active
// popup at a time.
type Popup struct {
	ID           uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	ShopID       uint         `gorm:"index;not null" json:"shop_id"`
	Name         string       `json:"name"`
	Variant      Variant      `gorm:"index;not null" json:"variant"`
	Active       bool         `gorm:"index" json:"active"`
	DisplayRules DisplayRules `gorm:"serializer:json" json:"display_rules"`
	Settings     Settings     `gorm:"serializer:json" json:"settings"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Validate enforces the tagged-union invariant and per-variant payload rules.
func (p *Popup) Validate() error {
	switch p.Variant {
	case VariantEmailCapture, VariantWheelCombo, VariantCommunitySocial, VariantTimerCountdown:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownVariant, p.Variant)
	}

	if err := p.DisplayRules.validate(); err != nil {
		return err
	}

	populated := 0
	if p.Settings.Email != nil {
		populated++
	}
	if p.Settings.Wheel != nil {
		populated++
	}
	if p.Settings.Social != nil {
		populated++
	}
	if p.Settings.Timer != nil {
		populated++
	}
	if populated == 0 {
		return ErrNoPayload
	}
	if populated > 1 {
		return ErrAmbiguousPayload
	}

	switch p.Variant {
	case VariantEmailCapture:
		if p.Settings.Email == nil {
			return fmt.Errorf("%w: variant %q", ErrPayloadMismatch, p.Variant)
		}
	case VariantWheelCombo:
		if p.Settings.Wheel == nil {
			return fmt.Errorf("%w: variant %q", ErrPayloadMismatch, p.Variant)
		}
		if len(p.Settings.Wheel.Segments) == 0 {
			return ErrEmptySegments
		}
	case VariantCommunitySocial:
		if p.Settings.Social == nil {
			return fmt.Errorf("%w: variant %q", ErrPayloadMismatch, p.Variant)
		}
	case VariantTimerCountdown:
		if p.Settings.Timer == nil {
			return fmt.Errorf("%w: variant %q", ErrPayloadMismatch, p.Variant)
		}
		if p.Settings.Timer.DurationSeconds < 0 {
			return ErrNegativeDuration
		}
		switch p.Settings.Timer.OnExpiration {
		case ExpirationShowExpired, ExpirationHide:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidExpiration, p.Settings.Timer.OnExpiration)
		}
	}

	return nil
}

func (r DisplayRules) validate() error {
	switch r.Frequency {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyAlways:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, r.Frequency)
	}
	if r.DisplayDelayMs < 0 || r.ExitIntentDelayMs < 0 {
		return ErrNegativeDelay
	}
	return nil
}

// GetActivePopupForShop returns the active popup configuration for a shop.
// The stored payload is re-validated on the way out so a malformed row never
// reaches the trigger controller.
func GetActivePopupForShop(db *gorm.DB, shopID uint) (*Popup, error) {
	var popup Popup
	err := db.Where("shop_id = ? AND active = ?", shopID, true).
		Order("updated_at DESC").
		First(&popup).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load popup config: %w", err)
	}
	if err := popup.Validate(); err != nil {
		return nil, fmt.Errorf("stored popup config is invalid: %w", err)
	}
	return &popup, nil
}

// SavePopup validates and persists a popup configuration.
func SavePopup(db *gorm.DB, popup *Popup) error {
	if err := popup.Validate(); err != nil {
		return err
	}
	if err := db.Save(popup).Error; err != nil {
		return fmt.Errorf("failed to save popup config: %w", err)
	}
	return nil
}

// FallbackConfig is the documented hardcoded config used when the config
// store is unreachable. The popup degrades to a plain email capture with
// conservative display rules instead of failing dark.
func FallbackConfig() *Popup {
	return &Popup{
		Name:    "fallback",
		Variant: VariantEmailCapture,
		Active:  true,
		DisplayRules: DisplayRules{
			Frequency:      FrequencyDaily,
			DisplayDelayMs: 4000,
		},
		Settings: Settings{
			Email: &EmailSettings{
				Headline:    "Join our newsletter",
				SubmitLabel: "Subscribe",
			},
		},
	}
}
