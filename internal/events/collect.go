package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"popkit/internal/pkg/geoip"
)

// CollectEventInput defines the input required to collect an event.
type CollectEventInput struct {
	ShopID       uint
	PopupID      uint
	EventType    EventType
	SessionID    string
	Email        string
	DiscountCode string
	PrizeLabel   string
	Metadata     map[string]interface{}
	Timestamp    time.Time
	IPAddress    string
}

// CollectEvent validates and appends one event to the analytics log.
// The log is append-only: callers never get an update or delete path here.
func CollectEvent(dbManager cartridge.DBManager, logger *slog.Logger, input *CollectEventInput) error {
	timestamp := input.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	event := &AnalyticsEvent{
		ShopID:       input.ShopID,
		PopupID:      input.PopupID,
		EventType:    input.EventType,
		SessionID:    input.SessionID,
		Email:        input.Email,
		DiscountCode: input.DiscountCode,
		PrizeLabel:   input.PrizeLabel,
		Metadata:     metadataFromMap(input.Metadata),
		Country:      geoip.CountryForIP(input.IPAddress),
		Timestamp:    timestamp,
		CreatedAt:    time.Now().UTC(),
	}

	if err := event.Validate(); err != nil {
		logger.Debug("Rejected invalid event",
			slog.String("event_type", string(input.EventType)),
			slog.Any("error", err))
		return err
	}

	db := dbManager.GetConnection()
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(event).Error
	})
	if err != nil {
		logger.Error("Failed to store analytics event", slog.Any("error", err))
		return fmt.Errorf("failed to store analytics event: %w", err)
	}

	logger.Debug("Stored analytics event",
		slog.String("event_type", string(event.EventType)),
		slog.Uint64("shop_id", uint64(event.ShopID)))
	return nil
}

// metadataFromMap serializes free-form metadata to a JSON string column.
func metadataFromMap(meta map[string]interface{}) string {
	if len(meta) == 0 {
		return ""
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return string(data)
}
