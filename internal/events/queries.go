package events

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// EventsForShopSince returns a snapshot of all events for a shop with a
// timestamp at or after since, oldest first. The slice is a consistent read
// for one aggregation call; no cross-call consistency is promised.
func EventsForShopSince(db *gorm.DB, shopID uint, since time.Time) ([]AnalyticsEvent, error) {
	var list []AnalyticsEvent
	err := db.Where("shop_id = ? AND timestamp >= ?", shopID, since).
		Order("timestamp ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events for shop %d: %w", shopID, err)
	}
	return list, nil
}

// EventsForPopupSince returns the snapshot restricted to one popup.
func EventsForPopupSince(db *gorm.DB, shopID, popupID uint, since time.Time) ([]AnalyticsEvent, error) {
	var list []AnalyticsEvent
	err := db.Where("shop_id = ? AND popup_id = ? AND timestamp >= ?", shopID, popupID, since).
		Order("timestamp ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events for popup %d: %w", popupID, err)
	}
	return list, nil
}

// CountEventsForShop returns the event count for a shop within the last daysBack days.
func CountEventsForShop(db *gorm.DB, shopID uint, daysBack int) (int64, error) {
	var count int64
	timeLimit := time.Now().UTC().AddDate(0, 0, -daysBack)
	err := db.Model(&AnalyticsEvent{}).
		Where("shop_id = ? AND timestamp >= ?", shopID, timeLimit).
		Count(&count).Error
	return count, err
}

// DeleteEventsOlderThan removes events past the retention cutoff in batches.
// This is the single delete path into the otherwise append-only log.
func DeleteEventsOlderThan(db *gorm.DB, cutoff time.Time, batchSize int) (int64, error) {
	totalDeleted := int64(0)
	for {
		result := db.Where("created_at < ?", cutoff).
			Limit(batchSize).
			Delete(&AnalyticsEvent{})
		if result.Error != nil {
			return totalDeleted, result.Error
		}
		totalDeleted += result.RowsAffected
		if result.RowsAffected < int64(batchSize) {
			break
		}
		// Small delay between batches to prevent database lock contention
		time.Sleep(100 * time.Millisecond)
	}
	return totalDeleted, nil
}
