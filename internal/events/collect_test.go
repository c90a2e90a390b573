package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popkit/internal/events"
	"popkit/internal/testsupport"
)

func TestCollectEventStoresRecord(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	dbManager := testsupport.NewTestDBManager(db)
	logger := testsupport.GetLogger()

	input := &events.CollectEventInput{
		ShopID:    1,
		PopupID:   2,
		EventType: events.EventTypeView,
		SessionID: "f47ac10b",
		Metadata:  map[string]interface{}{"variant": "wheel_combo"},
		IPAddress: "203.0.113.7",
	}
	require.NoError(t, events.CollectEvent(dbManager, logger, input))

	var stored events.AnalyticsEvent
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, uint(1), stored.ShopID)
	assert.Equal(t, uint(2), stored.PopupID)
	assert.Equal(t, events.EventTypeView, stored.EventType)
	assert.Equal(t, "f47ac10b", stored.SessionID)
	assert.Contains(t, stored.Metadata, "wheel_combo")
	assert.NotEmpty(t, stored.Country)
	assert.False(t, stored.Timestamp.IsZero())
}

func TestCollectEventRejectsInvalidInput(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	dbManager := testsupport.NewTestDBManager(db)
	logger := testsupport.GetLogger()

	err := events.CollectEvent(dbManager, logger, &events.CollectEventInput{
		ShopID:    1,
		EventType: "page_view",
		SessionID: "abc",
	})
	assert.ErrorIs(t, err, events.ErrUnknownEventType)

	err = events.CollectEvent(dbManager, logger, &events.CollectEventInput{
		ShopID:    1,
		EventType: events.EventTypeEmailEntered,
		SessionID: "abc",
		Email:     "broken",
	})
	assert.ErrorIs(t, err, events.ErrInvalidEmail)

	var count int64
	db.Model(&events.AnalyticsEvent{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestQueriesAndRetention(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Now().UTC()

	fresh := testsupport.SeedEvent(t, db, 1, 1, events.EventTypeView, "s1", now.Add(-time.Hour))
	testsupport.SeedEvent(t, db, 1, 2, events.EventTypeView, "s2", now.Add(-2*time.Hour))
	testsupport.SeedEvent(t, db, 2, 1, events.EventTypeView, "s3", now.Add(-time.Hour))

	list, err := events.EventsForShopSince(db, 1, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 2)
	// Oldest first.
	assert.True(t, list[0].Timestamp.Before(list[1].Timestamp))

	scoped, err := events.EventsForPopupSince(db, 1, 1, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, fresh.ID, scoped[0].ID)

	count, err := events.CountEventsForShop(db, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Age one record past the cutoff and purge it.
	old := testsupport.SeedEvent(t, db, 1, 1, events.EventTypeClose, "s4", now.Add(-100*24*time.Hour))
	require.NoError(t, db.Model(&events.AnalyticsEvent{}).
		Where("id = ?", old.ID).
		Update("created_at", now.Add(-100*24*time.Hour)).Error)

	deleted, err := events.DeleteEventsOlderThan(db, now.Add(-90*24*time.Hour), 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining int64
	db.Model(&events.AnalyticsEvent{}).Count(&remaining)
	assert.Equal(t, int64(3), remaining)
}
