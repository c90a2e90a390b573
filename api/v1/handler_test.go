// Package v1_test contains tests for the API v1 handlers
package v1_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popkit/internal/events"
	"popkit/internal/testsupport"
)

func eventPayload(popupID uint, eventType events.EventType) map[string]interface{} {
	return map[string]interface{}{
		"popupId":   popupID,
		"eventType": eventType,
		"sessionId": "f47ac10b",
		"metadata":  map[string]interface{}{},
		"timestamp": time.Now().UTC(),
	}
}

func postEvent(t *testing.T, path string, payload map[string]interface{}, origin string) *http.Request {
	t.Helper()

	jsonPayload, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", path, bytes.NewReader(jsonPayload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Test-Agent")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	return req
}

func TestCreateEventPublicAPIHandler(t *testing.T) {
	t.Run("accepts valid event with registered origin", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanAllTables(db)

		shop := testsupport.CreateTestShop(db, "example.com")
		require.NotZero(t, shop.ID)
		popup := testsupport.CreateTestPopup(t, db, shop.ID)

		app := testsupport.CreateMinimalTestApp(t, db)

		req := postEvent(t, "/x/api/v1/events", eventPayload(popup.ID, events.EventTypeView), "https://store.example.com")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)

		if resp.StatusCode != http.StatusAccepted {
			respBody, _ := io.ReadAll(resp.Body)
			t.Logf("Response body: %s", string(respBody))
		}
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		var respBody map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &respBody))
		assert.Equal(t, "Event added successfully", respBody["message"])
		assert.Equal(t, float64(http.StatusAccepted), respBody["status"])

		var count int64
		require.NoError(t, db.Model(&events.AnalyticsEvent{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)

		var stored events.AnalyticsEvent
		require.NoError(t, db.First(&stored).Error)
		assert.Equal(t, shop.ID, stored.ShopID)
		assert.Equal(t, popup.ID, stored.PopupID)
	})

	t.Run("rejects request from unregistered origin", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanAllTables(db)

		app := testsupport.CreateMinimalTestApp(t, db)

		req := postEvent(t, "/x/api/v1/events", eventPayload(1, events.EventTypeView), "https://nonexistent-domain.com")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		var count int64
		db.Model(&events.AnalyticsEvent{}).Count(&count)
		assert.Equal(t, int64(0), count)
	})

	t.Run("rejects request without origin or referer", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanAllTables(db)
		testsupport.CreateTestShop(db, "example.com")

		app := testsupport.CreateMinimalTestApp(t, db)

		req := postEvent(t, "/x/api/v1/events", eventPayload(1, events.EventTypeView), "")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("falls back to referer for same-origin requests", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanAllTables(db)
		shop := testsupport.CreateTestShop(db, "example.com")
		popup := testsupport.CreateTestPopup(t, db, shop.ID)

		app := testsupport.CreateMinimalTestApp(t, db)

		req := postEvent(t, "/x/api/v1/events", eventPayload(popup.ID, events.EventTypeClose), "")
		req.Header.Set("Referer", "https://example.com/products/mug")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	})

	t.Run("rejects unknown event type with 422", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanAllTables(db)
		shop := testsupport.CreateTestShop(db, "example.com")
		popup := testsupport.CreateTestPopup(t, db, shop.ID)

		app := testsupport.CreateMinimalTestApp(t, db)

		payload := eventPayload(popup.ID, "page_view")
		req := postEvent(t, "/x/api/v1/events", payload, "https://example.com")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		body, _ := io.ReadAll(resp.Body)
		var respBody map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &respBody))
		assert.Equal(t, "INVALID_EVENT", respBody["code"])
	})

	t.Run("rejects email event with malformed email", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanAllTables(db)
		shop := testsupport.CreateTestShop(db, "example.com")
		popup := testsupport.CreateTestPopup(t, db, shop.ID)

		app := testsupport.CreateMinimalTestApp(t, db)

		payload := eventPayload(popup.ID, events.EventTypeEmailEntered)
		payload["email"] = "not-an-email"
		req := postEvent(t, "/x/api/v1/events", payload, "https://example.com")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})
}

func TestCreateEventBeaconHandler(t *testing.T) {
	t.Run("stores a valid beacon event", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanAllTables(db)
		shop := testsupport.CreateTestShop(db, "example.com")
		popup := testsupport.CreateTestPopup(t, db, shop.ID)

		app := testsupport.CreateMinimalTestApp(t, db)

		payload := eventPayload(popup.ID, events.EventTypeClose)
		jsonPayload, err := json.Marshal(payload)
		require.NoError(t, err)

		// sendBeacon posts as text/plain
		req := httptest.NewRequest("POST", "/x/api/v1/events/beacon", bytes.NewReader(jsonPayload))
		req.Header.Set("Content-Type", "text/plain")
		req.Header.Set("Origin", "https://example.com")
		req.Header.Set("Sec-Fetch-Site", "cross-site")

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		var count int64
		require.NoError(t, db.Model(&events.AnalyticsEvent{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("returns 202 even for invalid requests", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanAllTables(db)

		app := testsupport.CreateMinimalTestApp(t, db)

		cases := []struct {
			name   string
			body   []byte
			origin string
		}{
			{"garbage body", []byte("not json"), "https://example.com"},
			{"unregistered origin", []byte(`{"eventType":"view","sessionId":"s"}`), "https://nonexistent-domain.com"},
			{"missing origin", []byte(`{"eventType":"view","sessionId":"s"}`), ""},
		}

		for _, tc := range cases {
			req := httptest.NewRequest("POST", "/x/api/v1/events/beacon", bytes.NewReader(tc.body))
			req.Header.Set("Content-Type", "text/plain")
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			req.Header.Set("Sec-Fetch-Site", "cross-site")

			resp, err := app.Test(req, 30000)
			require.NoError(t, err, tc.name)
			assert.Equal(t, http.StatusAccepted, resp.StatusCode, tc.name)
		}

		var count int64
		db.Model(&events.AnalyticsEvent{}).Count(&count)
		assert.Equal(t, int64(0), count)
	})
}
