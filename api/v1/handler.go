package v1

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"popkit/internal/events"
	"popkit/internal/shops"
)

const (
	msgEventAdded     = "Event added successfully"
	errInvalidRequest = "Invalid request"
	errInvalidOrigin  = "Invalid origin"
)

// CreateEventParams is the ingestion payload sent by the embedded popup.
type CreateEventParams struct {
	PopupID      uint                   `json:"popupId"`
	EventType    events.EventType       `json:"eventType"`
	SessionID    string                 `json:"sessionId"`
	Email        string                 `json:"email"`
	DiscountCode string                 `json:"discountCode"`
	PrizeLabel   string                 `json:"prizeLabel"`
	Metadata     map[string]interface{} `json:"metadata"`
	Timestamp    time.Time              `json:"timestamp"`
}

func CreateEventPublicAPIHandler(ctx *cartridge.Context) error {
	ctx.Logger.Info("Received event request", slog.String("method", ctx.Method()), slog.String("path", ctx.Path()))

	params, shop, err := validateAndParseRequest(ctx.Ctx, ctx.DBManager, ctx.Logger)
	if err != nil {
		ctx.Logger.Debug("Failed to validate request", slog.Any("error", err))
		return handleError(ctx.Ctx, err)
	}

	input := &events.CollectEventInput{
		ShopID:       shop.ID,
		PopupID:      params.PopupID,
		EventType:    params.EventType,
		SessionID:    params.SessionID,
		Email:        params.Email,
		DiscountCode: params.DiscountCode,
		PrizeLabel:   params.PrizeLabel,
		Metadata:     params.Metadata,
		Timestamp:    params.Timestamp,
		IPAddress:    getClientIP(ctx.Ctx),
	}

	if err := events.CollectEvent(ctx.DBManager, ctx.Logger, input); err != nil {
		ctx.Logger.Error("Failed to collect event", slog.Any("error", err))
		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "busy") {
			return ctx.Status(599).JSON(fiber.Map{}) // custom status code
		}

		if errors.Is(err, events.ErrUnknownEventType) ||
			errors.Is(err, events.ErrMissingSessionID) ||
			errors.Is(err, events.ErrInvalidEmail) ||
			errors.Is(err, events.ErrMissingPrize) {
			return ctx.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
				"code":  "INVALID_EVENT",
			})
		}

		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to collect event",
			"code":  "COLLECTION_ERROR",
		})
	}

	ctx.Logger.Info("Collected event successfully")
	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": msgEventAdded,
		"status":  http.StatusAccepted,
	})
}

func validateAndParseRequest(c *fiber.Ctx, dbManager cartridge.DBManager, logger *slog.Logger) (*CreateEventParams, *shops.Shop, error) {
	var params CreateEventParams
	if err := c.BodyParser(&params); err != nil {
		return nil, nil, fiber.NewError(http.StatusBadRequest, errInvalidRequest)
	}

	// Validate Origin header against registered shops
	// The Origin header is set by the browser and cannot be spoofed by JavaScript
	shop, err := validateOrigin(c, dbManager, logger)
	if err != nil {
		return nil, nil, err
	}

	return &params, shop, nil
}

// validateOrigin checks if the request comes from a registered shop domain
// using the Origin header (set automatically by browsers for cross-origin requests)
// or falls back to Referer header for same-origin requests
func validateOrigin(c *fiber.Ctx, dbManager cartridge.DBManager, logger *slog.Logger) (*shops.Shop, error) {
	origin := c.Get("Origin")

	// Fall back to Referer if Origin is not present
	if origin == "" {
		origin = c.Get("Referer")
	}

	if origin == "" {
		logger.Debug("No Origin or Referer header present")
		return nil, fiber.NewError(http.StatusForbidden, errInvalidOrigin)
	}

	parsedURL, err := url.Parse(origin)
	if err != nil {
		logger.Debug("Failed to parse origin URL", slog.String("origin", origin), slog.Any("error", err))
		return nil, fiber.NewError(http.StatusForbidden, errInvalidOrigin)
	}

	// Get the base domain (e.g., store.example.com -> example.com)
	hostname := parsedURL.Hostname()
	baseDomain := shops.BaseDomainForHost(hostname)

	db := dbManager.GetConnection()
	shop, err := shops.GetShopByDomain(db, baseDomain)
	if err != nil {
		logger.Debug("Origin domain not registered",
			slog.String("origin", origin),
			slog.String("hostname", hostname),
			slog.String("baseDomain", baseDomain))
		return nil, fiber.NewError(http.StatusForbidden, errInvalidOrigin)
	}

	logger.Debug("Origin validated successfully",
		slog.String("origin", origin),
		slog.String("baseDomain", baseDomain))

	return shop, nil
}

// CreateEventBeaconHandler handles event requests sent via navigator.sendBeacon
// on page unload. Beacon requests always get 202; there is nobody left to read
// an error response.
func CreateEventBeaconHandler(ctx *cartridge.Context) error {
	ctx.Logger.Info("Received beacon event request",
		slog.String("method", ctx.Method()),
		slog.String("path", ctx.Path()))

	// Parse the beacon request (always sent as text/plain)
	body := ctx.Body()
	var params CreateEventParams
	if err := json.Unmarshal(body, &params); err != nil {
		ctx.Logger.Debug("Failed to parse beacon request", slog.Any("error", err))
		return ctx.SendStatus(http.StatusAccepted)
	}

	shop, err := validateOrigin(ctx.Ctx, ctx.DBManager, ctx.Logger)
	if err != nil {
		ctx.Logger.Debug("Invalid origin in beacon request")
		return ctx.SendStatus(http.StatusAccepted)
	}

	input := &events.CollectEventInput{
		ShopID:       shop.ID,
		PopupID:      params.PopupID,
		EventType:    params.EventType,
		SessionID:    params.SessionID,
		Email:        params.Email,
		DiscountCode: params.DiscountCode,
		PrizeLabel:   params.PrizeLabel,
		Metadata:     params.Metadata,
		Timestamp:    params.Timestamp,
		IPAddress:    getClientIP(ctx.Ctx),
	}

	if err := events.CollectEvent(ctx.DBManager, ctx.Logger, input); err != nil {
		ctx.Logger.Error("Failed to collect beacon event",
			slog.Any("error", err),
			slog.String("eventType", string(params.EventType)))
		return ctx.SendStatus(http.StatusAccepted)
	}

	ctx.Logger.Info("Collected beacon event successfully",
		slog.String("eventType", string(params.EventType)))

	return ctx.SendStatus(http.StatusAccepted)
}

func handleError(c *fiber.Ctx, err error) error {
	if fiberErr, ok := err.(*fiber.Error); ok {
		return c.Status(fiberErr.Code).JSON(fiber.Map{
			"error": fiberErr.Message,
		})
	}

	return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
		"error": errInvalidRequest,
	})
}
