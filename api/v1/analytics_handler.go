package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"popkit/internal/analytics"
	"popkit/internal/timeframe"
)

// GetAnalyticsReportHandler serves the windowed dashboard report for the
// requesting shop. Accepts window (24h, 7d, 30d), an optional popup_id to
// scope the report, and an optional feed_limit which is clamped server-side.
func GetAnalyticsReportHandler(ctx *cartridge.Context) error {
	shop, err := validateOrigin(ctx.Ctx, ctx.DBManager, ctx.Logger)
	if err != nil {
		return handleError(ctx.Ctx, err)
	}

	windowParam := ctx.Ctx.Query("window", string(timeframe.Window24h))
	window, err := timeframe.ParseWindow(windowParam)
	if err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid window, expected one of 24h, 7d, 30d",
			"code":  "INVALID_WINDOW",
		})
	}

	feedLimit := analytics.FeedMinItems
	if raw := ctx.Ctx.Query("feed_limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid feed_limit",
				"code":  "INVALID_FEED_LIMIT",
			})
		}
		feedLimit = parsed
	}

	var popupID uint
	if raw := ctx.Ctx.Query("popup_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid popup_id",
				"code":  "INVALID_POPUP_ID",
			})
		}
		popupID = uint(parsed)
	}

	source := analytics.NewStoreSource(ctx.DBManager.GetConnection())
	now := time.Now().UTC()

	var report *analytics.Report
	if popupID != 0 {
		report, err = analytics.BuildPopupReport(source, shop.ID, popupID, window, now, feedLimit)
	} else {
		report, err = analytics.BuildReport(source, shop.ID, window, now, feedLimit)
	}
	if err != nil {
		if errors.Is(err, analytics.ErrAggregationUnavailable) {
			ctx.Logger.Error("Analytics aggregation unavailable",
				slog.String("shop", shop.Domain),
				slog.Any("error", err))
			return ctx.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Analytics temporarily unavailable",
				"code":  "AGGREGATION_UNAVAILABLE",
			})
		}
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build report",
		})
	}

	return ctx.Status(http.StatusOK).JSON(report)
}

// GetAnalyticsOverviewHandler serves reports for all supported windows in a
// single response, built concurrently.
func GetAnalyticsOverviewHandler(ctx *cartridge.Context) error {
	shop, err := validateOrigin(ctx.Ctx, ctx.DBManager, ctx.Logger)
	if err != nil {
		return handleError(ctx.Ctx, err)
	}

	source := analytics.NewStoreSource(ctx.DBManager.GetConnection())
	overview, err := analytics.BuildOverview(source, shop.ID, time.Now().UTC(), analytics.FeedMinItems)
	if err != nil {
		ctx.Logger.Error("Analytics overview unavailable",
			slog.String("shop", shop.Domain),
			slog.Any("error", err))
		return ctx.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Analytics temporarily unavailable",
			"code":  "AGGREGATION_UNAVAILABLE",
		})
	}

	return ctx.Status(http.StatusOK).JSON(overview)
}
