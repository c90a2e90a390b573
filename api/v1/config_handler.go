package v1

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"popkit/internal/popups"
)

// GetPopupConfigHandler serves the active popup configuration for the
// requesting shop, resolved from the Origin header. A readable-but-empty
// store is a 404; a store failure degrades to the hardcoded fallback config
// so the popup never fails dark.
func GetPopupConfigHandler(ctx *cartridge.Context) error {
	shop, err := validateOrigin(ctx.Ctx, ctx.DBManager, ctx.Logger)
	if err != nil {
		return handleError(ctx.Ctx, err)
	}

	db := ctx.DBManager.GetConnection()
	popup, err := popups.GetActivePopupForShop(db, shop.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ctx.Status(http.StatusNotFound).JSON(fiber.Map{
				"error": "No active popup for this shop",
				"code":  "NO_ACTIVE_POPUP",
			})
		}

		ctx.Logger.Warn("Serving fallback popup config",
			slog.String("shop", shop.Domain),
			slog.Any("error", err))
		popup = popups.FallbackConfig()
		popup.ShopID = shop.ID
	}

	return respondWithConfig(ctx, popup)
}

// respondWithConfig writes the config with a strong ETag so the embedded
// script can revalidate cheaply on every page load.
func respondWithConfig(ctx *cartridge.Context, popup *popups.Popup) error {
	body, err := json.Marshal(popup)
	if err != nil {
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to encode popup config",
		})
	}

	etag := generateETag(body)
	if ctx.Get("If-None-Match") == etag {
		return ctx.SendStatus(http.StatusNotModified)
	}

	ctx.Ctx.Set("ETag", etag)
	ctx.Ctx.Set("Content-Type", fiber.MIMEApplicationJSON)
	return ctx.Ctx.Status(http.StatusOK).Send(body)
}
