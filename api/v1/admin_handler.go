package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"popkit/internal/popups"
	"popkit/internal/shops"
)

// CreateShopParams registers a merchant domain with the platform.
type CreateShopParams struct {
	Domain string `json:"domain"`
	Name   string `json:"name"`
}

// CreateShopHandler registers a shop so its storefront origin is accepted by
// the ingestion and config endpoints.
func CreateShopHandler(ctx *cartridge.Context) error {
	var params CreateShopParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		return handleError(ctx.Ctx, fiber.NewError(http.StatusBadRequest, errInvalidRequest))
	}
	if params.Domain == "" {
		return ctx.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Domain is required",
			"code":  "MISSING_DOMAIN",
		})
	}

	db := ctx.DBManager.GetConnection()

	// Re-registering an existing domain is idempotent.
	if existing, err := shops.GetShopByDomain(db, shops.BaseDomainForHost(params.Domain)); err == nil {
		return ctx.Status(http.StatusOK).JSON(existing)
	}

	var shop *shops.Shop
	err := sqlite.PerformWrite(ctx.Logger, db, func(tx *gorm.DB) error {
		created, err := shops.CreateShop(tx, params.Domain, params.Name)
		if err != nil {
			return err
		}
		shop = created
		return nil
	})
	if err != nil {
		ctx.Logger.Error("Failed to register shop",
			slog.String("domain", params.Domain),
			slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to register shop",
		})
	}

	ctx.Logger.Info("Registered shop", slog.String("domain", shop.Domain))
	return ctx.Status(http.StatusCreated).JSON(shop)
}

// SavePopupHandler creates or updates a shop's popup configuration. The
// payload is validated before it touches storage; activating a popup
// deactivates any other popup of the same shop.
func SavePopupHandler(ctx *cartridge.Context) error {
	var popup popups.Popup
	if err := ctx.Ctx.BodyParser(&popup); err != nil {
		return handleError(ctx.Ctx, fiber.NewError(http.StatusBadRequest, errInvalidRequest))
	}
	if popup.ShopID == 0 {
		return ctx.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "shop_id is required",
			"code":  "MISSING_SHOP",
		})
	}

	if err := popup.Validate(); err != nil {
		return ctx.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "INVALID_POPUP_CONFIG",
		})
	}

	db := ctx.DBManager.GetConnection()
	err := sqlite.PerformWrite(ctx.Logger, db, func(tx *gorm.DB) error {
		if popup.Active {
			// One active popup per shop.
			if err := tx.Model(&popups.Popup{}).
				Where("shop_id = ? AND id != ?", popup.ShopID, popup.ID).
				Update("active", false).Error; err != nil {
				return err
			}
		}
		return popups.SavePopup(tx, &popup)
	})
	if err != nil {
		if errors.Is(err, popups.ErrUnknownVariant) || errors.Is(err, popups.ErrPayloadMismatch) {
			return ctx.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
				"code":  "INVALID_POPUP_CONFIG",
			})
		}
		ctx.Logger.Error("Failed to save popup config",
			slog.Uint64("shop_id", uint64(popup.ShopID)),
			slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save popup config",
		})
	}

	ctx.Logger.Info("Saved popup config",
		slog.Uint64("shop_id", uint64(popup.ShopID)),
		slog.String("variant", string(popup.Variant)))
	return ctx.Status(http.StatusOK).JSON(&popup)
}
