package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"popkit/internal/config"
	"popkit/internal/discounts"
	"popkit/internal/events"
)

// ClaimDiscountParams is sent by the popup after a prize win or email capture
// to exchange the prize code for a redeemable discount code.
type ClaimDiscountParams struct {
	Email      string `json:"email"`
	PrizeCode  string `json:"prizeCode"`
	PrizeLabel string `json:"prizeLabel"`
}

// ClaimDiscountHandler issues a discount code for a captured subscriber. With
// a merchant issuer endpoint configured, a fresh single-use code is requested
// from it; otherwise the prize code itself is handed back. Issuer failures
// degrade to 503 so the popup can show a retry hint instead of a dead end.
func ClaimDiscountHandler(ctx *cartridge.Context) error {
	shop, err := validateOrigin(ctx.Ctx, ctx.DBManager, ctx.Logger)
	if err != nil {
		return handleError(ctx.Ctx, err)
	}

	var params ClaimDiscountParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		return handleError(ctx.Ctx, fiber.NewError(http.StatusBadRequest, errInvalidRequest))
	}
	if !events.ValidEmail(params.Email) {
		return ctx.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "A valid email is required",
			"code":  "INVALID_EMAIL",
		})
	}
	if params.PrizeCode == "" {
		return ctx.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "prizeCode is required",
			"code":  "MISSING_PRIZE_CODE",
		})
	}

	cfg := config.GetConfig()
	var issuer discounts.Issuer
	if cfg.DiscountIssuerURL != "" {
		issuer = discounts.NewHTTPIssuer(cfg.DiscountIssuerURL,
			time.Duration(cfg.DiscountTimeoutSecond)*time.Second, ctx.Logger)
	} else {
		issuer = discounts.Static{Code: params.PrizeCode}
	}

	code, err := issuer.Issue(ctx.Ctx.Context(), discounts.Request{
		Shop:       shop.Domain,
		Email:      params.Email,
		PrizeCode:  params.PrizeCode,
		PrizeLabel: params.PrizeLabel,
	})
	if err != nil {
		if errors.Is(err, discounts.ErrIssueUnavailable) {
			return ctx.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Discount issuance temporarily unavailable",
				"code":  "ISSUER_UNAVAILABLE",
			})
		}
		ctx.Logger.Error("Failed to issue discount code",
			slog.String("shop", shop.Domain),
			slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to issue discount code",
		})
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"code": code,
	})
}
