package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "popkit/api/v1"
	"popkit/internal/config"
	"popkit/internal/http"
	"popkit/internal/http/middleware"
)

// publicCORSConfig returns the standard CORS configuration for public endpoints.
// All public endpoints share this permissive CORS setup: the popup script runs
// on arbitrary storefront origins.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent, If-None-Match",
}

// MountAppRoutes mounts all application routes using cartridge's route API
func MountAppRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()

	// Helper to conditionally apply rate limiting (only in production)
	// In development/test, rate limiting would interfere with testing
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// Rate limiter for public endpoints (70 requests per minute per IP).
	// A popup session emits a handful of events, so this leaves plenty of
	// headroom for legitimate traffic while preventing abuse.
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Public API config (event ingestion and config fetch)
	// CORS runs first ensuring 403 responses have CORS headers
	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		WriteConcurrency: false,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	// Management API config: bearer key auth, no CORS (server-to-server)
	adminAPIConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
		CustomMiddleware: []fiber.Handler{
			middleware.AdminAPIKeyAuth(cfg.PrivateKey, srv.GetLogger()),
		},
	}

	// === HEALTH ===
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	// === PUBLIC API ROUTES ===
	srv.Post("/x/api/v1/events", v1.CreateEventPublicAPIHandler, publicAPIConfig)
	srv.Options("/x/api/v1/events", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, publicAPIConfig)
	srv.Post("/x/api/v1/events/beacon", v1.CreateEventBeaconHandler, publicAPIConfig)
	srv.Options("/x/api/v1/events/beacon", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, publicAPIConfig)
	srv.Get("/x/api/v1/popup-config", v1.GetPopupConfigHandler, publicAPIConfig)
	srv.Options("/x/api/v1/popup-config", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, publicAPIConfig)
	srv.Get("/x/api/v1/analytics", v1.GetAnalyticsReportHandler, publicAPIConfig)
	srv.Options("/x/api/v1/analytics", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, publicAPIConfig)
	srv.Get("/x/api/v1/analytics/overview", v1.GetAnalyticsOverviewHandler, publicAPIConfig)
	srv.Options("/x/api/v1/analytics/overview", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, publicAPIConfig)

	srv.Post("/x/api/v1/discounts/claim", v1.ClaimDiscountHandler, publicAPIConfig)
	srv.Options("/x/api/v1/discounts/claim", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, publicAPIConfig)

	// === MANAGEMENT API ROUTES ===
	srv.Post("/api/v1/shops", v1.CreateShopHandler, adminAPIConfig)
	srv.Post("/api/v1/popups", v1.SavePopupHandler, adminAPIConfig)
}
