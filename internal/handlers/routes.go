package handlers

import (
	"github.com/gofiber/fiber/v2"

	"foodlog/internal/config"
	"foodlog/internal/middleware"
	"foodlog/pkg/auth"
)

// Routes bundles everything SetupRoutes registers
type Routes struct {
	Config    *config.Config
	JWTAuth   *auth.LocalJWTAuth
	RateLimit *middleware.RateLimitConfig

	Health  *HealthHandler
	Food    *FoodHandler
	FoodLog *FoodLogHandler
	Admin   *AdminHandler
}

// SetupRoutes registers the HTTP surface on app
func SetupRoutes(app *fiber.App, r Routes) {
	app.Get("/health", r.Health.Handle)

	api := app.Group("/api", middleware.LocalAuthMiddleware(r.JWTAuth))
	authed := middleware.AuthenticatedRateLimiter(r.RateLimit)
	llmLimited := middleware.LLMRateLimiter(r.RateLimit)

	foods := api.Group("/foods")
	foods.Post("/search", authed, r.Food.Search)
	foods.Get("/:id", authed, r.Food.Get)
	foods.Get("/:id/nutrients", authed, r.Food.Nutrients)
	foods.Post("/:id/serving", llmLimited, r.Food.ResolveServing)

	messages := api.Group("/messages")
	messages.Post("/", llmLimited, r.FoodLog.LogMessage)
	messages.Get("/:id", authed, r.FoodLog.GetMessage)
	messages.Post("/:id/reprocess", llmLimited, r.FoodLog.ReprocessMessage)

	items := api.Group("/logged-items", authed)
	items.Get("/", r.FoodLog.ListItems)
	items.Patch("/:id/serving", r.FoodLog.UpdateServing)
	items.Delete("/:id", r.FoodLog.DeleteItem)

	admin := api.Group("/admin", middleware.AdminMiddleware(r.Config))
	admin.Get("/duplicates", r.Admin.Duplicates)
	admin.Post("/backfill", r.Admin.Backfill)
	admin.Get("/jobs", r.Admin.Jobs)
}
