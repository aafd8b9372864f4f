package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-praktikum-api/internal/config"
	"github.com/noah-isme/gema-praktikum-api/internal/handler"
	"github.com/noah-isme/gema-praktikum-api/internal/middleware"
	"github.com/noah-isme/gema-praktikum-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SubmissionHandler *handler.SubmissionHandler
	RecapHandler      *handler.RecapHandler
	ActivityHandler   *handler.ActivityHandler
	JWTMiddleware     fiber.Handler
	// SubmitLimiter throttles submission intake per user; nil disables it.
	SubmitLimiter fiber.Handler
	// Metrics exposes the Prometheus endpoint when true.
	Metrics bool
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	if deps.Metrics {
		app.Get("/metrics", observability.MetricsHandler())
	}

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	praktikum := app.Group("/api/v2/praktikum", jwtMiddleware)

	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(praktikum.Group("/submissions"), deps.SubmitLimiter)
	}

	if deps.RecapHandler != nil {
		deps.RecapHandler.Register(praktikum)
	}

	if deps.ActivityHandler != nil {
		admin := praktikum.Group("/activity", middleware.RequireRole("admin"))
		deps.ActivityHandler.Register(admin)
	}
}
