package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

// NewApp builds the fiber application around a set of handlers.
func NewApp(handlers *Handlers) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Harvestman API")
	})

	rules := app.Group("/rules")
	rules.Get("/", handlers.ListRules)
	rules.Post("/", handlers.CreateRule)
	rules.Get("/:id", handlers.GetRule)
	rules.Patch("/:id", handlers.UpdateRule)
	rules.Delete("/:id", handlers.DeleteRule)

	instances := app.Group("/instances")
	instances.Get("/", handlers.ListInstances)
	instances.Post("/", handlers.CreateInstance)
	instances.Get("/:id", handlers.GetInstance)
	instances.Post("/:id/start", handlers.StartInstance)
	instances.Post("/:id/cancel", handlers.CancelInstance)

	evaluations := app.Group("/evaluations")
	evaluations.Get("/", handlers.ListEvaluations)
	evaluations.Get("/recent", handlers.RecentEvaluations)

	events := app.Group("/events")
	events.Get("/", handlers.EventHistory)
	events.Get("/stats", handlers.EventStats)

	app.Get("/health", handlers.HealthCheck)

	return app
}
