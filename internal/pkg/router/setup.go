package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/pixelfox-billing/app/controllers"
)

type Router interface {
	InstallRouter(app *fiber.App) error
}

// Dependencies are the handlers and backends the routes need.
type Dependencies struct {
	Processor      controllers.NotificationProcessor
	Health         controllers.HealthReporter
	Counters       controllers.CounterSource
	Metrics        fiber.Handler
	LimiterStorage fiber.Storage
}

func InstallRouter(app *fiber.App, cfg *Config, deps Dependencies) error {
	return setup(app, NewApiRouter(cfg, deps), NewAdminRouter(cfg, deps))
}

func setup(app *fiber.App, router ...Router) error {
	for _, r := range router {
		if err := r.InstallRouter(app); err != nil {
			return err
		}
	}
	return nil
}
