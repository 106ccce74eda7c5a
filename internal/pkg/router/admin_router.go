package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/ManuelReschke/pixelfox-billing/app/controllers"
	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/middleware"
)

type AdminRouter struct {
	cfg  *Config
	deps Dependencies
}

func (h AdminRouter) InstallRouter(app *fiber.App) error {
	allowlist, err := middleware.ParseIPAllowlist(h.cfg.AdminAllowlist)
	if err != nil {
		return err
	}

	admin := app.Group("/admin",
		middleware.IPAllowlistMiddleware(allowlist, "admin"),
		middleware.AdminTokenMiddleware(middleware.AdminTokenConfig{
			Token:      h.cfg.AdminToken,
			Production: h.cfg.Production,
		}),
	)
	healthController := controllers.NewAdminHealthController(h.deps.Health, h.deps.Counters)
	admin.Get("/billing/health", healthController.HandleBillingHealth)

	if h.deps.Metrics != nil {
		if h.cfg.MetricsUser != "" {
			app.Get("/metrics", basicauth.New(basicauth.Config{
				Users: map[string]string{h.cfg.MetricsUser: h.cfg.MetricsPassword},
			}), h.deps.Metrics)
		} else {
			if h.cfg.Production {
				log.Warn("[Router] /metrics is served without authentication, set METRICS_USER")
			}
			app.Get("/metrics", h.deps.Metrics)
		}
	}
	return nil
}

func NewAdminRouter(cfg *Config, deps Dependencies) *AdminRouter {
	return &AdminRouter{cfg: cfg, deps: deps}
}
