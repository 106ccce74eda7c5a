package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/pixelfox-billing/app/controllers"
	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/middleware"
)

type ApiRouter struct {
	cfg  *Config
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) error {
	allowlist, err := middleware.ParseIPAllowlist(h.cfg.WebhookAllowlist)
	if err != nil {
		return err
	}

	api := app.Group("/api")
	v1 := api.Group("/v1")

	webhookController := controllers.NewWebhookController(h.deps.Processor, h.cfg.WebhookTimeout)
	v1.Post("/webhooks/appstore",
		middleware.IPAllowlistMiddleware(allowlist, "webhook"),
		middleware.WebhookRateLimiter(h.cfg.WebhookRateLimit, h.deps.LimiterStorage),
		webhookController.HandleAppStoreWebhook,
	)
	return nil
}

func NewApiRouter(cfg *Config, deps Dependencies) *ApiRouter {
	return &ApiRouter{cfg: cfg, deps: deps}
}
