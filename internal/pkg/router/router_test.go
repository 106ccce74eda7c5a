package router

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/billing"
)

type stubProcessor struct{ calls int }

func (s *stubProcessor) HandleNotification(context.Context, string) (*billing.ProcessingResult, error) {
	s.calls++
	return &billing.ProcessingResult{Outcome: billing.OutcomeProcessed}, nil
}

type stubHealth struct{}

func (stubHealth) Health(context.Context) billing.HealthReport {
	return billing.HealthReport{Status: billing.HealthHealthy, SuccessRate: 100}
}

func newTestApp(t *testing.T, cfg *Config) (*fiber.App, *stubProcessor) {
	t.Helper()
	proc := &stubProcessor{}
	app := fiber.New()
	err := InstallRouter(app, cfg, Dependencies{
		Processor: proc,
		Health:    stubHealth{},
		Metrics: func(c *fiber.Ctx) error {
			return c.SendString("billing_notifications_processed_total 0")
		},
	})
	require.NoError(t, err)
	return app, proc
}

func TestWebhookRoute(t *testing.T) {
	app, proc := newTestApp(t, &Config{WebhookRateLimit: 10})

	req := httptest.NewRequest("POST", "/api/v1/webhooks/appstore", strings.NewReader(`{"signedPayload":"a.b.c"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, proc.calls)
}

func TestWebhookRouteAllowlist(t *testing.T) {
	app, proc := newTestApp(t, &Config{WebhookAllowlist: []string{"17.0.0.0/8"}})

	// app.Test requests originate from 0.0.0.0
	req := httptest.NewRequest("POST", "/api/v1/webhooks/appstore", strings.NewReader(`{"signedPayload":"a.b.c"}`))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Zero(t, proc.calls)
}

func TestAdminHealthRequiresToken(t *testing.T) {
	app, _ := newTestApp(t, &Config{AdminToken: "s3cret", Production: true})

	resp, err := app.Test(httptest.NewRequest("GET", "/admin/billing/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest("GET", "/admin/billing/health", nil)
	req.Header.Set("X-Admin-Token", "s3cret")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestMetricsBasicAuth(t *testing.T) {
	app, _ := newTestApp(t, &Config{MetricsUser: "prom", MetricsPassword: "pw"})

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest("GET", "/metrics", nil)
	req.SetBasicAuth("prom", "pw")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestInvalidAllowlistFailsInstall(t *testing.T) {
	err := InstallRouter(fiber.New(), &Config{AdminAllowlist: []string{"not-an-ip"}}, Dependencies{
		Processor: &stubProcessor{},
		Health:    stubHealth{},
	})
	assert.Error(t, err)
}

func TestNewLimiterStorageDefaultsToMemory(t *testing.T) {
	assert.Nil(t, NewLimiterStorage(&Config{RateLimitBackend: "memory"}, nil))
	assert.Nil(t, NewLimiterStorage(&Config{RateLimitBackend: "redis"}, nil))
}
