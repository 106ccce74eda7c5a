package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/billing"
)

// HealthReporter is the part of billing.Service the health endpoint needs.
type HealthReporter interface {
	Health(ctx context.Context) billing.HealthReport
}

// CounterSource exposes cumulative notification counters.
type CounterSource interface {
	Snapshot(ctx context.Context) (map[string]int64, error)
}

// AdminHealthController serves the billing health report to operators.
type AdminHealthController struct {
	reporter HealthReporter
	counters CounterSource
}

// NewAdminHealthController creates the controller. counters may be nil.
func NewAdminHealthController(reporter HealthReporter, counters CounterSource) *AdminHealthController {
	return &AdminHealthController{reporter: reporter, counters: counters}
}

type healthResponse struct {
	billing.HealthReport
	Counters map[string]int64 `json:"counters,omitempty"`
}

// HandleBillingHealth reports processing health over the last 24 hours.
// An unhealthy store answers 503 so load balancers and probes notice.
func (hc *AdminHealthController) HandleBillingHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	resp := healthResponse{HealthReport: hc.reporter.Health(ctx)}
	if hc.counters != nil {
		counters, err := hc.counters.Snapshot(ctx)
		if err != nil {
			log.Warnf("[AdminHealth] Failed to read notification counters: %v", err)
		} else {
			resp.Counters = counters
		}
	}

	status := fiber.StatusOK
	if resp.Status == billing.HealthUnhealthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(resp)
}
