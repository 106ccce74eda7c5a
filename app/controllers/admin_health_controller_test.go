package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/billing"
)

type fakeReporter struct {
	report billing.HealthReport
}

func (f fakeReporter) Health(context.Context) billing.HealthReport {
	return f.report
}

type fakeCounters struct {
	values map[string]int64
	err    error
}

func (f fakeCounters) Snapshot(context.Context) (map[string]int64, error) {
	return f.values, f.err
}

func getHealth(t *testing.T, hc *AdminHealthController) (int, map[string]interface{}) {
	t.Helper()
	app := fiber.New()
	app.Get("/health", hc.HandleBillingHealth)
	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	out := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestBillingHealthHealthy(t *testing.T) {
	hc := NewAdminHealthController(fakeReporter{report: billing.HealthReport{
		Status:             billing.HealthHealthy,
		TotalNotifications: 40,
		SuccessRate:        100,
	}}, fakeCounters{values: map[string]int64{"DID_RENEW:processed": 40}})

	status, body := getHealth(t, hc)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(40), body["totalNotifications"])
	assert.Equal(t, map[string]interface{}{"DID_RENEW:processed": float64(40)}, body["counters"])
}

func TestBillingHealthDegradedStaysOK(t *testing.T) {
	hc := NewAdminHealthController(fakeReporter{report: billing.HealthReport{Status: billing.HealthDegraded, SuccessRate: 80}}, nil)
	status, body := getHealth(t, hc)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "degraded", body["status"])
	assert.Nil(t, body["counters"])
}

func TestBillingHealthUnhealthy(t *testing.T) {
	hc := NewAdminHealthController(
		fakeReporter{report: billing.HealthReport{Status: billing.HealthUnhealthy, Error: "connection refused"}},
		fakeCounters{err: errors.New("redis down")},
	)
	status, body := getHealth(t, hc)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "unhealthy", body["status"])
}
