package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/billing"
)

type fakeProcessor struct {
	result   *billing.ProcessingResult
	err      error
	payloads []string
	deadline bool
}

func (f *fakeProcessor) HandleNotification(ctx context.Context, signedPayload string) (*billing.ProcessingResult, error) {
	f.payloads = append(f.payloads, signedPayload)
	_, f.deadline = ctx.Deadline()
	return f.result, f.err
}

func newWebhookApp(p NotificationProcessor) *fiber.App {
	app := fiber.New()
	app.Post("/webhook", NewWebhookController(p, 0).HandleAppStoreWebhook)
	return app
}

func postWebhook(t *testing.T, app *fiber.App, body string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp.StatusCode, out
}

func TestWebhookProcessed(t *testing.T) {
	p := &fakeProcessor{result: &billing.ProcessingResult{Outcome: billing.OutcomeProcessed}}
	status, body := postWebhook(t, newWebhookApp(p), `{"signedPayload":"a.b.c"}`, nil)

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Nil(t, body["duplicate"])
	assert.Equal(t, []string{"a.b.c"}, p.payloads)
	assert.True(t, p.deadline)
}

func TestWebhookReadsHeaderPayload(t *testing.T) {
	p := &fakeProcessor{result: &billing.ProcessingResult{Outcome: billing.OutcomeProcessed}}
	status, _ := postWebhook(t, newWebhookApp(p), "", map[string]string{"X-Signed-Payload": "h.p.s"})

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []string{"h.p.s"}, p.payloads)
}

func TestWebhookMissingPayload(t *testing.T) {
	p := &fakeProcessor{}
	status, body := postWebhook(t, newWebhookApp(p), `{"other":1}`, nil)

	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_payload", body["error"])
	assert.Empty(t, p.payloads)
}

func TestWebhookOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		result *billing.ProcessingResult
		err    error
		status int
		key    string
		value  interface{}
	}{
		{name: "duplicate", result: &billing.ProcessingResult{Outcome: billing.OutcomeDuplicate}, status: 200, key: "duplicate", value: true},
		{name: "ignored", result: &billing.ProcessingResult{Outcome: billing.OutcomeIgnored}, status: 200, key: "ignored", value: true},
		{name: "rejected", result: &billing.ProcessingResult{Outcome: billing.OutcomeRejected, RejectionCode: billing.CodeUnknownProduct}, status: 200, key: "code", value: billing.CodeUnknownProduct},
		{name: "signature", err: &billing.VerificationError{Reason: billing.ReasonSignatureInvalid}, status: 401, key: "reason", value: billing.ReasonSignatureInvalid},
		{name: "decode", err: &billing.DecodeError{Reason: "bad"}, status: 400, key: "error", value: "invalid_payload"},
		{name: "malformed envelope", err: &billing.DecodeError{Reason: "envelope is not a compact JWS"}, status: 400, key: "message", value: "envelope is not a compact JWS"},
		{name: "internal", err: errors.New("db down"), status: 500, key: "error", value: "processing_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProcessor{result: tt.result, err: tt.err}
			status, body := postWebhook(t, newWebhookApp(p), `{"signedPayload":"a.b.c"}`, nil)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.value, body[tt.key])
		})
	}
}
