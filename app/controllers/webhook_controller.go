package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/billing"
)

const signedPayloadHeader = "X-Signed-Payload"

// NotificationProcessor is the part of billing.Service the webhook needs.
type NotificationProcessor interface {
	HandleNotification(ctx context.Context, signedPayload string) (*billing.ProcessingResult, error)
}

// WebhookController receives App Store server notifications.
type WebhookController struct {
	processor NotificationProcessor
	timeout   time.Duration
}

// NewWebhookController creates a webhook controller. A non-positive timeout selects 15s.
func NewWebhookController(processor NotificationProcessor, timeout time.Duration) *WebhookController {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebhookController{processor: processor, timeout: timeout}
}

type webhookRequest struct {
	SignedPayload string `json:"signedPayload"`
}

// HandleAppStoreWebhook processes one notification envelope.
//
// 200 acknowledges everything that was durably handled, duplicates and business
// rejections included, so the provider stops redelivering. 401 and 400 signal
// envelopes that can never succeed; 500 asks for a redelivery.
func (wc *WebhookController) HandleAppStoreWebhook(c *fiber.Ctx) error {
	payload := extractSignedPayload(c)
	if payload == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": "signedPayload is required"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), wc.timeout)
	defer cancel()

	result, err := wc.processor.HandleNotification(ctx, payload)
	if err != nil {
		var verr *billing.VerificationError
		var derr *billing.DecodeError
		switch {
		case errors.As(err, &verr):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature", "reason": verr.Reason})
		case errors.As(err, &derr):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": derr.Reason})
		default:
			log.Errorf("[Webhook] Notification processing failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
		}
	}

	resp := fiber.Map{"success": true}
	switch result.Outcome {
	case billing.OutcomeDuplicate:
		resp["duplicate"] = true
	case billing.OutcomeIgnored:
		resp["ignored"] = true
	case billing.OutcomeRejected:
		resp["rejected"] = true
		resp["code"] = result.RejectionCode
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// extractSignedPayload reads the envelope from the JSON body or, for proxies
// that forward it out of band, from the X-Signed-Payload header.
func extractSignedPayload(c *fiber.Ctx) string {
	if len(c.Body()) > 0 {
		var req webhookRequest
		// The provider does not always send a JSON content type.
		if err := json.Unmarshal(c.Body(), &req); err == nil && strings.TrimSpace(req.SignedPayload) != "" {
			return strings.TrimSpace(req.SignedPayload)
		}
	}
	return strings.TrimSpace(c.Get(signedPayloadHeader))
}
