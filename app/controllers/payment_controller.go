package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/hyeonwooshin/CareBridge/app/models"
	"github.com/hyeonwooshin/CareBridge/internal/pkg/cache"
	"github.com/hyeonwooshin/CareBridge/internal/pkg/database"
	"github.com/hyeonwooshin/CareBridge/internal/pkg/env"
	"github.com/hyeonwooshin/CareBridge/internal/pkg/metrics/counter"
	"github.com/hyeonwooshin/CareBridge/internal/pkg/payments"
)

const paymentProviderName = "portone"

type confirmRequest struct {
	ProviderTxID string `json:"provider_tx_id"`
	OrderID      string `json:"order_id"`
}

type webhookRequest struct {
	confirmRequest
	Status string `json:"status"`
}

// HandlePaymentPrepare creates a pending order and echoes the checkout data
// the payment provider's browser bridge needs.
func HandlePaymentPrepare(c *fiber.Ctx) error {
	var in payments.PrepareInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": "Malformed request body"})
	}

	svc := payments.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	order, err := svc.Prepare(ctx, in)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidPayload) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "order_create_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"order_id": order.OrderID,
		"amount":   order.Amount,
		"name":     order.UserName,
	})
}

// HandlePaymentVerify is the synchronous, user-facing settlement path. Every
// failure is surfaced to the waiting client.
func HandlePaymentVerify(c *fiber.Ctx) error {
	var req confirmRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": "Malformed request body"})
	}

	svc := payments.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	result, err := svc.ConfirmPayment(ctx, req.ProviderTxID, req.OrderID)
	if err != nil {
		return respondConfirmError(c, err)
	}

	recordSettlement(result)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "status": models.OrderStatusPaid})
}

// HandlePaymentWebhook is the provider-initiated settlement path. Nobody is
// waiting on the response, so non-paid provider outcomes are persisted and
// acknowledged rather than surfaced as failures. Deliveries are recorded
// idempotently before processing.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("X-Webhook-Signature"))
	secret := env.GetEnv("PG_WEBHOOK_SECRET", "")

	var req webhookRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	svc := payments.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	signatureValid := payments.VerifyWebhookSignature(rawBody, signature, secret)
	created, stored, err := svc.RecordWebhookEvent(ctx, payments.WebhookEventInput{
		Provider:       paymentProviderName,
		EventType:      webhookEventType(req.Status),
		PayloadJSON:    string(rawBody),
		SignatureValid: signatureValid,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created && !needsWebhookRetry(stored) {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	if secret != "" && !signatureValid {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, errors.New("invalid webhook signature"))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	result, confirmErr := svc.ConfirmPayment(ctx, req.ProviderTxID, req.OrderID)
	_ = svc.MarkWebhookProcessed(ctx, stored.ID, confirmErr)
	if confirmErr != nil {
		var incomplete *payments.PaymentIncompleteError
		if errors.As(confirmErr, &incomplete) {
			// The status landed on the order; acknowledge so the provider
			// stops retrying.
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "status": incomplete.Status})
		}
		return respondConfirmError(c, confirmErr)
	}

	recordSettlement(result)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// needsWebhookRetry reports whether a previously recorded delivery still
// needs processing: the first attempt crashed before finishing or ended in an
// error. Settlement is idempotent, so replaying such a delivery is safe;
// only deliveries that processed cleanly are acknowledged as duplicates.
func needsWebhookRetry(event *models.PaymentWebhookEvent) bool {
	return event.ProcessedAt == nil || event.ProcessingError != ""
}

// webhookEventType labels a stored delivery by the provider-reported status.
func webhookEventType(status string) string {
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		return "payment.status"
	}
	return "payment." + status
}

func respondConfirmError(c *fiber.Ctx, err error) error {
	var incomplete *payments.PaymentIncompleteError
	switch {
	case errors.Is(err, payments.ErrInvalidPayload):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": err.Error()})
	case errors.Is(err, payments.ErrOrderNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order_not_found"})
	case errors.Is(err, payments.ErrMerchantMismatch):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "merchant_mismatch"})
	case errors.Is(err, payments.ErrAmountMismatch):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "amount_mismatch"})
	case errors.As(err, &incomplete):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "payment_not_completed", "status": incomplete.Status})
	case errors.Is(err, payments.ErrProviderUnavailable):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_unavailable"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
}

// recordSettlement handles the fire-and-forget side effects of a fresh
// settlement: the daily counter and the subscription cache entry.
func recordSettlement(result *payments.SettlementResult) {
	if result == nil || result.AlreadySettled {
		return
	}
	_ = counter.AddSettledPayment()
	if result.UserType != models.UserTypeParent {
		return
	}
	_ = cache.Delete(subscriptionCacheKey(result.UserID))
}
