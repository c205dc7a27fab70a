package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyeonwooshin/CareBridge/app/models"
	"github.com/hyeonwooshin/CareBridge/internal/pkg/payments"
)

func TestRespondConfirmError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "invalid payload",
			err:        payments.ErrInvalidPayload,
			wantStatus: fiber.StatusBadRequest,
			wantError:  "invalid_payload",
		},
		{
			name:       "order not found",
			err:        payments.ErrOrderNotFound,
			wantStatus: fiber.StatusNotFound,
			wantError:  "order_not_found",
		},
		{
			name:       "merchant mismatch",
			err:        payments.ErrMerchantMismatch,
			wantStatus: fiber.StatusBadRequest,
			wantError:  "merchant_mismatch",
		},
		{
			name:       "amount mismatch",
			err:        payments.ErrAmountMismatch,
			wantStatus: fiber.StatusBadRequest,
			wantError:  "amount_mismatch",
		},
		{
			name:       "payment not completed",
			err:        &payments.PaymentIncompleteError{Status: "cancelled"},
			wantStatus: fiber.StatusBadRequest,
			wantError:  "payment_not_completed",
		},
		{
			name:       "provider unavailable",
			err:        payments.ErrProviderUnavailable,
			wantStatus: fiber.StatusBadGateway,
			wantError:  "provider_unavailable",
		},
		{
			name:       "unknown error",
			err:        errors.New("boom"),
			wantStatus: fiber.StatusInternalServerError,
			wantError:  "internal_server_error",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error {
				return respondConfirmError(c, tc.err)
			})

			resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.wantStatus, resp.StatusCode)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			var payload map[string]interface{}
			require.NoError(t, json.Unmarshal(body, &payload))
			assert.Equal(t, tc.wantError, payload["error"])
		})
	}
}

func TestRespondConfirmErrorIncludesProviderStatus(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return respondConfirmError(c, &payments.PaymentIncompleteError{Status: "failed"})
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "failed", payload["status"])
}

func TestPaymentHandlersRejectMalformedBody(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Post("/prepare", HandlePaymentPrepare)
	app.Post("/verify", HandlePaymentVerify)

	for _, path := range []string{"/prepare", "/verify"} {
		req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{not json"))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, path)
	}
}

func TestRecordSettlementSkipsAlreadySettled(t *testing.T) {
	t.Parallel()

	// Neither reaches the cache backend.
	recordSettlement(nil)
	recordSettlement(&payments.SettlementResult{UserID: "u1", UserType: "parent", AlreadySettled: true})
}

func TestSubscriptionCacheKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "subscription:parent-1", subscriptionCacheKey("parent-1"))
}

func TestNeedsWebhookRetry(t *testing.T) {
	t.Parallel()

	processed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	// A delivery whose first attempt never finished (e.g. the process died
	// mid-settlement) or ended in an error must be reprocessed when the
	// provider retries the identical payload; only a cleanly processed
	// delivery is a true duplicate.
	assert.True(t, needsWebhookRetry(&models.PaymentWebhookEvent{}))
	assert.True(t, needsWebhookRetry(&models.PaymentWebhookEvent{
		ProcessedAt:     &processed,
		ProcessingError: "payment provider unavailable: connection refused",
	}))
	assert.False(t, needsWebhookRetry(&models.PaymentWebhookEvent{
		ProcessedAt: &processed,
	}))
}

func TestWebhookEventType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "payment.paid", webhookEventType("paid"))
	assert.Equal(t, "payment.cancelled", webhookEventType(" Cancelled "))
	assert.Equal(t, "payment.failed", webhookEventType("failed"))
	assert.Equal(t, "payment.status", webhookEventType(""))
}
