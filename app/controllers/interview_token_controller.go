package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/hyeonwooshin/CareBridge/internal/pkg/database"
	"github.com/hyeonwooshin/CareBridge/internal/pkg/metrics/counter"
	"github.com/hyeonwooshin/CareBridge/internal/pkg/tokens"
)

type tokenDeductRequest struct {
	ChatID      string `json:"chat_id"`
	ParentID    string `json:"parent_id"`
	TherapistID string `json:"therapist_id"`
}

type tokenRefundRequest struct {
	ChatID   string `json:"chat_id"`
	ParentID string `json:"parent_id"`
	Reason   string `json:"reason"`
}

type firstResponseRequest struct {
	ChatID      string `json:"chat_id"`
	TherapistID string `json:"therapist_id"`
}

// HandleInterviewTokenDeduct consumes one interview token when the parent
// sends the first message in a chat.
func HandleInterviewTokenDeduct(c *fiber.Ctx) error {
	var req tokenDeductRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": "Malformed request body"})
	}

	svc := tokens.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := svc.Deduct(ctx, req.ChatID, req.ParentID, req.TherapistID)
	if err != nil {
		switch {
		case errors.Is(err, tokens.ErrInvalidPayload):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": err.Error()})
		case errors.Is(err, tokens.ErrNoTokens):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "NO_TOKENS"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "token_deduct_failed", "message": err.Error()})
		}
	}

	if !result.AlreadyUsed {
		_ = counter.AddTokenDeduct()
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "already_used": result.AlreadyUsed})
}

// HandleInterviewTokenRefund closes a chat and credits the token back when
// the therapist never responded.
func HandleInterviewTokenRefund(c *fiber.Ctx) error {
	var req tokenRefundRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": "Malformed request body"})
	}

	svc := tokens.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := svc.Refund(ctx, req.ChatID, req.ParentID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, tokens.ErrInvalidPayload):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": err.Error()})
		case errors.Is(err, tokens.ErrAlreadyResponded):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "RESPONDED"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "token_refund_failed", "message": err.Error()})
		}
	}

	if result.Credited {
		_ = counter.AddTokenRefund()
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "refunded": result.Refunded})
}

// HandleInterviewFirstResponse records the therapist's first reply, closing
// the refund window for the chat.
func HandleInterviewFirstResponse(c *fiber.Ctx) error {
	var req firstResponseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": "Malformed request body"})
	}

	svc := tokens.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := svc.MarkFirstResponse(ctx, req.ChatID, req.TherapistID); err != nil {
		switch {
		case errors.Is(err, tokens.ErrInvalidPayload):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": err.Error()})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "first_response_failed", "message": err.Error()})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
