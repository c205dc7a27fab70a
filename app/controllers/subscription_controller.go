package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/hyeonwooshin/CareBridge/internal/pkg/cache"
	"github.com/hyeonwooshin/CareBridge/internal/pkg/database"
	"github.com/hyeonwooshin/CareBridge/internal/pkg/payments"
)

const subscriptionCacheTTL = 60 * time.Second

// HandleGetSubscriptionStatus returns the projected subscription document
// consumed by UI gating. Reads are cached briefly; the settlement path
// invalidates the entry.
func HandleGetSubscriptionStatus(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": "user_id missing"})
	}

	if cached, err := cache.Get(subscriptionCacheKey(userID)); err == nil && cached != "" {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Status(fiber.StatusOK).SendString(cached)
	}

	svc := payments.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := svc.GetSubscriptionStatus(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "subscription_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	if body, err := json.Marshal(sub); err == nil {
		_ = cache.Set(subscriptionCacheKey(userID), string(body), subscriptionCacheTTL)
	}
	return c.Status(fiber.StatusOK).JSON(sub)
}

func subscriptionCacheKey(userID string) string {
	return "subscription:" + userID
}
