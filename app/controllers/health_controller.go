package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/hyeonwooshin/CareBridge/internal/pkg/cache"
	"github.com/hyeonwooshin/CareBridge/internal/pkg/database"
	"github.com/hyeonwooshin/CareBridge/internal/pkg/metrics/counter"
)

// HandleHealth reports liveness of the service and its backing stores.
func HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	if sqlDB, err := database.GetDB().DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		dbStatus = "unavailable"
	}

	cacheStatus := "ok"
	if err := cache.GetClient().Ping(ctx).Err(); err != nil {
		cacheStatus = "unavailable"
	}

	status := fiber.StatusOK
	overall := "ok"
	if dbStatus != "ok" {
		status = fiber.StatusServiceUnavailable
		overall = "unavailable"
	}

	return c.Status(status).JSON(fiber.Map{
		"status":   overall,
		"database": dbStatus,
		"cache":    cacheStatus,
	})
}

// HandleStats exposes the running event counters.
func HandleStats(c *fiber.Ctx) error {
	settled, deducted, refunded, err := counter.Totals()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_unavailable"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"payments_settled": settled,
		"tokens_deducted":  deducted,
		"tokens_refunded":  refunded,
	})
}
