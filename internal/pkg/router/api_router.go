package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/hyeonwooshin/CareBridge/app/controllers"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max: 120,
		// Provider webhooks retry aggressively on failure; never throttle them.
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/api/v1/payments/webhook"
		},
	}))

	v1 := api.Group("/v1")
	v1.Get("/health", controllers.HandleHealth)
	v1.Get("/stats", controllers.HandleStats)

	payments := v1.Group("/payments")
	payments.Post("/prepare", controllers.HandlePaymentPrepare)
	payments.Post("/verify", controllers.HandlePaymentVerify)
	payments.Post("/webhook", controllers.HandlePaymentWebhook)

	v1.Get("/subscriptions/:user_id", controllers.HandleGetSubscriptionStatus)

	tokens := v1.Group("/interview-tokens")
	tokens.Post("/deduct", controllers.HandleInterviewTokenDeduct)
	tokens.Post("/refund", controllers.HandleInterviewTokenRefund)
	tokens.Post("/first-response", controllers.HandleInterviewFirstResponse)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
