package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/xpack-ai/mcpay/app/controllers"
)

type HttpRouter struct {
}

// InstallRouter registers the non-API surface: gateway webhooks and health.
// Webhooks sit outside /api on purpose; gateways are configured with these
// exact paths and must not hit the API rate limiter.
func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", func(ctx *fiber.Ctx) error {
		return ctx.SendString("ok")
	})

	webhook := app.Group("/webhook/payment")
	webhook.Post("/alipay", controllers.HandleAlipayNotify)
	webhook.Post("/wechat", controllers.HandleWeChatNotify)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
