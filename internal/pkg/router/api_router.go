package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/xpack-ai/mcpay/app/controllers"
	"github.com/xpack-ai/mcpay/internal/pkg/cache"
	"github.com/xpack-ai/mcpay/internal/pkg/env"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        60,
		Expiration: time.Minute,
		Storage:    newLimiterStorage(),
	}))

	v1 := api.Group("/v1")
	v1.Post("/invoke/:service_id", controllers.HandleInvoke)
	v1.Get("/wallet", controllers.HandleGetWallet)
	v1.Post("/wallet/deposit", controllers.HandleCreateDeposit)

	admin := v1.Group("/admin")
	admin.Post("/channels/:id/enable", controllers.HandleEnableChannel)
	admin.Post("/channels/:id/disable", controllers.HandleDisableChannel)
}

// newLimiterStorage backs the rate limiter with Redis so the counters survive
// restarts and stay consistent across replicas. It reuses the connection
// settings of the shared cache client but a separate database.
func newLimiterStorage() *redis.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		if h, p, err := net.SplitHostPort(client.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
