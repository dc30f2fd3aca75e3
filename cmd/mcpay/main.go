package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/shopspring/decimal"

	"github.com/xpack-ai/mcpay/app/controllers"
	"github.com/xpack-ai/mcpay/app/repository"
	"github.com/xpack-ai/mcpay/internal/pkg/billing"
	"github.com/xpack-ai/mcpay/internal/pkg/cache"
	"github.com/xpack-ai/mcpay/internal/pkg/database"
	"github.com/xpack-ai/mcpay/internal/pkg/env"
	"github.com/xpack-ai/mcpay/internal/pkg/metrics/counter"
	"github.com/xpack-ai/mcpay/internal/pkg/payment"
	"github.com/xpack-ai/mcpay/internal/pkg/pricing"
	"github.com/xpack-ai/mcpay/internal/pkg/router"
	"github.com/xpack-ai/mcpay/internal/pkg/wallet"
)

var flusherStop = make(chan struct{})

func main() {
	app, consumer, reconciler := NewApplication()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	// Drain the in-flight settlement and poll cycle before exiting; a kill
	// mid-debit is safe (idempotent settlement) but a clean stop is cheaper.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	_ = app.Shutdown()
	consumer.Stop()
	reconciler.Stop()
	close(flusherStop)
}

// redisLocker adapts the shared cache lock primitives to the guard.
type redisLocker struct{}

func (redisLocker) Acquire(key, token string, ttl time.Duration) (bool, error) {
	return cache.AcquireLock(key, token, ttl)
}

func (redisLocker) Release(key, token string) (bool, error) {
	return cache.ReleaseLock(key, token)
}

// redisBalanceCache adapts the advisory balance cache to the guard.
type redisBalanceCache struct{}

func (redisBalanceCache) Get(userID uint) (decimal.Decimal, bool, error) {
	return cache.GetBalance(userID)
}

func (redisBalanceCache) Set(userID uint, balance decimal.Decimal) error {
	return cache.SetBalance(userID, balance)
}

// stubToolExecutor stands in for the out-of-process tool execution layer.
// It accepts every call and reports rough token counts so the per-token
// settlement path stays exercised end to end.
func stubToolExecutor(serviceID uint, toolName, inputParams string) (string, int64, int64, error) {
	output := fmt.Sprintf(`{"service_id":%d,"tool":%q,"status":"ok"}`, serviceID, toolName)
	return output, int64(len(inputParams) / 4), int64(len(output) / 4), nil
}

func NewApplication() (*fiber.App, *billing.Consumer, *payment.Monitor) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()

	resolver := pricing.NewResolver(
		repos.Service,
		pricing.NewRedisQuoteCache(cache.Get, cache.Set, cache.IsMiss),
	)
	ledger := wallet.NewLedger(repos.Wallet, repos.Ledger, cache.SetBalance)
	guard := billing.NewGuard(resolver, repos.Wallet, redisBalanceCache{}, redisLocker{}, cache.LockTTL, cache.LockKey)
	publisher := billing.NewPublisher(cache.GetClient())

	consumer := billing.NewConsumer(cache.GetClient(), repos.CallLog, resolver, ledger)
	consumer.Start()

	reconciler := payment.NewMonitor(ledger, repos.Ledger, repos.Channel)
	reconciler.Start()

	counter.StartFlusher(time.Minute, flusherStop)

	controllers.Setup(controllers.Dependencies{
		Repos:     repos,
		Guard:     guard,
		Publisher: publisher,
		Ledger:    ledger,
		Monitor:   reconciler,
		Executor:  stubToolExecutor,
	})

	app := fiber.New(fiber.Config{
		AppName: "mcpay",
	})

	app.Use(recover.New(), logger.New())

	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	router.InstallRouter(app)

	return app, consumer, reconciler
}
