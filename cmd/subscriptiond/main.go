package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/archive"
	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/billing"
	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/cache"
	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/database"
	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/env"
	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/metrics"
	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/replay"
	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/router"
)

func main() {
	app, err := NewApplication()
	if err != nil {
		log.Fatal(err)
	}
	err = app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() (*fiber.App, error) {
	env.SetupEnvFile()
	if env.IsDev() {
		fiberlog.SetLevel(fiberlog.LevelDebug)
	}

	billingCfg, err := billing.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("billing config: %w", err)
	}
	routerCfg := router.LoadConfig()

	database.SetupDatabase()
	cache.SetupCache()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	redisUp := cache.Available(ctx)

	guard := replay.NewGuard(newReplayStore(redisUp), env.GetDuration("REPLAY_TTL", replay.DefaultTTL))

	prom := metrics.NewPrometheus()
	recorders := metrics.Multi{prom}
	var counters *counter.Redis
	if redisUp {
		counters = counter.NewRedis(cache.GetClient())
		recorders = append(recorders, counters)
	}

	var archiver billing.Archiver
	archiveCfg, err := archive.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("archive config: %w", err)
	}
	if archiveCfg.IsEnabled() {
		client, err := archive.NewClient(ctx, archiveCfg)
		if err != nil {
			return nil, fmt.Errorf("archive client: %w", err)
		}
		archiver = client
	}

	service, err := billing.NewServiceFromConfig(database.GetDB(), billingCfg, guard, recorders, archiver)
	if err != nil {
		return nil, fmt.Errorf("billing service: %w", err)
	}

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:   1 << 20, // notifications are a few KiB
		ProxyHeader: env.GetEnv("PROXY_HEADER", ""),
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	if spec := findOpenAPISpec(); spec != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: spec,
			Path:     "v1",
		}))
	}

	deps := router.Dependencies{
		Processor:      service,
		Health:         service,
		Metrics:        prom.Handler(),
		LimiterStorage: router.NewLimiterStorage(routerCfg, limiterClient(redisUp)),
	}
	if counters != nil {
		deps.Counters = counters
	}

	// ROUTER
	if err := router.InstallRouter(app, routerCfg, deps); err != nil {
		return nil, err
	}

	fiberlog.Infof("[Billing] Service ready (bundle=%s, mode=%s)", billingCfg.BundleID, billingCfg.VerificationMode)
	return app, nil
}

func newReplayStore(redisUp bool) replay.Store {
	if env.GetEnv("REPLAY_BACKEND", "memory") == "redis" {
		if redisUp {
			return replay.NewRedisStore(cache.GetClient())
		}
		fiberlog.Warn("[Billing] REPLAY_BACKEND=redis but cache is unreachable, using in-memory replay store")
	}
	return replay.NewMemoryStore(env.GetInt("REPLAY_MAX_ENTRIES", replay.DefaultMaxEntries))
}

func limiterClient(redisUp bool) *redis.Client {
	if !redisUp {
		return nil
	}
	return cache.GetClient()
}

func findOpenAPISpec() string {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/subscriptiond to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		file := path + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(file); err == nil {
			return file
		}
	}
	return ""
}
