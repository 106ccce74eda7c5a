package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/storage/redis"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/env"
)

const (
	defaultWebhookRateLimit = 30
	defaultWebhookTimeout   = 15 * time.Second
	rateLimitRedisDatabase  = 2
)

// Config holds the HTTP surface settings.
type Config struct {
	AdminToken       string
	WebhookAllowlist []string
	AdminAllowlist   []string
	WebhookRateLimit int
	WebhookTimeout   time.Duration
	RateLimitBackend string
	MetricsUser      string
	MetricsPassword  string
	Production       bool
}

// LoadConfig reads router settings from the environment.
func LoadConfig() *Config {
	return &Config{
		AdminToken:       env.GetEnv("ADMIN_TOKEN", ""),
		WebhookAllowlist: env.GetList("WEBHOOK_IP_ALLOWLIST"),
		AdminAllowlist:   env.GetList("ADMIN_IP_ALLOWLIST"),
		WebhookRateLimit: env.GetInt("WEBHOOK_RATE_LIMIT", defaultWebhookRateLimit),
		WebhookTimeout:   env.GetDuration("WEBHOOK_TIMEOUT", defaultWebhookTimeout),
		RateLimitBackend: env.GetEnv("RATE_LIMIT_BACKEND", "memory"),
		MetricsUser:      env.GetEnv("METRICS_USER", ""),
		MetricsPassword:  env.GetEnv("METRICS_PASSWORD", ""),
		Production:       env.IsProd(),
	}
}

// NewLimiterStorage returns shared limiter storage when the redis backend is
// selected, nil (in-process) otherwise.
func NewLimiterStorage(cfg *Config, client *goredis.Client) fiber.Storage {
	if cfg.RateLimitBackend != "redis" || client == nil {
		return nil
	}
	host := "localhost"
	port := 6379
	if h, p, err := net.SplitHostPort(client.Options().Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: client.Options().Password,
		Database: rateLimitRedisDatabase,
		Reset:    false,
	})
}
