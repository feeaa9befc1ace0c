package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
)

// NewLimiter builds a per-minute limiter. It shares counters through redis when a client is
// given so several replicas enforce one budget.
func NewLimiter(perMinute int64, client *redis.Client) (*limiter.Limiter, error) {
	rate := limiter.Rate{Period: time.Minute, Limit: perMinute}
	if client != nil {
		store, err := redisstore.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: "bizpilot:limit"})
		if err != nil {
			return nil, err
		}
		return limiter.New(store, rate), nil
	}
	return limiter.New(memory.NewStore(), rate), nil
}

// RateLimit rejects clients over budget with 429. Limiter backend failures let the request
// through.
func RateLimit(l *limiter.Limiter, logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, err := l.Get(c.UserContext(), c.IP())
		if err != nil {
			Entry(c, logger).WithError(err).Warn("rate limiter unavailable")
			return c.Next()
		}
		c.Set("X-RateLimit-Limit", strconv.FormatInt(ctx.Limit, 10))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(ctx.Remaining, 10))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(ctx.Reset, 10))
		if ctx.Reached {
			return c.Status(http.StatusTooManyRequests).JSON(fiber.Map{"ok": false, "error": "rate limit exceeded"})
		}
		return c.Next()
	}
}
