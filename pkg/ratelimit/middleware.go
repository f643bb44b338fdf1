package ratelimit

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// Middleware returns a fiber handler enforcing cfg for one endpoint class.
// The endpoint label keys the counter, not the raw path, so parameterized
// routes share one budget.
func (l *Limiter) Middleware(endpoint string, cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res := l.Allow(c.Context(), endpoint, c.IP(), cfg)
		if !res.Allowed {
			retryAfter := int(res.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			return ErrRegistry.New(CodeLimitExceeded).WriteFiber(c)
		}
		c.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		return c.Next()
	}
}
