package middleware

import (
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/ratelimit"
)

// RateLimit applies a token bucket per API key, falling back to the
// client IP for unauthenticated routes. Must come after Auth.
func RateLimit(limiter *ratelimit.Limiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, err := GetKeyID(c)
		if err != nil {
			key = "ip:" + c.IP()
		}

		d := limiter.Allow(key)
		c.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			c.Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			return domain.ErrRateLimitExceeded
		}

		return c.Next()
	}
}
