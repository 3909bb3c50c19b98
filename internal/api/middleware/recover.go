package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
)

// Recover turns a handler panic into ErrInternal, so the error handler
// renders it and the request logger records a 500.
func Recover(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error("panic recovered",
				slog.Any("panic", r),
				slog.String("path", c.Path()),
				slog.String("method", c.Method()),
				slog.String("request_id", requestID(c)),
				slog.String("stack", string(debug.Stack())),
			)
			err = domain.ErrInternal.WithError(fmt.Errorf("panic: %v", r))
		}()
		return c.Next()
	}
}

func requestID(c *fiber.Ctx) string {
	rid, _ := c.Locals("requestid").(string)
	return rid
}
