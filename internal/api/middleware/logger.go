package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

func Logger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Process request
		err := c.Next()

		latency := time.Since(start)

		// an error not yet rendered by the error handler still has status 200 here
		status := c.Response().StatusCode()
		if err != nil {
			status = statusOf(err)
		}

		// Log level based on status
		logLevel := slog.LevelInfo
		if status >= 500 {
			logLevel = slog.LevelError
		} else if status >= 400 {
			logLevel = slog.LevelWarn
		}

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("latency", latency),
			slog.String("ip", c.IP()),
			slog.String("user_agent", c.Get("User-Agent")),
		}
		if rid := requestID(c); rid != "" {
			attrs = append(attrs, slog.String("request_id", rid))
		}

		logger.Log(c.Context(), logLevel, "http request", attrs...)

		return err
	}
}
