package middleware

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
)

// statusOf maps an error returned by a handler to its HTTP status.
func statusOf(err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return fiber.StatusInternalServerError
}

// ErrorHandler renders every error as {"error": {"code", "message"}}.
// Unknown errors are logged and hidden behind INTERNAL_ERROR.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return writeError(c, fiberErr.Code, "HTTP_ERROR", fiberErr.Message)
		}

		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			if appErr.StatusCode >= 500 {
				logger.Error("internal error",
					slog.String("code", appErr.Code),
					slog.String("message", appErr.Message),
					slog.Any("error", appErr.Err),
					slog.String("request_id", requestID(c)),
				)
			}
			return writeError(c, appErr.StatusCode, appErr.Code, appErr.Message)
		}

		logger.Error("unhandled error",
			slog.Any("error", err),
			slog.String("path", c.Path()),
			slog.String("request_id", requestID(c)),
		)
		return writeError(c, fiber.StatusInternalServerError, domain.ErrInternal.Code, domain.ErrInternal.Message)
	}
}

func writeError(c *fiber.Ctx, status int, code, message string) error {
	body := fiber.Map{
		"code":    code,
		"message": message,
	}
	if rid := requestID(c); rid != "" {
		body["request_id"] = rid
	}
	return c.Status(status).JSON(fiber.Map{"error": body})
}
