package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/stravasync/internal/common"
	"github.com/dmitrijs2005/stravasync/internal/logging"
)

const requestIDKey = "request_id"

// requestLogger tags every request with an id, echoed in the response
// header, renders handler errors and logs the outcome.
func requestLogger(logger logging.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get(common.RequestIDHeaderName)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Locals(requestIDKey, reqID)
		c.Set(common.RequestIDHeaderName, reqID)

		err := c.Next()
		if err != nil {
			if werr := writeError(c, err); werr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		args := []any{
			"request_id", reqID,
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"duration", time.Since(start),
		}
		switch {
		case status >= fiber.StatusInternalServerError:
			logger.Error(c.Context(), "request failed", append(args, "error", err)...)
		case status >= fiber.StatusBadRequest:
			logger.Warn(c.Context(), "request rejected", append(args, "error", err)...)
		default:
			logger.Info(c.Context(), "request handled", args...)
		}

		return nil
	}
}
