package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/dmitrijs2005/stravasync/internal/common"
)

// statusFor maps an error returned by the relay's components to the HTTP
// status reported to the caller.
func statusFor(err error) int {
	if err == nil {
		return fiber.StatusOK
	}

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, common.ErrInvalidState):
		return fiber.StatusBadRequest
	case errors.Is(err, common.ErrUnauthenticated),
		errors.Is(err, common.ErrorNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, common.ErrPermissionDenied):
		return fiber.StatusForbidden
	case errors.Is(err, common.ErrStorage):
		return fiber.StatusInternalServerError
	case errors.Is(err, common.ErrOAuth),
		errors.Is(err, common.ErrFetch),
		errors.Is(err, common.ErrMalformedResponse):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// errorHandler is the app-wide fallback for errors returned by handlers
// and middleware.
func errorHandler(c fiber.Ctx, err error) error {
	return writeError(c, err)
}
