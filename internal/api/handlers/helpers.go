package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/rs/zerolog/log"
)

func ParamID(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid work item id")
	}
	return int64(id), nil
}

// errorResponse maps service errors onto HTTP statuses.
func errorResponse(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		status = fe.Code
	case errors.Is(err, repository.ErrWorkItemNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, service.ErrInvalidWorkItem), errors.Is(err, service.ErrNothingToRetry):
		status = fiber.StatusBadRequest
	default:
		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}
