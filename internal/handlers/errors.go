package handlers

import (
	"errors"
	"log"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"foodlog/internal/jobs"
	"foodlog/internal/services"
	"foodlog/internal/store"
)

// respondError maps service errors onto HTTP status codes
func respondError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "Internal server error"

	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, store.ErrNotFound):
		status, message = fiber.StatusNotFound, "Not found"
	case errors.Is(err, services.ErrItemNotProcessed):
		status, message = fiber.StatusConflict, err.Error()
	case errors.Is(err, services.ErrBackfillRunning):
		status, message = fiber.StatusConflict, err.Error()
	case errors.Is(err, services.ErrNoFoodItems), errors.Is(err, services.ErrInvalidGrams):
		status, message = fiber.StatusBadRequest, err.Error()
	case errors.As(err, &validationErrs):
		status, message = fiber.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrInvalidServingEquation):
		status, message = fiber.StatusBadGateway, err.Error()
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrQueueStopped):
		status, message = fiber.StatusServiceUnavailable, "Processing queue is busy, try again shortly"
	}

	if status >= fiber.StatusInternalServerError {
		log.Printf("❌ [API] %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(fiber.Map{"error": message})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": message})
}

// paramID parses a positive int64 route parameter
func paramID(c *fiber.Ctx, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
