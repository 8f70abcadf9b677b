package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"foodlog/internal/llm"
	"foodlog/internal/middleware"
	"foodlog/internal/models"
)

const dayLayout = "2006-01-02"

// FoodLogger is the user-facing side of the logging pipeline
type FoodLogger interface {
	LogMessage(ctx context.Context, userID, content string) (*models.Message, error)
	GetMessage(ctx context.Context, userID string, messageID int64) (*models.Message, []models.LoggedFoodItem, error)
	ReprocessMessage(ctx context.Context, userID string, messageID int64) (*models.Message, error)
	ItemsForDay(ctx context.Context, userID string, day time.Time) ([]models.LoggedFoodItem, error)
	UpdateServing(ctx context.Context, userID string, itemID int64, grams float64) (*models.LoggedFoodItem, error)
	DeleteItem(ctx context.Context, userID string, itemID int64) error
}

// FoodLogHandler handles meal messages and the user's food log
type FoodLogHandler struct {
	logger FoodLogger
}

// NewFoodLogHandler creates a new food log handler
func NewFoodLogHandler(logger FoodLogger) *FoodLogHandler {
	return &FoodLogHandler{logger: logger}
}

// LogMessageRequest is the body of POST /api/messages
type LogMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

// UpdateServingRequest is the body of PATCH /api/logged-items/:id/serving
type UpdateServingRequest struct {
	Grams float64 `json:"grams" validate:"gt=0,lte=100000"`
}

// LogMessage handles POST /api/messages. Processing is asynchronous; poll
// GET /api/messages/:id for progress.
func (h *FoodLogHandler) LogMessage(c *fiber.Ctx) error {
	var req LogMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	req.Content = strings.TrimSpace(req.Content)
	if err := llm.ValidateStruct(req); err != nil {
		return respondError(c, err)
	}

	msg, err := h.logger.LogMessage(c.UserContext(), middleware.UserID(c), req.Content)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(msg)
}

// GetMessage handles GET /api/messages/:id
func (h *FoodLogHandler) GetMessage(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid message id")
	}

	msg, items, err := h.logger.GetMessage(c.UserContext(), middleware.UserID(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": msg, "items": items})
}

// ReprocessMessage handles POST /api/messages/:id/reprocess
func (h *FoodLogHandler) ReprocessMessage(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid message id")
	}

	msg, err := h.logger.ReprocessMessage(c.UserContext(), middleware.UserID(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(msg)
}

// ListItems handles GET /api/logged-items?date=YYYY-MM-DD. The date
// defaults to today in UTC.
func (h *FoodLogHandler) ListItems(c *fiber.Ctx) error {
	day := time.Now().UTC()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse(dayLayout, raw)
		if err != nil {
			return badRequest(c, "date must be formatted as YYYY-MM-DD")
		}
		day = parsed
	}

	items, err := h.logger.ItemsForDay(c.UserContext(), middleware.UserID(c), day)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"date":   day.Format(dayLayout),
		"items":  items,
		"totals": dayTotals(items),
	})
}

// dayTotals sums the nutrient snapshots of processed items
func dayTotals(items []models.LoggedFoodItem) models.NutrientSnapshot {
	totals := models.NutrientSnapshot{}
	for _, item := range items {
		if item.Status != models.StatusProcessed {
			continue
		}
		for field, amount := range item.Nutrients {
			totals[field] += amount
		}
	}
	return totals
}

// UpdateServing handles PATCH /api/logged-items/:id/serving
func (h *FoodLogHandler) UpdateServing(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid item id")
	}
	var req UpdateServingRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := llm.ValidateStruct(req); err != nil {
		return respondError(c, err)
	}

	item, err := h.logger.UpdateServing(c.UserContext(), middleware.UserID(c), id, req.Grams)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(item)
}

// DeleteItem handles DELETE /api/logged-items/:id
func (h *FoodLogHandler) DeleteItem(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid item id")
	}

	if err := h.logger.DeleteItem(c.UserContext(), middleware.UserID(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
