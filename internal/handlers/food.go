package handlers

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"foodlog/internal/llm"
	"foodlog/internal/middleware"
	"foodlog/internal/models"
	"foodlog/internal/nutrients"
	"foodlog/internal/services"
	"foodlog/internal/store"
)

const foodImageLimit = 4

// FoodSearcher ranks catalogue FoodItems against a query
type FoodSearcher interface {
	Search(ctx context.Context, userID, query string, limit int) ([]services.SearchResult, error)
}

// ServingResolver turns a serving description into grams of a FoodItem
type ServingResolver interface {
	Resolve(ctx context.Context, item *models.FoodItemToLog, food *models.FoodItem) (*models.FoodItemToLog, error)
}

// FoodHandler serves the food catalogue
type FoodHandler struct {
	foods    store.FoodStore
	searcher FoodSearcher
	servings ServingResolver
}

// NewFoodHandler creates a new food handler
func NewFoodHandler(foods store.FoodStore, searcher FoodSearcher, servings ServingResolver) *FoodHandler {
	return &FoodHandler{foods: foods, searcher: searcher, servings: servings}
}

// SearchRequest is the body of POST /api/foods/search
type SearchRequest struct {
	Query string `json:"query" validate:"required,max=500"`
	Limit int    `json:"limit" validate:"gte=0,lte=20"`
}

// ServingRequest is the body of POST /api/foods/:id/serving. It has the
// shape of a split food item; the search name defaults to the food's name.
type ServingRequest struct {
	SearchName string `json:"food_database_search_name" validate:"max=200"`
	Text       string `json:"full_item_user_message_including_serving" validate:"required,max=500"`
	Branded    bool   `json:"branded"`
	Brand      string `json:"brand" validate:"max=200"`
}

// Search handles POST /api/foods/search
func (h *FoodHandler) Search(c *fiber.Ctx) error {
	var req SearchRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	req.Query = strings.TrimSpace(req.Query)
	if err := llm.ValidateStruct(req); err != nil {
		return respondError(c, err)
	}

	results, err := h.searcher.Search(c.UserContext(), middleware.UserID(c), req.Query, req.Limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"results": results, "count": len(results)})
}

// Get handles GET /api/foods/:id
func (h *FoodHandler) Get(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid food id")
	}

	food, err := h.foods.GetFoodItem(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	food.Images, err = h.foods.TopImages(c.UserContext(), id, foodImageLimit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(food)
}

// Nutrients handles GET /api/foods/:id/nutrients?grams=
func (h *FoodHandler) Nutrients(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid food id")
	}
	grams := c.QueryFloat("grams", 0)
	if grams <= 0 {
		return badRequest(c, "grams must be a positive number")
	}

	food, err := h.foods.GetFoodItem(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"foodItemId": id,
		"grams":      grams,
		"nutrients":  nutrients.Calculate(grams, food),
	})
}

// ResolveServing handles POST /api/foods/:id/serving
func (h *FoodHandler) ResolveServing(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid food id")
	}
	var req ServingRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	req.Text = strings.TrimSpace(req.Text)
	if err := llm.ValidateStruct(req); err != nil {
		return respondError(c, err)
	}

	food, err := h.foods.GetFoodItem(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}

	name := strings.TrimSpace(req.SearchName)
	if name == "" {
		name = food.DisplayName()
	}
	brand := strings.TrimSpace(req.Brand)
	item := &models.FoodItemToLog{
		FoodDatabaseSearchName:              name,
		FullItemUserMessageIncludingServing: req.Text,
		Branded:                             req.Branded || brand != "",
		Brand:                               brand,
	}

	resolved, err := h.servings.Resolve(c.UserContext(), item, food)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return respondError(c, err)
		}
		log.Printf("⚠️ [API] Serving resolution for food %d failed: %v", id, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Could not resolve serving: " + err.Error()})
	}

	return c.JSON(fiber.Map{
		"foodItemId": id,
		"serving":    resolved.Serving,
		"nutrients":  nutrients.Calculate(resolved.Serving.TotalServingGOrMl, food),
	})
}
