package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"foodlog/internal/models"
	"foodlog/internal/nutrients"
)

// USDAFetcher loads a full FoodItem from FoodData Central
type USDAFetcher interface {
	FetchFood(ctx context.Context, fdcID string) (*models.FoodItem, error)
}

// USDAClient is a rate-limited FoodData Central client
type USDAClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewUSDAClient creates a client allowing rps requests per second
func NewUSDAClient(baseURL, apiKey string, rps float64) *USDAClient {
	if rps <= 0 {
		rps = 1
	}
	return &USDAClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type fdcNutrient struct {
	Nutrient struct {
		Name     string `json:"name"`
		UnitName string `json:"unitName"`
	} `json:"nutrient"`
	Amount *float64 `json:"amount"`
}

type fdcPortion struct {
	GramWeight         float64 `json:"gramWeight"`
	Amount             float64 `json:"amount"`
	Modifier           string  `json:"modifier"`
	PortionDescription string  `json:"portionDescription"`
	MeasureUnit        struct {
		Name string `json:"name"`
	} `json:"measureUnit"`
}

type fdcFood struct {
	FDCID                    int64         `json:"fdcId"`
	Description              string        `json:"description"`
	DataType                 string        `json:"dataType"`
	BrandOwner               string        `json:"brandOwner"`
	BrandName                string        `json:"brandName"`
	ServingSize              float64       `json:"servingSize"`
	ServingSizeUnit          string        `json:"servingSizeUnit"`
	HouseholdServingFullText string        `json:"householdServingFullText"`
	FoodNutrients            []fdcNutrient `json:"foodNutrients"`
	FoodPortions             []fdcPortion  `json:"foodPortions"`
}

// FetchFood loads /v1/food/{fdcId}. Nutrient amounts from FoodData Central
// are per 100 g, so the item's default serving is 100 g.
func (c *USDAClient) FetchFood(ctx context.Context, fdcID string) (*models.FoodItem, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("usda rate limit: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/food/%s?api_key=%s", c.baseURL, url.PathEscape(fdcID), url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usda request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("usda returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var food fdcFood
	if err := json.NewDecoder(resp.Body).Decode(&food); err != nil {
		return nil, fmt.Errorf("failed to decode usda food: %w", err)
	}

	item := food.toFoodItem(fdcID)
	log.Printf("✅ [USDA] Loaded %s (%s): %d nutrients, %d servings", fdcID, item.Name, len(item.Nutrients), len(item.Servings))
	return item, nil
}

func (f *fdcFood) toFoodItem(fdcID string) *models.FoodItem {
	item := &models.FoodItem{
		Name:                     f.Description,
		DefaultServingWeightGram: models.Float64Ptr(100),
		FoodInfoSource:           models.SourceUSDA,
		ExternalID:               models.StringPtr(fdcID),
	}
	brand := f.BrandName
	if brand == "" {
		brand = f.BrandOwner
	}
	if brand != "" {
		item.Brand = models.StringPtr(brand)
	}

	macros := map[string]**float64{
		"kcal":        &item.KcalPerServing,
		"totalFatG":   &item.TotalFatPerServing,
		"satFatG":     &item.SatFatPerServing,
		"transFatG":   &item.TransFatPerServing,
		"carbG":       &item.CarbPerServing,
		"sugarG":      &item.SugarPerServing,
		"addedSugarG": &item.AddedSugarPerServing,
		"proteinG":    &item.ProteinPerServing,
		"fiberG":      &item.FiberPerServing,
	}

	for _, n := range f.FoodNutrients {
		if n.Amount == nil {
			continue
		}
		field, ok := nutrients.MapField(n.Nutrient.Name)
		if !ok {
			continue
		}
		// Energy is reported in both kcal and kJ
		if field == "kcal" && !strings.EqualFold(n.Nutrient.UnitName, "kcal") {
			continue
		}
		if target, isMacro := macros[field]; isMacro {
			*target = models.Float64Ptr(*n.Amount)
			continue
		}
		item.Nutrients = append(item.Nutrients, models.Nutrient{
			NutrientName:                    field,
			NutrientUnit:                    strings.ToLower(n.Nutrient.UnitName),
			NutrientAmountPerDefaultServing: *n.Amount,
		})
	}

	for _, p := range f.FoodPortions {
		if p.GramWeight <= 0 {
			continue
		}
		name := portionName(p)
		if name == "" {
			continue
		}
		serving := models.Serving{
			ServingName:       name,
			ServingWeightGram: models.Float64Ptr(p.GramWeight),
		}
		if p.Amount > 0 {
			serving.DefaultServingAmount = models.Float64Ptr(p.Amount)
		}
		item.Servings = append(item.Servings, serving)
	}

	if f.ServingSize > 0 && strings.EqualFold(f.ServingSizeUnit, "g") {
		name := f.HouseholdServingFullText
		if name == "" {
			name = "serving"
		}
		item.Servings = append(item.Servings, models.Serving{
			ServingName:       name,
			ServingWeightGram: models.Float64Ptr(f.ServingSize),
		})
	}

	return item
}

func portionName(p fdcPortion) string {
	if d := strings.TrimSpace(p.PortionDescription); d != "" && !strings.EqualFold(d, "Quantity not specified") {
		return d
	}
	unit := strings.TrimSpace(p.MeasureUnit.Name)
	if strings.EqualFold(unit, "undetermined") {
		unit = ""
	}
	return strings.TrimSpace(unit + " " + strings.TrimSpace(p.Modifier))
}
