package services

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"foodlog/internal/config"
	"foodlog/internal/llm"
	"foodlog/internal/models"
	"foodlog/internal/nutrients"
)

const (
	webMaxCandidateURLs = 2
	webExtractMaxTokens = 2048
)

var webExtractTemperatures = []float64{0, 0.1}

// Shopping sites list prices, not reliable nutrition panels
var ignoredWebDomains = []string{"amazon", "walmart", "costco", "kingkullen"}

const webExtractSystemPrompt = `You are a nutrition data extraction assistant. You read a product or recipe web page and reply with a single JSON object describing its nutrition facts.`

const webExtractPromptTemplate = `Find the nutrition facts for "{{FOOD}}" in the page below and return them for one default serving.

Reply with exactly this JSON object:
{
  "name": "food name",
  "brand": "brand or empty string",
  "default_serving_weight_g": grams in one default serving or null when unknown,
  "default_serving_liquid_ml": millilitres in one default serving or null,
  "is_liquid": true or false,
  "kcal": number or null,
  "total_fat_g": number or null,
  "sat_fat_g": number or null,
  "trans_fat_g": number or null,
  "carb_g": number or null,
  "sugar_g": number or null,
  "added_sugar_g": number or null,
  "protein_g": number or null,
  "fiber_g": number or null,
  "nutrients": [{"name": "Sodium", "unit": "mg", "amount": 0}],
  "servings": [{"name": "1 cup", "grams": 0}]
}

Only use values printed on the page. Use null for anything the page does not state.

Page ({{URL}}):
{{PAGE}}`

type webNutrient struct {
	Name   string  `json:"name" validate:"required"`
	Unit   string  `json:"unit"`
	Amount float64 `json:"amount" validate:"gte=0"`
}

type webServing struct {
	Name  string  `json:"name" validate:"required"`
	Grams float64 `json:"grams" validate:"gt=0"`
}

type webNutritionOutput struct {
	Name                   string        `json:"name" validate:"required"`
	Brand                  string        `json:"brand"`
	DefaultServingWeightG  *float64      `json:"default_serving_weight_g" validate:"omitempty,gt=0"`
	DefaultServingLiquidMl *float64      `json:"default_serving_liquid_ml" validate:"omitempty,gt=0"`
	IsLiquid               bool          `json:"is_liquid"`
	Kcal                   *float64      `json:"kcal" validate:"required,gte=0"`
	TotalFatG              *float64      `json:"total_fat_g" validate:"omitempty,gte=0"`
	SatFatG                *float64      `json:"sat_fat_g" validate:"omitempty,gte=0"`
	TransFatG              *float64      `json:"trans_fat_g" validate:"omitempty,gte=0"`
	CarbG                  *float64      `json:"carb_g" validate:"omitempty,gte=0"`
	SugarG                 *float64      `json:"sugar_g" validate:"omitempty,gte=0"`
	AddedSugarG            *float64      `json:"added_sugar_g" validate:"omitempty,gte=0"`
	ProteinG               *float64      `json:"protein_g" validate:"omitempty,gte=0"`
	FiberG                 *float64      `json:"fiber_g" validate:"omitempty,gte=0"`
	Nutrients              []webNutrient `json:"nutrients" validate:"dive"`
	Servings               []webServing  `json:"servings" validate:"dive"`
}

func (o *webNutritionOutput) toFoodItem(sourceURL string) *models.FoodItem {
	item := &models.FoodItem{
		Name:                     o.Name,
		DefaultServingWeightGram: o.DefaultServingWeightG,
		DefaultServingLiquidMl:   o.DefaultServingLiquidMl,
		IsLiquid:                 o.IsLiquid,
		WeightUnknown:            o.DefaultServingWeightG == nil,
		KcalPerServing:           o.Kcal,
		TotalFatPerServing:       o.TotalFatG,
		SatFatPerServing:         o.SatFatG,
		TransFatPerServing:       o.TransFatG,
		CarbPerServing:           o.CarbG,
		SugarPerServing:          o.SugarG,
		AddedSugarPerServing:     o.AddedSugarG,
		ProteinPerServing:        o.ProteinG,
		FiberPerServing:          o.FiberG,
		FoodInfoSource:           models.SourceWeb,
		ExternalID:               models.StringPtr(sourceURL),
	}
	if o.Brand != "" {
		item.Brand = models.StringPtr(o.Brand)
	}
	for _, n := range o.Nutrients {
		field, ok := nutrients.MapField(n.Name)
		if !ok {
			continue
		}
		item.Nutrients = append(item.Nutrients, models.Nutrient{
			NutrientName:                    field,
			NutrientUnit:                    n.Unit,
			NutrientAmountPerDefaultServing: n.Amount,
		})
	}
	for _, s := range o.Servings {
		item.Servings = append(item.Servings, models.Serving{
			ServingName:       s.Name,
			ServingWeightGram: models.Float64Ptr(s.Grams),
		})
	}
	return item
}

// WebFoodFinder builds a FoodItem from a nutrition page found on the web
type WebFoodFinder struct {
	searcher  WebSearcher
	fetcher   PageFetcher
	completer llm.Completer
}

// NewWebFoodFinder creates the web fallback
func NewWebFoodFinder(searcher WebSearcher, fetcher PageFetcher, completer llm.Completer) *WebFoodFinder {
	return &WebFoodFinder{searcher: searcher, fetcher: fetcher, completer: completer}
}

// WebSearchQuery is the query sent to the search provider for an item
func WebSearchQuery(item *models.FoodItemToLog) string {
	parts := []string{item.FoodDatabaseSearchName}
	if item.Brand != "" {
		parts = append(parts, item.Brand)
	}
	parts = append(parts, "nutrition")
	return strings.Join(parts, " ")
}

// isIgnoredDomain compares every label of the host against the ignore list
// so that smile.amazon.com and amazon.co.uk both match
func isIgnoredDomain(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return true
	}
	for _, label := range strings.Split(strings.ToLower(u.Hostname()), ".") {
		for _, ignored := range ignoredWebDomains {
			if label == ignored {
				return true
			}
		}
	}
	return false
}

// CandidateURLs returns at most two result URLs outside ignored domains,
// in result order
func CandidateURLs(results []WebResult) []string {
	var urls []string
	seen := map[string]bool{}
	for _, r := range results {
		if r.URL == "" || seen[r.URL] || isIgnoredDomain(r.URL) {
			continue
		}
		seen[r.URL] = true
		urls = append(urls, r.URL)
		if len(urls) == webMaxCandidateURLs {
			break
		}
	}
	return urls
}

// Find searches the web for the item and extracts a FoodItem from the first
// usable page. Returns nil, nil when no page yields nutrition data.
func (w *WebFoodFinder) Find(ctx context.Context, item *models.FoodItemToLog) (*models.FoodItem, error) {
	query := WebSearchQuery(item)
	results, err := w.searcher.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}

	urls := CandidateURLs(results)
	if len(urls) == 0 {
		log.Printf("⚠️ [WEB-FALLBACK] No usable results for %q", query)
		return nil, nil
	}

	for _, pageURL := range urls {
		food, err := w.extractFromPage(ctx, item, pageURL)
		if err != nil {
			log.Printf("⚠️ [WEB-FALLBACK] %s: %v", pageURL, err)
			continue
		}
		if food != nil {
			log.Printf("✅ [WEB-FALLBACK] Extracted %q from %s", food.Name, pageURL)
			return food, nil
		}
	}

	log.Printf("⚠️ [WEB-FALLBACK] Gave up on %q after %d page(s)", query, len(urls))
	return nil, nil
}

func (w *WebFoodFinder) extractFromPage(ctx context.Context, item *models.FoodItemToLog, pageURL string) (*models.FoodItem, error) {
	text, err := w.fetcher.FetchText(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	prompt := strings.NewReplacer(
		"{{FOOD}}", item.RequestString(),
		"{{URL}}", pageURL,
		"{{PAGE}}", text,
	).Replace(webExtractPromptTemplate)

	for _, temperature := range webExtractTemperatures {
		out, err := w.completer.Complete(ctx, llm.Request{
			Purpose:        config.PurposeExtract,
			SystemPrompt:   webExtractSystemPrompt,
			UserPrompt:     prompt,
			Temperature:    temperature,
			MaxTokens:      webExtractMaxTokens,
			ResponseFormat: llm.FormatJSONObject,
		})
		if err != nil {
			return nil, fmt.Errorf("extraction failed: %w", err)
		}

		result := llm.ParseJSON[webNutritionOutput](out)
		parsed, ok := result.Value()
		if !ok {
			log.Printf("⚠️ [WEB-FALLBACK] Malformed extraction at temperature %.1f: %s", temperature, result.Malformed().Reason)
			continue
		}

		food := parsed.toFoodItem(pageURL)
		if err := food.Validate(); err != nil {
			log.Printf("⚠️ [WEB-FALLBACK] Extracted item is invalid: %v", err)
			continue
		}
		return food, nil
	}
	return nil, nil
}
