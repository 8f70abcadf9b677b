package models

import (
	"fmt"
	"time"
)

// FoodInfoSource identifies where a FoodItem's nutrition data came from
type FoodInfoSource string

const (
	SourceInternal FoodInfoSource = "INTERNAL"
	SourceUSDA     FoodInfoSource = "USDA"
	SourceWeb      FoodInfoSource = "WEB"
)

// FoodItem is the canonical nutrition record. Macro columns are per default serving.
type FoodItem struct {
	ID                       int64          `json:"id"`
	Name                     string         `json:"name"`
	Brand                    *string        `json:"brand,omitempty"`
	DefaultServingWeightGram *float64       `json:"defaultServingWeightGram"`
	DefaultServingLiquidMl   *float64       `json:"defaultServingLiquidMl"`
	IsLiquid                 bool           `json:"isLiquid"`
	WeightUnknown            bool           `json:"weightUnknown"`
	KcalPerServing           *float64       `json:"kcalPerServing"`
	TotalFatPerServing       *float64       `json:"totalFatPerServing"`
	SatFatPerServing         *float64       `json:"satFatPerServing"`
	TransFatPerServing       *float64       `json:"transFatPerServing"`
	CarbPerServing           *float64       `json:"carbPerServing"`
	SugarPerServing          *float64       `json:"sugarPerServing"`
	AddedSugarPerServing     *float64       `json:"addedSugarPerServing"`
	ProteinPerServing        *float64       `json:"proteinPerServing"`
	FiberPerServing          *float64       `json:"fiberPerServing"`
	FoodInfoSource           FoodInfoSource `json:"foodInfoSource"`
	ExternalID               *string        `json:"externalId,omitempty"`

	// Embeddings are never serialized to API clients
	NameEmbedding    []float32 `json:"-"`
	MessageEmbedding []float32 `json:"-"`

	Nutrients []Nutrient  `json:"Nutrient"`
	Servings  []Serving   `json:"Serving"`
	Images    []FoodImage `json:"images,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Nutrient is a (name, unit, amount per default serving) row owned by a FoodItem.
// NutrientName is free-form and must go through the nutrient field mapper before use.
type Nutrient struct {
	ID                              int64   `json:"id"`
	FoodItemID                      int64   `json:"foodItemId"`
	NutrientName                    string  `json:"nutrientName"`
	NutrientUnit                    string  `json:"nutrientUnit"`
	NutrientAmountPerDefaultServing float64 `json:"nutrientAmountPerDefaultServing"`
}

// Serving is a common, discrete quantity of a FoodItem ("1 cup", "2 tbsp")
type Serving struct {
	ID                     int64    `json:"id"`
	FoodItemID             int64    `json:"foodItemId"`
	ServingWeightGram      *float64 `json:"servingWeightGram"`
	ServingName            string   `json:"servingName"`
	ServingAlternateAmount *float64 `json:"servingAlternateAmount"`
	ServingAlternateUnit   *string  `json:"servingAlternateUnit"`
	DefaultServingAmount   *float64 `json:"defaultServingAmount"`
}

// WeightPerUnit returns the gram weight of one unit of this serving
func (s Serving) WeightPerUnit() float64 {
	if s.ServingWeightGram == nil {
		return 0
	}
	amount := 1.0
	if s.DefaultServingAmount != nil && *s.DefaultServingAmount != 0 {
		amount = *s.DefaultServingAmount
	}
	return *s.ServingWeightGram / amount
}

// FoodImage is a curated picture of a FoodItem; users can downvote bad ones
type FoodImage struct {
	ID         int64  `json:"id"`
	FoodItemID int64  `json:"foodItemId"`
	URL        string `json:"url"`
	Downvotes  int    `json:"downvotes"`
}

// DisplayName returns "name - brand" when a brand is known
func (f *FoodItem) DisplayName() string {
	if f.Brand != nil && *f.Brand != "" {
		return f.Name + " - " + *f.Brand
	}
	return f.Name
}

// Validate checks the FoodItem invariants: positive default serving
// weight/volume when present and non-negative macros.
func (f *FoodItem) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("food item name is required")
	}
	if f.DefaultServingWeightGram != nil && *f.DefaultServingWeightGram <= 0 {
		return fmt.Errorf("default serving weight must be positive, got %v", *f.DefaultServingWeightGram)
	}
	if f.DefaultServingLiquidMl != nil && *f.DefaultServingLiquidMl <= 0 {
		return fmt.Errorf("default serving volume must be positive, got %v", *f.DefaultServingLiquidMl)
	}

	macros := map[string]*float64{
		"kcal":       f.KcalPerServing,
		"totalFat":   f.TotalFatPerServing,
		"satFat":     f.SatFatPerServing,
		"transFat":   f.TransFatPerServing,
		"carb":       f.CarbPerServing,
		"sugar":      f.SugarPerServing,
		"addedSugar": f.AddedSugarPerServing,
		"protein":    f.ProteinPerServing,
		"fiber":      f.FiberPerServing,
	}
	for name, value := range macros {
		if value != nil && *value < 0 {
			return fmt.Errorf("%s per serving must be non-negative, got %v", name, *value)
		}
	}

	return nil
}

// Float64Ptr is a small helper for optional numeric columns
func Float64Ptr(v float64) *float64 {
	return &v
}

// StringPtr is a small helper for optional text columns
func StringPtr(v string) *string {
	return &v
}

// ValueOrZero dereferences an optional number, treating nil as 0
func ValueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
