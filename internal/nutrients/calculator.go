package nutrients

import (
	"foodlog/internal/models"
)

// FallbackServingWeightGram is the denominator used when a FoodItem has no
// default serving weight: its per-serving values are treated as per 100 g.
const FallbackServingWeightGram = 100.0

// MacroFields are always present in a snapshot, nil columns count as 0
var MacroFields = []string{
	"kcal", "totalFatG", "satFatG", "transFatG", "carbG",
	"sugarG", "addedSugarG", "proteinG", "fiberG",
}

// ScaleFactor returns grams / default serving weight, with the 100 g fallback
func ScaleFactor(grams float64, food *models.FoodItem) float64 {
	denominator := FallbackServingWeightGram
	if food.DefaultServingWeightGram != nil && *food.DefaultServingWeightGram > 0 {
		denominator = *food.DefaultServingWeightGram
	}
	return grams / denominator
}

// Calculate scales a FoodItem's per-default-serving nutrients to grams.
// The result holds the nine macro fields plus every Nutrient row whose name
// maps to a canonical field; unmapped rows are skipped and a later row wins
// over an earlier one for the same field. No I/O, safe to call repeatedly.
func Calculate(grams float64, food *models.FoodItem) models.NutrientSnapshot {
	factor := ScaleFactor(grams, food)

	snapshot := models.NutrientSnapshot{
		"kcal":        models.ValueOrZero(food.KcalPerServing) * factor,
		"totalFatG":   models.ValueOrZero(food.TotalFatPerServing) * factor,
		"satFatG":     models.ValueOrZero(food.SatFatPerServing) * factor,
		"transFatG":   models.ValueOrZero(food.TransFatPerServing) * factor,
		"carbG":       models.ValueOrZero(food.CarbPerServing) * factor,
		"sugarG":      models.ValueOrZero(food.SugarPerServing) * factor,
		"addedSugarG": models.ValueOrZero(food.AddedSugarPerServing) * factor,
		"proteinG":    models.ValueOrZero(food.ProteinPerServing) * factor,
		"fiberG":      models.ValueOrZero(food.FiberPerServing) * factor,
	}

	for _, nutrient := range food.Nutrients {
		field, ok := MapField(nutrient.NutrientName)
		if !ok {
			continue
		}
		snapshot[field] = nutrient.NutrientAmountPerDefaultServing * factor
	}

	return snapshot
}

// CalorieDeviation compares kcal against 4/4/9 kcal per gram of
// carbs/protein/fat and returns the relative deviation. ok is false when the
// snapshot has too little energy to judge.
func CalorieDeviation(snapshot models.NutrientSnapshot) (deviation float64, ok bool) {
	kcal := snapshot["kcal"]
	estimated := 4*snapshot["carbG"] + 4*snapshot["proteinG"] + 9*snapshot["totalFatG"]
	if kcal < 10 && estimated < 10 {
		return 0, false
	}
	reference := kcal
	if reference < estimated {
		reference = estimated
	}
	diff := kcal - estimated
	if diff < 0 {
		diff = -diff
	}
	return diff / reference, true
}
