package services

import (
	"context"
	"testing"

	"foodlog/internal/models"
)

func profile(id int64, name string, weight, kcal, fat, carb, protein float64) models.FoodItem {
	return models.FoodItem{
		ID:                       id,
		Name:                     name,
		DefaultServingWeightGram: models.Float64Ptr(weight),
		KcalPerServing:           models.Float64Ptr(kcal),
		TotalFatPerServing:       models.Float64Ptr(fat),
		CarbPerServing:           models.Float64Ptr(carb),
		ProteinPerServing:        models.Float64Ptr(protein),
		FoodInfoSource:           models.SourceInternal,
	}
}

func TestFindDuplicates_Tolerance(t *testing.T) {
	items := []models.FoodItem{
		profile(1, "Oats", 40, 150, 2.5, 27, 5),
		profile(2, "Rolled oats", 40, 150.00005, 2.5, 27, 5),
		profile(3, "Oat flakes", 40, 150.0002, 2.5, 27, 5),
	}

	pairs := FindDuplicates(items)
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair within 0.0001, got %d: %+v", len(pairs), pairs)
	}
	if pairs[0].First.ID != 1 || pairs[0].Second.ID != 2 || pairs[0].NameDistance != 7 {
		t.Errorf("unexpected first pair %+v", pairs[0])
	}
}

func TestFindDuplicates_NilCountsAsZero(t *testing.T) {
	items := []models.FoodItem{
		{ID: 1, Name: "Water"},
		{ID: 2, Name: "Sparkling water", DefaultServingWeightGram: models.Float64Ptr(0)},
		profile(3, "Water", 240, 0, 0, 0, 0),
	}

	pairs := FindDuplicates(items)
	if len(pairs) != 1 || pairs[0].First.ID != 1 || pairs[0].Second.ID != 2 {
		t.Fatalf("expected only the two unweighed items to pair, got %+v", pairs)
	}
}

func TestFindDuplicates_NameDistanceNeverFilters(t *testing.T) {
	items := []models.FoodItem{
		profile(1, "Chicken breast", 100, 165, 3.6, 0, 31),
		profile(2, "Completely different name", 100, 165, 3.6, 0, 31),
	}
	pairs := FindDuplicates(items)
	if len(pairs) != 1 || pairs[0].NameDistance == 0 {
		t.Errorf("expected one pair with a non-zero distance, got %+v", pairs)
	}
}

func TestDuplicateFinder_Report(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	for _, name := range []string{"Butter", "Butter, salted"} {
		food := butterFood()
		food.Name = name
		if _, err := s.InsertFoodItem(ctx, food); err != nil {
			t.Fatalf("InsertFoodItem failed: %v", err)
		}
	}
	other := butterFood()
	other.KcalPerServing = models.Float64Ptr(102)
	if _, err := s.InsertFoodItem(ctx, other); err != nil {
		t.Fatalf("InsertFoodItem failed: %v", err)
	}

	pairs, err := NewDuplicateFinder(s).Report(ctx)
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if len(pairs) != 1 || pairs[0].First.Name != "Butter" || pairs[0].Second.Name != "Butter, salted" {
		t.Errorf("unexpected pairs %+v", pairs)
	}
}
