package nutrients

import (
	"math"
	"testing"

	"foodlog/internal/models"

	"gopkg.in/yaml.v3"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestMapField_EveryAliasResolvesToItsField(t *testing.T) {
	var table []fieldAliases
	order, _, err := loadAliases(aliasesYAML)
	if err != nil {
		t.Fatalf("alias table failed to load: %v", err)
	}
	if len(order) != len(Fields()) {
		t.Fatalf("expected %d fields, got %d", len(order), len(Fields()))
	}

	if err := yaml.Unmarshal(aliasesYAML, &table); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, entry := range table {
		for _, alias := range entry.Aliases {
			got, ok := MapField(alias)
			if !ok {
				t.Errorf("alias %q did not resolve", alias)
				continue
			}
			if got != entry.Field {
				t.Errorf("alias %q resolved to %s, want %s", alias, got, entry.Field)
			}
		}
	}
}

func TestMapField_Normalization(t *testing.T) {
	tests := []struct {
		name  string
		field string
	}{
		{"Total lipid (fat)", "totalFatG"},
		{"TOTAL LIPID (FAT)", "totalFatG"},
		{"  energy ", "kcal"},
		{"Sodium, Na", "sodiumMg"},
		{"sodium-na", "sodiumMg"},
		{"Vitamin B-12", "vitaminB12Mcg"},
		{"vitamin b12", "vitaminB12Mcg"},
		{"proteinG", "proteinG"},
	}

	for _, tt := range tests {
		got, ok := MapField(tt.name)
		if !ok || got != tt.field {
			t.Errorf("MapField(%q) = %q,%v want %q", tt.name, got, ok, tt.field)
		}
	}
}

func TestMapField_Unknown(t *testing.T) {
	for _, name := range []string{"Unobtainium", "", "!!!", "Ash"} {
		if field, ok := MapField(name); ok {
			t.Errorf("MapField(%q) should be unknown, got %q", name, field)
		}
	}
}

func TestLoadAliases_RejectsCollision(t *testing.T) {
	data := []byte("- field: a\n  aliases: [Salt]\n- field: b\n  aliases: [salt]\n")
	if _, _, err := loadAliases(data); err == nil {
		t.Fatal("expected collision error")
	}
}

func TestCalculate_ScalesByDefaultServingWeight(t *testing.T) {
	food := &models.FoodItem{
		Name:                     "Oats",
		DefaultServingWeightGram: models.Float64Ptr(40),
		KcalPerServing:           models.Float64Ptr(150),
		ProteinPerServing:        models.Float64Ptr(5),
		CarbPerServing:           models.Float64Ptr(27),
		TotalFatPerServing:       models.Float64Ptr(2.5),
	}

	for _, grams := range []float64{0, 1, 40, 55.5, 300} {
		snapshot := Calculate(grams, food)
		want := 150 * grams / 40
		if !almostEqual(snapshot["kcal"], want) {
			t.Errorf("grams=%v: kcal=%v want %v", grams, snapshot["kcal"], want)
		}
	}
}

func TestCalculate_NullDefaultWeightUses100(t *testing.T) {
	food := &models.FoodItem{Name: "Mystery", KcalPerServing: models.Float64Ptr(200)}

	snapshot := Calculate(50, food)
	if !almostEqual(snapshot["kcal"], 100) {
		t.Errorf("expected kcal 100, got %v", snapshot["kcal"])
	}
}

func TestCalculate_MacrosAlwaysPresent(t *testing.T) {
	snapshot := Calculate(100, &models.FoodItem{Name: "Water"})

	for _, field := range MacroFields {
		value, ok := snapshot[field]
		if !ok {
			t.Errorf("macro %s missing", field)
		}
		if value != 0 {
			t.Errorf("macro %s should be 0 for nil column, got %v", field, value)
		}
	}
	if len(snapshot) != len(MacroFields) {
		t.Errorf("expected only macros, got %v", snapshot)
	}
}

func TestCalculate_Micronutrients(t *testing.T) {
	food := &models.FoodItem{
		Name:                     "Spinach",
		DefaultServingWeightGram: models.Float64Ptr(100),
		Nutrients: []models.Nutrient{
			{NutrientName: "Iron, Fe", NutrientUnit: "mg", NutrientAmountPerDefaultServing: 2.7},
			{NutrientName: "Potassium, K", NutrientUnit: "mg", NutrientAmountPerDefaultServing: 558},
			{NutrientName: "Ash", NutrientUnit: "g", NutrientAmountPerDefaultServing: 1.7},
			{NutrientName: "Unobtainium", NutrientUnit: "g", NutrientAmountPerDefaultServing: 9},
			{NutrientName: "potassium", NutrientUnit: "mg", NutrientAmountPerDefaultServing: 560},
		},
	}

	snapshot := Calculate(50, food)

	if !almostEqual(snapshot["ironMg"], 1.35) {
		t.Errorf("ironMg = %v, want 1.35", snapshot["ironMg"])
	}
	// Later row for the same field wins
	if !almostEqual(snapshot["potassiumMg"], 280) {
		t.Errorf("potassiumMg = %v, want 280", snapshot["potassiumMg"])
	}
	for key := range snapshot {
		if _, ok := MapField(key); !ok {
			t.Errorf("snapshot leaked unrecognized key %q", key)
		}
	}
	if len(snapshot) != len(MacroFields)+2 {
		t.Errorf("expected macros plus 2 micronutrients, got %d keys", len(snapshot))
	}
}

func TestCalculate_ButterEndToEndRatio(t *testing.T) {
	butter := &models.FoodItem{
		Name:                     "Butter, salted",
		DefaultServingWeightGram: models.Float64Ptr(14),
		KcalPerServing:           models.Float64Ptr(100),
	}

	kcal := Calculate(100, butter)["kcal"]
	if math.Abs(kcal-714.2857) > 0.001 {
		t.Errorf("expected ~714.3 kcal, got %v", kcal)
	}
}

func TestCalorieDeviation(t *testing.T) {
	consistent := models.NutrientSnapshot{"kcal": 96, "carbG": 10, "proteinG": 5, "totalFatG": 4}
	if dev, ok := CalorieDeviation(consistent); !ok || dev > 0.01 {
		t.Errorf("expected near-zero deviation, got %v ok=%v", dev, ok)
	}

	off := models.NutrientSnapshot{"kcal": 400, "carbG": 10, "proteinG": 5, "totalFatG": 4}
	if dev, ok := CalorieDeviation(off); !ok || dev < 0.7 {
		t.Errorf("expected large deviation, got %v ok=%v", dev, ok)
	}

	if _, ok := CalorieDeviation(models.NutrientSnapshot{"kcal": 1}); ok {
		t.Error("tiny snapshots should not be judged")
	}
}
