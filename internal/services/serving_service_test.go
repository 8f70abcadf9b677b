package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"foodlog/internal/config"
	"foodlog/internal/models"
)

func TestEvaluateServingEquation(t *testing.T) {
	tests := []struct {
		equation string
		want     float64
		wantErr  bool
	}{
		{"3*28.3495", 85.0485, false},
		{"100", 100, false},
		{"(2 + 1) * 14", 42, false},
		{"1/3", 1.0 / 3, false},
		{"0", 0, true},
		{"5-5", 0, true},
		{"1/0", 0, true},
		{"2**3", 0, true},
		{"len('abc')", 0, true},
		{"", 0, true},
		{"2 *", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.equation, func(t *testing.T) {
			got, err := EvaluateServingEquation(tt.equation)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidServingEquation) {
					t.Fatalf("expected ErrInvalidServingEquation, got %v (value %v)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchServing(t *testing.T) {
	servings := []models.Serving{
		{ID: 7, ServingName: "cup", ServingWeightGram: models.Float64Ptr(240)},
		{ID: 3, ServingName: "tbsp", ServingWeightGram: models.Float64Ptr(15)},
		{ID: 9, ServingName: "unweighed"},
		{ID: 4, ServingName: "2 slices", ServingWeightGram: models.Float64Ptr(60), DefaultServingAmount: models.Float64Ptr(2)},
	}

	tests := []struct {
		name  string
		grams float64
		want  int64
	}{
		{"three tablespoons", 45, 3},
		{"off by more than one percent", 46, 0},
		{"within one percent", 45.4, 3},
		{"lightest serving wins", 240, 3},
		{"per-unit weight of a multi-unit serving", 90, 3},
		{"slice weight", 30, 3},
		{"below one unit", 5, 0},
		{"zero grams", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchServing(tt.grams, servings); got != tt.want {
				t.Errorf("MatchServing(%v) = %d, want %d", tt.grams, got, tt.want)
			}
		})
	}

	slices := []models.Serving{
		{ID: 4, ServingName: "2 slices", ServingWeightGram: models.Float64Ptr(60), DefaultServingAmount: models.Float64Ptr(2)},
	}
	if got := MatchServing(90, slices); got != 4 {
		t.Errorf("expected 90 g to be three 30 g slices, got serving %d", got)
	}
}

func TestBuildServingPrompt_RenumbersLightestSix(t *testing.T) {
	food := &models.FoodItem{Name: "Rice"}
	for i := 1; i <= 8; i++ {
		food.Servings = append(food.Servings, models.Serving{
			ID:                int64(100 + i),
			ServingName:       "s" + string(rune('0'+i)),
			ServingWeightGram: models.Float64Ptr(float64(10 * (9 - i))),
		})
	}
	item := &models.FoodItemToLog{FoodDatabaseSearchName: "rice", FullItemUserMessageIncludingServing: "a bowl of rice"}

	prompt := buildServingPrompt(item, food)
	if !strings.Contains(prompt, "a bowl of rice") {
		t.Error("prompt is missing the user message")
	}
	if !strings.Contains(prompt, "1. s8: 10 g") || !strings.Contains(prompt, "6. s3: 60 g") {
		t.Errorf("expected lightest servings numbered from 1, got:\n%s", prompt)
	}
	if strings.Contains(prompt, "7.") || strings.Contains(prompt, "101") {
		t.Errorf("prompt should hold six servings without database ids:\n%s", prompt)
	}
}

func TestBuildServingPrompt_CarriesBrand(t *testing.T) {
	food := &models.FoodItem{Name: "Butter"}
	item := &models.FoodItemToLog{
		FoodDatabaseSearchName:              "butter",
		FullItemUserMessageIncludingServing: "1 pat of butter",
		Branded:                             true,
		Brand:                               "Kerrygold",
	}
	if prompt := buildServingPrompt(item, food); !strings.Contains(prompt, "1 pat of butter Kerrygold") {
		t.Errorf("brand missing from prompt:\n%s", prompt)
	}

	// Already named in the message: not repeated
	item.FullItemUserMessageIncludingServing = "1 pat of kerrygold butter"
	if prompt := buildServingPrompt(item, food); strings.Count(strings.ToLower(prompt), "kerrygold") != 1 {
		t.Errorf("brand repeated in prompt:\n%s", prompt)
	}
}

func resolveFixture() (*models.FoodItemToLog, *models.FoodItem) {
	item := &models.FoodItemToLog{
		FoodDatabaseSearchName:              "salted butter",
		FullItemUserMessageIncludingServing: "2 tablespoons of salted butter",
	}
	food := butterFood()
	food.Servings[0].ID = 11
	food.Servings[1].ID = 12
	return item, food
}

func TestResolve_SnapsToServing(t *testing.T) {
	completer := newScriptedCompleter()
	completer.answers[config.PurposeServing] = []string{
		`{"reasoning":"two tablespoons","equation_grams":"2*14","amount":"2","serving_name":"tbsp","full_serving_string":"2 tbsp"}`,
	}
	item, food := resolveFixture()

	got, err := NewServingResolver(completer).Resolve(context.Background(), item, food)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Serving == nil {
		t.Fatal("expected serving to be set")
	}
	if got.Serving.TotalServingGOrMl != 28 || got.Serving.ServingAmount != 2 || got.Serving.ServingGOrMl != "g" {
		t.Errorf("unexpected serving %+v", got.Serving)
	}
	if got.Serving.ServingID != 11 {
		t.Errorf("expected 28 g to snap onto the 14 g tbsp serving, got %d", got.Serving.ServingID)
	}
	if item.Serving != nil {
		t.Error("Resolve must not modify its input")
	}
}

func TestResolve_RetriesMalformedOutput(t *testing.T) {
	completer := newScriptedCompleter()
	completer.answers[config.PurposeServing] = []string{
		`sorry, I cannot help`,
		`{"equation_grams":"2*14"}`,
		`{"equation_grams":"2*14","amount":2,"serving_name":"tbsp"}`,
	}
	item, food := resolveFixture()

	got, err := NewServingResolver(completer).Resolve(context.Background(), item, food)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if completer.callCount(config.PurposeServing) != 3 {
		t.Errorf("expected 3 attempts, got %d", completer.callCount(config.PurposeServing))
	}
	if got.Serving.FullServingString != "2 tbsp" {
		t.Errorf("expected generated serving string, got %q", got.Serving.FullServingString)
	}
	if len(completer.temps) != 3 || completer.temps[0] != 0 || completer.temps[2] != 0.2 {
		t.Errorf("unexpected temperatures %v", completer.temps)
	}
}

func TestResolve_InvalidEquationIsHardError(t *testing.T) {
	completer := newScriptedCompleter()
	completer.answers[config.PurposeServing] = []string{
		`{"equation_grams":"2*0","amount":2,"serving_name":"tbsp"}`,
		`{"equation_grams":"28","amount":2,"serving_name":"tbsp"}`,
	}
	item, food := resolveFixture()

	_, err := NewServingResolver(completer).Resolve(context.Background(), item, food)
	if !errors.Is(err, ErrInvalidServingEquation) {
		t.Fatalf("expected ErrInvalidServingEquation, got %v", err)
	}
	if completer.callCount(config.PurposeServing) != 1 {
		t.Errorf("invalid equation must not be retried, got %d calls", completer.callCount(config.PurposeServing))
	}
}

func TestResolve_TinyResultUsesLastAttempt(t *testing.T) {
	completer := newScriptedCompleter()
	completer.answers[config.PurposeServing] = []string{
		`{"equation_grams":"0.5","amount":1,"serving_name":"pinch"}`,
		`{"equation_grams":"0.4","amount":1,"serving_name":"pinch"}`,
		`{"equation_grams":"0.3","amount":1,"serving_name":"pinch"}`,
	}
	item, food := resolveFixture()

	got, err := NewServingResolver(completer).Resolve(context.Background(), item, food)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if completer.callCount(config.PurposeServing) != 3 {
		t.Errorf("expected every temperature to be tried, got %d", completer.callCount(config.PurposeServing))
	}
	if got.Serving.TotalServingGOrMl != 0.3 || got.Serving.ServingID != 0 {
		t.Errorf("expected last result without a serving match, got %+v", got.Serving)
	}
}

func TestResolve_FirstCompletionErrorIsReturned(t *testing.T) {
	completer := newScriptedCompleter()
	completer.errs[config.PurposeServing] = []error{errors.New("provider down")}
	completer.answers[config.PurposeServing] = []string{`{"equation_grams":"28","amount":2,"serving_name":"tbsp"}`}
	item, food := resolveFixture()

	if _, err := NewServingResolver(completer).Resolve(context.Background(), item, food); err == nil {
		t.Fatal("expected the first completion error to be returned")
	}
}

func TestResolve_AllMalformed(t *testing.T) {
	completer := newScriptedCompleter()
	completer.answers[config.PurposeServing] = []string{`not json`}
	item, food := resolveFixture()

	if _, err := NewServingResolver(completer).Resolve(context.Background(), item, food); err == nil {
		t.Fatal("expected an error when no attempt produced a serving")
	}
}
