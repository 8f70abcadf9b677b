package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"foodlog/internal/config"
	"foodlog/internal/llm"
	"foodlog/internal/models"
)

// ErrInvalidServingEquation means the model produced an equation that does
// not evaluate to a usable positive gram amount
var ErrInvalidServingEquation = errors.New("invalid serving equation")

const (
	servingMaxTokens      = 1256
	servingPromptServings = 6
	servingSnapTolerance  = 0.01
)

var servingTemperatures = []float64{0, 0.1, 0.2}

var equationPattern = regexp.MustCompile(`^[0-9.+\-*/() ]+$`)

const servingSystemPrompt = `You are a helpful food serving matching assistant. You work out precisely how many grams of a food the user ate and always answer with a single JSON object.`

const servingPromptTemplate = `User message:
"{{USER_MESSAGE}}"

Food:
{{FOOD_INFO}}

Known servings of this food (id, name, grams):
{{SERVINGS}}

Work out how many grams the user ate.
- Vague descriptions still need a best estimate.
- Size words like "large" or "small" scale the closest standard serving (large is about 1.1x).
- Only use a known serving when the user is clearly referring to it.
- Convert common units (oz, lb, cup, tbsp, ml) to grams.
- The gram amount must be a realistic, non-zero portion.

Answer with this JSON object and nothing else after it:
{
  "reasoning": "one or two sentences",
  "equation_grams": "arithmetic using only digits, . + - * / and parentheses, e.g. 3*28.3495",
  "amount": number of units the user ate,
  "serving_name": "short unit name such as g, oz, cup, slice, large",
  "full_serving_string": "amount followed by unit, e.g. 2 slices"
}

Examples:
"3 oz of chicken breast" -> {"reasoning":"3 ounces at 28.3495 g each.","equation_grams":"3*28.3495","amount":3,"serving_name":"oz","full_serving_string":"3 oz"}
"2 large eggs" with serving 1 "large egg" 50 g -> {"reasoning":"Two of the 50 g large egg serving.","equation_grams":"2*50","amount":2,"serving_name":"large","full_serving_string":"2 large"}`

// flexNumber accepts a JSON number or a numeric string
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexNumber(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("amount must be a number: %w", err)
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("amount must be a number: %w", err)
	}
	*f = flexNumber(n)
	return nil
}

type servingOutput struct {
	Reasoning         string     `json:"reasoning"`
	EquationGrams     string     `json:"equation_grams" validate:"required"`
	Amount            flexNumber `json:"amount" validate:"gt=0"`
	ServingName       string     `json:"serving_name" validate:"required"`
	FullServingString string     `json:"full_serving_string"`
}

// EvaluateServingEquation evaluates an arithmetic-only gram equation. Zero,
// negative, NaN and infinite results are rejected.
func EvaluateServingEquation(equation string) (float64, error) {
	equation = strings.TrimSpace(equation)
	if equation == "" || !equationPattern.MatchString(equation) || strings.Contains(equation, "**") {
		return 0, fmt.Errorf("%w: %q contains more than arithmetic", ErrInvalidServingEquation, equation)
	}

	program, err := expr.Compile(equation, expr.AsFloat64())
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidServingEquation, equation, err)
	}
	out, err := expr.Run(program, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidServingEquation, equation, err)
	}

	grams, ok := out.(float64)
	if !ok || math.IsNaN(grams) || math.IsInf(grams, 0) || grams <= 0 {
		return 0, fmt.Errorf("%w: %q evaluates to %v", ErrInvalidServingEquation, equation, out)
	}
	return grams, nil
}

func sortedServingsByWeight(servings []models.Serving) []models.Serving {
	sorted := make([]models.Serving, 0, len(servings))
	for _, s := range servings {
		if s.WeightPerUnit() > 0 {
			sorted = append(sorted, s)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].WeightPerUnit() < sorted[j].WeightPerUnit()
	})
	return sorted
}

// MatchServing returns the id of the lightest serving that divides grams
// into a whole number of units within 1%, or 0 when none does.
func MatchServing(grams float64, servings []models.Serving) int64 {
	if grams <= 0 {
		return 0
	}
	for _, s := range sortedServingsByWeight(servings) {
		wpu := s.WeightPerUnit()
		units := math.Round(grams / wpu)
		if units < 1 {
			continue
		}
		if math.Abs(grams-units*wpu) <= servingSnapTolerance*grams {
			return s.ID
		}
	}
	return 0
}

// ServingResolver turns a free-text serving phrase into grams
type ServingResolver struct {
	completer llm.Completer
}

// NewServingResolver creates a resolver on a (cached) completer
func NewServingResolver(completer llm.Completer) *ServingResolver {
	return &ServingResolver{completer: completer}
}

func buildServingPrompt(item *models.FoodItemToLog, food *models.FoodItem) string {
	info := map[string]interface{}{
		"name":                     food.Name,
		"brand":                    food.Brand,
		"defaultServingWeightGram": food.DefaultServingWeightGram,
		"defaultServingLiquidMl":   food.DefaultServingLiquidMl,
		"kcalPerServing":           food.KcalPerServing,
		"isLiquid":                 food.IsLiquid,
		"weightUnknown":            food.WeightUnknown,
	}
	infoJSON, _ := json.Marshal(info)

	// Renumbered 1..n; the model never sees database ids
	var lines []string
	for i, s := range sortedServingsByWeight(food.Servings) {
		if i == servingPromptServings {
			break
		}
		lines = append(lines, fmt.Sprintf("%d. %s: %s g", i+1, s.ServingName,
			strconv.FormatFloat(s.WeightPerUnit(), 'f', -1, 64)))
	}
	servings := strings.Join(lines, "\n")
	if servings == "" {
		servings = "(none)"
	}

	return strings.NewReplacer(
		"{{USER_MESSAGE}}", item.RequestString(),
		"{{FOOD_INFO}}", string(infoJSON),
		"{{SERVINGS}}", servings,
	).Replace(servingPromptTemplate)
}

// Resolve asks the model for a gram equation, evaluates it and snaps the
// result onto a known serving. The returned item is a copy with Serving set.
func (r *ServingResolver) Resolve(ctx context.Context, item *models.FoodItemToLog, food *models.FoodItem) (*models.FoodItemToLog, error) {
	prompt := buildServingPrompt(item, food)

	var best *servingOutput
	var bestGrams float64

	for i, temperature := range servingTemperatures {
		text, err := r.completer.Complete(ctx, llm.Request{
			Purpose:        config.PurposeServing,
			SystemPrompt:   servingSystemPrompt,
			UserPrompt:     prompt,
			Temperature:    temperature,
			MaxTokens:      servingMaxTokens,
			ResponseFormat: llm.FormatJSONObject,
		})
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("serving completion failed: %w", err)
			}
			log.Printf("⚠️ [SERVING] Completion at temperature %.1f failed: %v", temperature, err)
			continue
		}

		result := llm.ParseJSON[servingOutput](text)
		out, ok := result.Value()
		if !ok {
			log.Printf("⚠️ [SERVING] Malformed output at temperature %.1f: %s", temperature, result.Malformed().Reason)
			continue
		}

		grams, err := EvaluateServingEquation(out.EquationGrams)
		if err != nil {
			return nil, err
		}

		best, bestGrams = &out, grams
		if grams >= 1 {
			break
		}
		log.Printf("⚠️ [SERVING] %q resolved to %.3fg, retrying", item.FullItemUserMessageIncludingServing, grams)
	}

	if best == nil {
		return nil, fmt.Errorf("no usable serving for %q after %d attempts", item.FullItemUserMessageIncludingServing, len(servingTemperatures))
	}

	full := strings.TrimSpace(best.FullServingString)
	if full == "" {
		full = strconv.FormatFloat(float64(best.Amount), 'f', -1, 64) + " " + best.ServingName
	}

	resolved := *item
	resolved.Serving = &models.ServingResult{
		ServingAmount:     float64(best.Amount),
		ServingName:       best.ServingName,
		ServingGOrMl:      "g",
		TotalServingGOrMl: bestGrams,
		ServingID:         MatchServing(bestGrams, food.Servings),
		FullServingString: full,
	}
	return &resolved, nil
}
