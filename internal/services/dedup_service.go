package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/agnivade/levenshtein"

	"foodlog/internal/metrics"
	"foodlog/internal/models"
	"foodlog/internal/store"
)

// DuplicateTolerance is the largest per-dimension difference still
// considered equal
const DuplicateTolerance = 0.0001

const dedupePageSize = 1000

// DuplicatePair is two FoodItems with the same nutrition profile
type DuplicatePair struct {
	First        DuplicateItem `json:"first"`
	Second       DuplicateItem `json:"second"`
	NameDistance int           `json:"nameDistance"`
}

// DuplicateItem is the reviewer-facing summary of one side of a pair
type DuplicateItem struct {
	ID     int64                 `json:"id"`
	Name   string                `json:"name"`
	Source models.FoodInfoSource `json:"source"`
}

// featureVector is default serving weight, kcal, fat, carbs, protein
func featureVector(f *models.FoodItem) [5]float64 {
	return [5]float64{
		models.ValueOrZero(f.DefaultServingWeightGram),
		models.ValueOrZero(f.KcalPerServing),
		models.ValueOrZero(f.TotalFatPerServing),
		models.ValueOrZero(f.CarbPerServing),
		models.ValueOrZero(f.ProteinPerServing),
	}
}

func sameProfile(a, b [5]float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > DuplicateTolerance {
			return false
		}
	}
	return true
}

// DuplicateFinder reports FoodItems whose nutrition profiles match
type DuplicateFinder struct {
	store store.FoodStore
}

// NewDuplicateFinder creates a finder over the food store
func NewDuplicateFinder(s store.FoodStore) *DuplicateFinder {
	return &DuplicateFinder{store: s}
}

// FindDuplicates compares every pair of items. The name distance is
// informational and never filters a pair.
func FindDuplicates(items []models.FoodItem) []DuplicatePair {
	vectors := make([][5]float64, len(items))
	for i := range items {
		vectors[i] = featureVector(&items[i])
	}

	var pairs []DuplicatePair
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			if !sameProfile(vectors[i], vectors[j]) {
				continue
			}
			pairs = append(pairs, DuplicatePair{
				First:        DuplicateItem{ID: items[i].ID, Name: items[i].Name, Source: items[i].FoodInfoSource},
				Second:       DuplicateItem{ID: items[j].ID, Name: items[j].Name, Source: items[j].FoodInfoSource},
				NameDistance: levenshtein.ComputeDistance(strings.ToLower(items[i].Name), strings.ToLower(items[j].Name)),
			})
		}
	}
	return pairs
}

// Report loads the whole catalogue and returns its duplicate pairs
func (d *DuplicateFinder) Report(ctx context.Context) ([]DuplicatePair, error) {
	var all []models.FoodItem
	var afterID int64
	for {
		page, err := d.store.ListFoodItems(ctx, afterID, dedupePageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to load food items: %w", err)
		}
		for i := range page {
			// Embeddings are not needed for the comparison
			page[i].NameEmbedding = nil
			page[i].MessageEmbedding = nil
		}
		all = append(all, page...)
		if len(page) < dedupePageSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	pairs := FindDuplicates(all)
	metrics.SetDuplicatePairs(len(pairs))
	log.Printf("🔍 [DEDUPE] %d food items, %d duplicate pair(s)", len(all), len(pairs))
	return pairs, nil
}
