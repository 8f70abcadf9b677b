package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"foodlog/internal/llm"
	"foodlog/internal/metrics"
	"foodlog/internal/models"
	"foodlog/internal/store"
)

const (
	nameSearchK      = 20
	messageSearchK   = 5
	searchImageLimit = 4
)

// MatchCandidate is a merged result from the internal store or the USDA table
type MatchCandidate struct {
	ID         int64 // internal FoodItem id, 0 for USDA-only candidates
	Name       string
	Brand      string
	Similarity float64
	Source     models.FoodInfoSource
	ExternalID string
}

// SearchResult is the food search response item
type SearchResult struct {
	ID         int64            `json:"id"`
	Name       string           `json:"name"`
	Similarity float64          `json:"similarity"`
	FoodItem   *models.FoodItem `json:"foodItem"`
}

// FoodMatcher resolves a split food item to a FoodItem
type FoodMatcher struct {
	store          store.FoodStore
	embedder       llm.Embedder
	usda           USDAFetcher
	web            *WebFoodFinder
	matchThreshold float64
	usdaThreshold  float64
	embeddings     *cache.Cache
}

// NewFoodMatcher creates a matcher. usda and web may be nil to disable
// those sources.
func NewFoodMatcher(s store.FoodStore, embedder llm.Embedder, usda USDAFetcher, web *WebFoodFinder, matchThreshold, usdaThreshold float64) *FoodMatcher {
	return &FoodMatcher{
		store:          s,
		embedder:       embedder,
		usda:           usda,
		web:            web,
		matchThreshold: matchThreshold,
		usdaThreshold:  usdaThreshold,
		embeddings:     cache.New(time.Hour, 10*time.Minute),
	}
}

// Embed returns the embedding of text, cached in process
func (m *FoodMatcher) Embed(ctx context.Context, text string) ([]float32, error) {
	key := strings.ToLower(strings.TrimSpace(text))
	if cached, found := m.embeddings.Get(key); found {
		return cached.([]float32), nil
	}
	vec, err := m.embedder.Embed(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	m.embeddings.Set(key, vec, cache.DefaultExpiration)
	return vec, nil
}

// MergeCandidates keeps every internal candidate (one per id) and adds a
// USDA candidate only when no internal USDA-sourced item carries its FDC
// id. The result is sorted by similarity, highest first.
func MergeCandidates(internal []store.FoodCandidate, usda []store.USDACandidate) []MatchCandidate {
	merged := make([]MatchCandidate, 0, len(internal)+len(usda))
	byID := map[int64]int{}
	importedUSDA := map[string]bool{}

	for _, c := range internal {
		if i, seen := byID[c.ID]; seen {
			if c.Similarity > merged[i].Similarity {
				merged[i].Similarity = c.Similarity
			}
			continue
		}
		byID[c.ID] = len(merged)
		merged = append(merged, MatchCandidate{
			ID:         c.ID,
			Name:       c.Name,
			Brand:      c.Brand,
			Similarity: c.Similarity,
			Source:     c.Source,
			ExternalID: c.ExternalID,
		})
		if c.Source == models.SourceUSDA && c.ExternalID != "" {
			importedUSDA[c.ExternalID] = true
		}
	}

	byFDC := map[string]int{}
	for _, c := range usda {
		if importedUSDA[c.FDCID] {
			continue
		}
		if i, seen := byFDC[c.FDCID]; seen {
			if c.Similarity > merged[i].Similarity {
				merged[i].Similarity = c.Similarity
			}
			continue
		}
		byFDC[c.FDCID] = len(merged)
		merged = append(merged, MatchCandidate{
			Name:       c.Description,
			Brand:      c.BrandOwner,
			Similarity: c.Similarity,
			Source:     models.SourceUSDA,
			ExternalID: c.FDCID,
		})
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Similarity > merged[j].Similarity })
	return merged
}

// Candidates runs the four vector lookups (internal and USDA, for the food
// name and the whole message) concurrently and merges them
func (m *FoodMatcher) Candidates(ctx context.Context, item *models.FoodItemToLog) ([]MatchCandidate, error) {
	nameQuery := item.FoodDatabaseSearchName
	if item.Brand != "" {
		nameQuery += " " + item.Brand
	}
	nameVec, err := m.Embed(ctx, nameQuery)
	if err != nil {
		return nil, err
	}
	messageVec, err := m.Embed(ctx, item.FullItemUserMessageIncludingServing)
	if err != nil {
		return nil, err
	}

	var internalByName, internalByMessage []store.FoodCandidate
	var usdaByName, usdaByMessage []store.USDACandidate

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		internalByName, err = m.store.SearchFoodItems(gctx, nameVec, store.NameEmbedding, nameSearchK)
		return err
	})
	g.Go(func() (err error) {
		internalByMessage, err = m.store.SearchFoodItems(gctx, messageVec, store.MessageEmbedding, messageSearchK)
		return err
	})
	g.Go(func() (err error) {
		usdaByName, err = m.store.SearchUSDA(gctx, nameVec, nameSearchK)
		return err
	})
	g.Go(func() (err error) {
		usdaByMessage, err = m.store.SearchUSDA(gctx, messageVec, messageSearchK)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("candidate lookup failed: %w", err)
	}

	var usda []store.USDACandidate
	for _, c := range append(usdaByName, usdaByMessage...) {
		if c.Similarity >= m.usdaThreshold {
			usda = append(usda, c)
		}
	}

	return MergeCandidates(append(internalByName, internalByMessage...), usda), nil
}

// FindBestMatch returns the FoodItem (with nutrients and servings) for a
// split item, importing it from USDA or the web when the internal store
// has no close match. Returns nil, nil when nothing could be found.
func (m *FoodMatcher) FindBestMatch(ctx context.Context, item *models.FoodItemToLog) (*models.FoodItem, error) {
	candidates, err := m.Candidates(ctx, item)
	if err != nil {
		return nil, err
	}

	if len(candidates) > 0 && candidates[0].Similarity >= m.matchThreshold {
		best := candidates[0]
		log.Printf("✅ [MATCHER] %q matched %q (%s, similarity %.3f)",
			item.FoodDatabaseSearchName, best.Name, best.Source, best.Similarity)

		if best.ID != 0 {
			metrics.RecordMatchSource("internal")
			return m.store.GetFoodItem(ctx, best.ID)
		}

		food, err := m.hydrateUSDA(ctx, item, best.ExternalID)
		if err != nil {
			return nil, err
		}
		if food != nil {
			metrics.RecordMatchSource("usda")
			return food, nil
		}
	}

	if m.web == nil {
		metrics.RecordMatchSource("none")
		return nil, nil
	}

	food, err := m.web.Find(ctx, item)
	if err != nil {
		return nil, err
	}
	if food == nil {
		metrics.RecordMatchSource("none")
		return nil, nil
	}

	stored, err := m.insertWithEmbeddings(ctx, item, food)
	if err != nil {
		return nil, err
	}
	metrics.RecordMatchSource("web")
	return stored, nil
}

// hydrateUSDA imports a USDA food into the store. A food imported earlier
// is reused.
func (m *FoodMatcher) hydrateUSDA(ctx context.Context, item *models.FoodItemToLog, fdcID string) (*models.FoodItem, error) {
	existing, err := m.store.FindFoodItemByExternalID(ctx, models.SourceUSDA, fdcID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if m.usda == nil {
		return nil, nil
	}
	food, err := m.usda.FetchFood(ctx, fdcID)
	if err != nil {
		return nil, fmt.Errorf("usda hydration of %s failed: %w", fdcID, err)
	}
	if food == nil {
		log.Printf("⚠️ [MATCHER] USDA food %s not found", fdcID)
		return nil, nil
	}

	return m.insertWithEmbeddings(ctx, item, food)
}

func (m *FoodMatcher) insertWithEmbeddings(ctx context.Context, item *models.FoodItemToLog, food *models.FoodItem) (*models.FoodItem, error) {
	nameVec, err := m.Embed(ctx, food.DisplayName())
	if err != nil {
		return nil, err
	}
	messageVec, err := m.Embed(ctx, item.FullItemUserMessageIncludingServing)
	if err != nil {
		return nil, err
	}
	food.NameEmbedding = nameVec
	food.MessageEmbedding = messageVec

	id, err := m.store.InsertFoodItem(ctx, food)
	if err != nil {
		return nil, fmt.Errorf("failed to store %s food %q: %w", food.FoodInfoSource, food.Name, err)
	}
	log.Printf("✅ [MATCHER] Added %s food %q as #%d", food.FoodInfoSource, food.Name, id)
	return m.store.GetFoodItem(ctx, id)
}

// Search ranks internal FoodItems against a free-text query. Each result
// carries the FoodItem with its least downvoted images.
func (m *FoodMatcher) Search(ctx context.Context, userID, query string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchResult{}, nil
	}
	if limit <= 0 || limit > nameSearchK {
		limit = nameSearchK
	}

	vec, err := m.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	candidates, err := m.store.SearchFoodItems(ctx, vec, store.NameEmbedding, limit)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		food, err := m.store.GetFoodItem(ctx, c.ID)
		if err != nil {
			log.Printf("⚠️ [MATCHER] Search result %d unavailable: %v", c.ID, err)
			continue
		}
		food.Images, err = m.store.TopImages(ctx, c.ID, searchImageLimit)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{ID: c.ID, Name: food.DisplayName(), Similarity: c.Similarity, FoodItem: food})
	}

	log.Printf("🔍 [MATCHER] Search by %s for %q returned %d result(s)", userID, query, len(results))
	return results, nil
}
