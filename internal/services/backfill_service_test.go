package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"foodlog/internal/models"
	"foodlog/internal/store"
)

// vanishingFoodStore reports some food items as deleted
type vanishingFoodStore struct {
	store.FoodStore
	missing map[int64]bool
}

func (v *vanishingFoodStore) GetFoodItem(ctx context.Context, id int64) (*models.FoodItem, error) {
	if v.missing[id] {
		return nil, store.ErrNotFound
	}
	return v.FoodStore.GetFoodItem(ctx, id)
}

func TestBackfill_RecomputesAndSkipsMissingFood(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	butterID, err := s.InsertFoodItem(ctx, butterFood())
	if err != nil {
		t.Fatalf("InsertFoodItem failed: %v", err)
	}
	gone := butterFood()
	gone.Name = "Discontinued spread"
	goneID, err := s.InsertFoodItem(ctx, gone)
	if err != nil {
		t.Fatalf("InsertFoodItem failed: %v", err)
	}

	insert := func(foodID *int64, grams *float64) int64 {
		item := &models.LoggedFoodItem{
			UserID:        "user-1",
			FoodItemID:    foodID,
			GramsConsumed: grams,
			ConsumedOn:    time.Now().UTC(),
			Status:        models.StatusProcessed,
			Nutrients:     models.NutrientSnapshot{"kcal": 1},
		}
		id, err := s.InsertLoggedFoodItem(ctx, item)
		if err != nil {
			t.Fatalf("InsertLoggedFoodItem failed: %v", err)
		}
		return id
	}

	fresh := insert(&butterID, models.Float64Ptr(28))
	orphan := insert(&goneID, models.Float64Ptr(28))
	pending := insert(nil, nil)

	foods := &vanishingFoodStore{FoodStore: s, missing: map[int64]bool{goneID: true}}
	stats, err := NewBackfillService(s, foods, nil).Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Updated != 1 || stats.Skipped != 2 || stats.Failed != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}

	got, _ := s.GetLoggedFoodItem(ctx, fresh)
	if !almostEqual(got.Nutrients["kcal"], 200, 1e-9) || !almostEqual(got.Nutrients["sodiumMg"], 180, 1e-9) {
		t.Errorf("expected recomputed snapshot, got %v", got.Nutrients)
	}
	for _, id := range []int64{orphan, pending} {
		got, _ := s.GetLoggedFoodItem(ctx, id)
		if got.Nutrients["kcal"] != 1 {
			t.Errorf("item %d should be left untouched, got %v", id, got.Nutrients)
		}
	}
}

func TestBackfill_FillsMissingEmbeddings(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	withName, err := s.InsertFoodItem(ctx, butterFood())
	if err != nil {
		t.Fatalf("InsertFoodItem failed: %v", err)
	}
	bare := butterFood()
	bare.Name = "Ghee"
	bare.NameEmbedding = nil
	bareID, err := s.InsertFoodItem(ctx, bare)
	if err != nil {
		t.Fatalf("InsertFoodItem failed: %v", err)
	}

	embedder := &fakeEmbedder{vectors: map[string][]float32{"ghee": {0, 0, 1, 0}}}
	stats, err := NewBackfillService(s, s, embedder).Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.EmbeddingsAdded != 2 {
		t.Errorf("expected 2 items to gain embeddings, got %+v", stats)
	}

	ghee, err := s.GetFoodItem(ctx, bareID)
	if err != nil {
		t.Fatalf("GetFoodItem failed: %v", err)
	}
	if len(ghee.NameEmbedding) != 4 || ghee.NameEmbedding[2] != 1 || len(ghee.MessageEmbedding) != 4 {
		t.Errorf("unexpected embeddings %v %v", ghee.NameEmbedding, ghee.MessageEmbedding)
	}

	butter, err := s.GetFoodItem(ctx, withName)
	if err != nil {
		t.Fatalf("GetFoodItem failed: %v", err)
	}
	if butter.NameEmbedding[0] != 1 {
		t.Errorf("existing name embedding must be kept, got %v", butter.NameEmbedding)
	}
}

func TestBackfill_OneRunAtATime(t *testing.T) {
	b := NewBackfillService(nil, nil, nil)
	b.running.Lock()
	defer b.running.Unlock()

	if _, err := b.Run(context.Background()); !errors.Is(err, ErrBackfillRunning) {
		t.Errorf("expected ErrBackfillRunning, got %v", err)
	}
}
