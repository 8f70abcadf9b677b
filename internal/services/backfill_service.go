package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"foodlog/internal/llm"
	"foodlog/internal/metrics"
	"foodlog/internal/models"
	"foodlog/internal/nutrients"
	"foodlog/internal/store"
)

const (
	backfillPageSize  = 1000
	backfillBatchSize = 100
)

// BackfillStats summarizes one backfill run
type BackfillStats struct {
	Updated          int64         `json:"updated"`
	Skipped          int64         `json:"skipped"`
	Failed           int64         `json:"failed"`
	EmbeddingsAdded  int64         `json:"embeddingsAdded"`
	EmbeddingsFailed int64         `json:"embeddingsFailed"`
	Duration         time.Duration `json:"-"`
	DurationMillis   int64         `json:"durationMs"`
}

// BackfillService recomputes stored nutrient snapshots from the current
// FoodItem data and fills in missing FoodItem embeddings
type BackfillService struct {
	logs     store.LogStore
	foods    store.FoodStore
	embedder llm.Embedder

	// one run at a time; the scheduler and the admin endpoint share it
	running sync.Mutex
}

// ErrBackfillRunning is returned when a run is requested while one is active
var ErrBackfillRunning = errors.New("backfill already running")

// NewBackfillService creates the backfill runner. embedder may be nil to
// skip the embedding pass.
func NewBackfillService(logs store.LogStore, foods store.FoodStore, embedder llm.Embedder) *BackfillService {
	return &BackfillService{logs: logs, foods: foods, embedder: embedder}
}

// Run walks every live logged item by increasing id. Each page is split
// into batches that run concurrently; items inside a batch run in order.
func (b *BackfillService) Run(ctx context.Context) (*BackfillStats, error) {
	if !b.running.TryLock() {
		return nil, ErrBackfillRunning
	}
	defer b.running.Unlock()

	start := time.Now()
	stats := &BackfillStats{}
	log.Printf("🔄 [BACKFILL] Starting nutrient backfill")

	var afterID int64
	for {
		page, err := b.logs.ListLoggedFoodItemsForBackfill(ctx, afterID, backfillPageSize)
		if err != nil {
			return stats, fmt.Errorf("failed to load logged items after %d: %w", afterID, err)
		}
		if len(page) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		for lo := 0; lo < len(page); lo += backfillBatchSize {
			batch := page[lo:min(lo+backfillBatchSize, len(page))]
			g.Go(func() error {
				for i := range batch {
					if err := gctx.Err(); err != nil {
						return err
					}
					b.recompute(gctx, &batch[i], stats)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}

		if len(page) < backfillPageSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	if b.embedder != nil {
		if err := b.backfillEmbeddings(ctx, stats); err != nil {
			return stats, err
		}
	}

	stats.Duration = time.Since(start)
	stats.DurationMillis = stats.Duration.Milliseconds()
	log.Printf("✅ [BACKFILL] Done in %v: %d updated, %d skipped, %d failed, %d embeddings added",
		stats.Duration, stats.Updated, stats.Skipped, stats.Failed, stats.EmbeddingsAdded)
	return stats, nil
}

func (b *BackfillService) recompute(ctx context.Context, item *models.LoggedFoodItem, stats *BackfillStats) {
	if item.FoodItemID == nil || item.GramsConsumed == nil {
		atomic.AddInt64(&stats.Skipped, 1)
		metrics.RecordBackfill("skipped")
		return
	}

	food, err := b.foods.GetFoodItem(ctx, *item.FoodItemID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("⚠️ [BACKFILL] Logged item %d points at missing food item %d, skipping", item.ID, *item.FoodItemID)
			atomic.AddInt64(&stats.Skipped, 1)
			metrics.RecordBackfill("skipped")
			return
		}
		log.Printf("❌ [BACKFILL] Failed to load food item %d: %v", *item.FoodItemID, err)
		atomic.AddInt64(&stats.Failed, 1)
		metrics.RecordBackfill("failed")
		return
	}

	item.Nutrients = nutrients.Calculate(*item.GramsConsumed, food)
	if err := b.logs.UpdateLoggedFoodItem(ctx, item); err != nil {
		log.Printf("❌ [BACKFILL] Failed to update logged item %d: %v", item.ID, err)
		atomic.AddInt64(&stats.Failed, 1)
		metrics.RecordBackfill("failed")
		return
	}
	atomic.AddInt64(&stats.Updated, 1)
	metrics.RecordBackfill("updated")
}

// backfillEmbeddings embeds the display name of every FoodItem missing an
// embedding. The name vector also stands in for a missing message vector.
func (b *BackfillService) backfillEmbeddings(ctx context.Context, stats *BackfillStats) error {
	var afterID int64
	for {
		page, err := b.foods.ListFoodItems(ctx, afterID, backfillPageSize)
		if err != nil {
			return fmt.Errorf("failed to load food items after %d: %w", afterID, err)
		}
		for i := range page {
			food := &page[i]
			if len(food.NameEmbedding) > 0 && len(food.MessageEmbedding) > 0 {
				continue
			}

			vec, err := b.embedder.Embed(ctx, food.DisplayName())
			if err != nil {
				log.Printf("⚠️ [BACKFILL] Embedding failed for food item %d: %v", food.ID, err)
				stats.EmbeddingsFailed++
				continue
			}

			var name, message []float32
			if len(food.NameEmbedding) == 0 {
				name = vec
			}
			if len(food.MessageEmbedding) == 0 {
				message = vec
			}
			if err := b.foods.UpdateFoodItemEmbeddings(ctx, food.ID, name, message); err != nil {
				log.Printf("⚠️ [BACKFILL] Failed to store embeddings for food item %d: %v", food.ID, err)
				stats.EmbeddingsFailed++
				continue
			}
			stats.EmbeddingsAdded++
		}

		if len(page) < backfillPageSize {
			return nil
		}
		afterID = page[len(page)-1].ID
	}
}
