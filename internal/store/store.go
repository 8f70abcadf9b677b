package store

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"time"

	"foodlog/internal/database"
	"foodlog/internal/models"
)

// ErrNotFound is returned by single-row lookups that match nothing
var ErrNotFound = errors.New("not found")

// EmbeddingColumn selects which stored FoodItem embedding a search ranks against
type EmbeddingColumn string

const (
	NameEmbedding    EmbeddingColumn = "name_embedding"
	MessageEmbedding EmbeddingColumn = "message_embedding"
)

// FoodCandidate is an internal FoodItem ranked by vector similarity
type FoodCandidate struct {
	ID         int64
	Name       string
	Brand      string
	Similarity float64
	Source     models.FoodInfoSource
	ExternalID string
}

// USDAFood is a row of the USDA reference table
type USDAFood struct {
	FDCID       string
	Description string
	BrandOwner  string
	DataType    string
	Embedding   []float32
}

// USDACandidate is a USDA reference row ranked by vector similarity
type USDACandidate struct {
	FDCID       string
	Description string
	BrandOwner  string
	Similarity  float64
}

// FoodStore reads and writes the food catalogue
type FoodStore interface {
	GetFoodItem(ctx context.Context, id int64) (*models.FoodItem, error)
	InsertFoodItem(ctx context.Context, item *models.FoodItem) (int64, error)
	FindFoodItemByExternalID(ctx context.Context, source models.FoodInfoSource, externalID string) (*models.FoodItem, error)
	SearchFoodItems(ctx context.Context, embedding []float32, column EmbeddingColumn, k int) ([]FoodCandidate, error)
	SearchUSDA(ctx context.Context, embedding []float32, k int) ([]USDACandidate, error)
	InsertUSDAFood(ctx context.Context, food USDAFood) error
	ListFoodItems(ctx context.Context, afterID int64, limit int) ([]models.FoodItem, error)
	UpdateFoodItemEmbeddings(ctx context.Context, id int64, name, message []float32) error
	InsertFoodImage(ctx context.Context, image models.FoodImage) (int64, error)
	TopImages(ctx context.Context, foodItemID int64, limit int) ([]models.FoodImage, error)
}

// LogStore reads and writes messages and the user's food log
type LogStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) (int64, error)
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	UpdateMessageStatus(ctx context.Context, id int64, status models.MessageStatus, itemsToProcess int) error
	IncrementItemsProcessed(ctx context.Context, id int64) (*models.Message, error)
	InsertLoggedFoodItem(ctx context.Context, item *models.LoggedFoodItem) (int64, error)
	GetLoggedFoodItem(ctx context.Context, id int64) (*models.LoggedFoodItem, error)
	UpdateLoggedFoodItem(ctx context.Context, item *models.LoggedFoodItem) error
	SoftDeleteLoggedFoodItem(ctx context.Context, id int64, userID string) error
	ListLoggedFoodItems(ctx context.Context, userID string, day time.Time) ([]models.LoggedFoodItem, error)
	ListLoggedItemsByMessage(ctx context.Context, messageID int64) ([]models.LoggedFoodItem, error)
	ListLoggedFoodItemsForBackfill(ctx context.Context, afterID int64, limit int) ([]models.LoggedFoodItem, error)
}

// SQLStore implements FoodStore and LogStore on MySQL or SQLite
type SQLStore struct {
	db *database.DB
}

// NewSQLStore creates a store on an initialized database
func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

var (
	_ FoodStore = (*SQLStore)(nil)
	_ LogStore  = (*SQLStore)(nil)
)

func encodeEmbedding(v []float32) (interface{}, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeEmbedding(raw []byte) []float32 {
	if len(raw) == 0 {
		return nil
	}
	var v []float32
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// CosineSimilarity returns the cosine of the angle between a and b, clamped
// to [0, 1]. Vectors of different length or zero norm score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

type ranked[T any] struct {
	value T
	score float64
}

// topK keeps the k best scored values, highest first; ties keep scan order
func topK[T any](items []ranked[T], k int) []ranked[T] {
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })
	if k > 0 && len(items) > k {
		items = items[:k]
	}
	return items
}
