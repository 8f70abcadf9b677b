package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"foodlog/internal/database"
	"foodlog/internal/llm"
	"foodlog/internal/models"
	"foodlog/internal/store"
)

func setupTestStore(t *testing.T) (*store.SQLStore, func()) {
	tmpFile := filepath.Join(t.TempDir(), "services_test.db")

	db, err := database.New(tmpFile)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	return store.NewSQLStore(db), func() {
		db.Close()
		os.Remove(tmpFile)
	}
}

// scriptedCompleter answers Complete calls from a per-purpose script; the
// last answer repeats once the script runs out
type scriptedCompleter struct {
	mu      sync.Mutex
	answers map[string][]string
	errs    map[string][]error
	chunks  []string
	calls   map[string]int
	temps   []float64
}

func newScriptedCompleter() *scriptedCompleter {
	return &scriptedCompleter{
		answers: map[string][]string{},
		errs:    map[string][]error{},
		calls:   map[string]int{},
	}
}

func (c *scriptedCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.calls[req.Purpose]
	c.calls[req.Purpose]++
	c.temps = append(c.temps, req.Temperature)

	if errs := c.errs[req.Purpose]; n < len(errs) && errs[n] != nil {
		return "", errs[n]
	}
	answers := c.answers[req.Purpose]
	if len(answers) == 0 {
		return "", errors.New("no scripted answer")
	}
	if n >= len(answers) {
		n = len(answers) - 1
	}
	return answers[n], nil
}

func (c *scriptedCompleter) CompleteStream(_ context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	c.mu.Lock()
	c.calls[req.Purpose]++
	chunks := append([]string(nil), c.chunks...)
	c.mu.Unlock()

	out := make(chan llm.Chunk, len(chunks))
	for _, chunk := range chunks {
		out <- llm.Chunk{Text: chunk}
	}
	close(out)
	return out, nil
}

func (c *scriptedCompleter) callCount(purpose string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[purpose]
}

// fakeEmbedder maps lower-cased text to fixed vectors; anything unknown
// gets an orthogonal default
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   int
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if v, ok := e.vectors[strings.ToLower(text)]; ok {
		return v, nil
	}
	return []float32{0, 0, 0, 1}, nil
}

// fakeUSDA serves FoodItems by FDC id
type fakeUSDA struct {
	mu    sync.Mutex
	foods map[string]*models.FoodItem
	calls int
}

func (f *fakeUSDA) FetchFood(_ context.Context, fdcID string) (*models.FoodItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	food, ok := f.foods[fdcID]
	if !ok {
		return nil, nil
	}
	copied := *food
	return &copied, nil
}

var errTestQueueFull = errors.New("queue full")

// recordingQueue holds jobs until the test drains them. With rejectItems
// set it refuses item jobs the way a full queue does.
type recordingQueue struct {
	mu          sync.Mutex
	jobs        []Job
	rejectItems bool
}

func (q *recordingQueue) Enqueue(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.rejectItems && job.Kind == JobProcessItem {
		return errTestQueueFull
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) drain(t *testing.T, svc *FoodLogService) {
	t.Helper()
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		if err := svc.HandleJob(context.Background(), job); err != nil {
			t.Fatalf("job %+v failed: %v", job, err)
		}
	}
}

func butterFood() *models.FoodItem {
	return &models.FoodItem{
		Name:                     "Butter, salted",
		DefaultServingWeightGram: models.Float64Ptr(14),
		KcalPerServing:           models.Float64Ptr(100),
		TotalFatPerServing:       models.Float64Ptr(11.5),
		SatFatPerServing:         models.Float64Ptr(7.3),
		ProteinPerServing:        models.Float64Ptr(0.1),
		FoodInfoSource:           models.SourceInternal,
		NameEmbedding:            []float32{1, 0, 0, 0},
		Nutrients: []models.Nutrient{
			{NutrientName: "Sodium", NutrientUnit: "mg", NutrientAmountPerDefaultServing: 90},
		},
		Servings: []models.Serving{
			{ServingName: "tbsp", ServingWeightGram: models.Float64Ptr(14)},
			{ServingName: "pat", ServingWeightGram: models.Float64Ptr(5)},
		},
	}
}

func almostEqual(a, b, tolerance float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
