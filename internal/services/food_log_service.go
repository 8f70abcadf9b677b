package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"foodlog/internal/logging"
	"foodlog/internal/metrics"
	"foodlog/internal/models"
	"foodlog/internal/nutrients"
	"foodlog/internal/store"
)

// ErrItemNotProcessed is returned when an edit needs a matched FoodItem
var ErrItemNotProcessed = errors.New("logged item has no matched food item yet")

// ErrInvalidGrams is returned for a zero or negative gram amount
var ErrInvalidGrams = errors.New("grams must be positive")

// calorieDeviationWarning is the relative kcal vs macro mismatch worth a warning
const calorieDeviationWarning = 0.25

// JobKind distinguishes queued work
type JobKind string

const (
	JobSplitMessage JobKind = "split_message"
	JobProcessItem  JobKind = "process_item"
)

// Job is one unit of background work for the processing queue
type Job struct {
	Kind         JobKind
	MessageID    int64
	LoggedItemID int64
	RunID        string
	// Retry marks an item that already counted towards its message's
	// processed total
	Retry bool
}

// JobQueue accepts background work
type JobQueue interface {
	Enqueue(job Job) error
}

// FoodFinder resolves a split item to a FoodItem
type FoodFinder interface {
	FindBestMatch(ctx context.Context, item *models.FoodItemToLog) (*models.FoodItem, error)
}

// ServingMatcher resolves the serving phrase of a split item
type ServingMatcher interface {
	Resolve(ctx context.Context, item *models.FoodItemToLog, food *models.FoodItem) (*models.FoodItemToLog, error)
}

// ItemSplitter streams the food items of an utterance
type ItemSplitter interface {
	Split(ctx context.Context, utterance string) (<-chan SplitResult, error)
}

// FoodLogService runs the meal logging pipeline: split a message into
// pending log entries, then match, size and compute each entry
type FoodLogService struct {
	logs     store.LogStore
	foods    store.FoodStore
	splitter ItemSplitter
	finder   FoodFinder
	servings ServingMatcher
	queue    JobQueue
}

// NewFoodLogService wires the pipeline
func NewFoodLogService(logs store.LogStore, foods store.FoodStore, splitter ItemSplitter, finder FoodFinder, servings ServingMatcher) *FoodLogService {
	return &FoodLogService{
		logs:     logs,
		foods:    foods,
		splitter: splitter,
		finder:   finder,
		servings: servings,
	}
}

// SetQueue attaches the queue; it is created after the service because its
// workers call back into HandleJob
func (s *FoodLogService) SetQueue(queue JobQueue) {
	s.queue = queue
}

func (s *FoodLogService) enqueue(job Job) error {
	if s.queue == nil {
		return fmt.Errorf("processing queue not configured")
	}
	return s.queue.Enqueue(job)
}

// LogMessage stores a meal utterance and queues it for splitting
func (s *FoodLogService) LogMessage(ctx context.Context, userID, content string) (*models.Message, error) {
	if SanitizeUtterance(content) == "" {
		return nil, ErrNoFoodItems
	}

	msg := &models.Message{UserID: userID, Content: content, Status: models.MessageReceived}
	if _, err := s.logs.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	if err := s.enqueue(Job{Kind: JobSplitMessage, MessageID: msg.ID, RunID: uuid.NewString()}); err != nil {
		return nil, fmt.Errorf("failed to queue message %d: %w", msg.ID, err)
	}
	return msg, nil
}

// ReprocessMessage queues a message again. Items already created from it
// are re-queued rather than re-split; processed items are left alone.
func (s *FoodLogService) ReprocessMessage(ctx context.Context, userID string, messageID int64) (*models.Message, error) {
	msg, err := s.logs.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.UserID != userID {
		return nil, store.ErrNotFound
	}

	runID := uuid.NewString()
	items, err := s.logs.ListLoggedItemsByMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		if err := s.enqueue(Job{Kind: JobSplitMessage, MessageID: messageID, RunID: runID}); err != nil {
			return nil, err
		}
		return msg, nil
	}

	requeued := 0
	for i := range items {
		item := &items[i]
		if item.Status == models.StatusProcessed {
			continue
		}
		retry := item.Status == models.StatusError
		if retry {
			item.Status = models.StatusNeedsProcessing
			if err := s.logs.UpdateLoggedFoodItem(ctx, item); err != nil {
				return nil, err
			}
		}
		if err := s.enqueue(Job{Kind: JobProcessItem, MessageID: messageID, LoggedItemID: item.ID, RunID: runID, Retry: retry}); err != nil {
			return nil, err
		}
		requeued++
	}

	if requeued > 0 {
		if err := s.logs.UpdateMessageStatus(ctx, messageID, models.MessageProcessing, -1); err != nil {
			return nil, err
		}
		msg.Status = models.MessageProcessing
	}
	return msg, nil
}

// GetMessage returns a user's message and the items split from it
func (s *FoodLogService) GetMessage(ctx context.Context, userID string, messageID int64) (*models.Message, []models.LoggedFoodItem, error) {
	msg, err := s.logs.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	if msg.UserID != userID {
		return nil, nil, store.ErrNotFound
	}

	items, err := s.logs.ListLoggedItemsByMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	if items == nil {
		items = []models.LoggedFoodItem{}
	}
	return msg, items, nil
}

// HandleJob runs one queued job
func (s *FoodLogService) HandleJob(ctx context.Context, job Job) error {
	switch job.Kind {
	case JobSplitMessage:
		return s.splitMessage(ctx, job)
	case JobProcessItem:
		return s.processItem(ctx, job)
	}
	return fmt.Errorf("unknown job kind %q", job.Kind)
}

func (s *FoodLogService) splitMessage(ctx context.Context, job Job) error {
	msg, err := s.logs.GetMessage(ctx, job.MessageID)
	if err != nil {
		return err
	}
	logger := logging.WithMessage(msg.ID, msg.UserID, job.RunID)

	existing, err := s.logs.ListLoggedItemsByMessage(ctx, msg.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		logger.Info("message already split, skipping", "items", len(existing))
		return nil
	}

	if err := s.logs.UpdateMessageStatus(ctx, msg.ID, models.MessageProcessing, 0); err != nil {
		return err
	}

	results, err := s.splitter.Split(ctx, msg.Content)
	if err != nil {
		logger.Warn("split failed", "error", err)
		return s.logs.UpdateMessageStatus(ctx, msg.ID, models.MessageFailed, 0)
	}

	var itemIDs []int64
	var splitErr error
	for result := range results {
		if result.Err != nil {
			splitErr = result.Err
			continue
		}

		consumedOn := msg.CreatedAt
		if result.Item.TimeEaten != nil {
			consumedOn = *result.Item.TimeEaten
		}
		entry := &models.LoggedFoodItem{
			UserID:       msg.UserID,
			MessageID:    &msg.ID,
			ConsumedOn:   consumedOn,
			Status:       models.StatusNeedsProcessing,
			ExtendedData: models.NewQuickLogData(*result.Item),
		}
		if _, err := s.logs.InsertLoggedFoodItem(ctx, entry); err != nil {
			logger.Error("failed to insert logged item", "food_name", result.Item.FoodDatabaseSearchName, "error", err)
			continue
		}
		itemIDs = append(itemIDs, entry.ID)
	}

	if len(itemIDs) == 0 {
		logger.Warn("no food items in message", "error", splitErr)
		return s.logs.UpdateMessageStatus(ctx, msg.ID, models.MessageFailed, 0)
	}
	if splitErr != nil {
		logger.Warn("split ended early, keeping items found so far", "items", len(itemIDs), "error", splitErr)
	}

	// The count is only set once splitting is done so no worker resolves
	// the message while items are still being added
	if err := s.logs.UpdateMessageStatus(ctx, msg.ID, models.MessageProcessing, len(itemIDs)); err != nil {
		return err
	}
	for _, id := range itemIDs {
		if err := s.enqueue(Job{Kind: JobProcessItem, MessageID: msg.ID, LoggedItemID: id, RunID: job.RunID}); err != nil {
			s.dropUnqueuedItem(ctx, logger, msg.ID, id, err)
		}
	}
	logger.Info("message split", "items", len(itemIDs))

	current, err := s.logs.GetMessage(ctx, msg.ID)
	if err != nil {
		return err
	}
	return s.resolveIfDone(ctx, current)
}

// dropUnqueuedItem marks an entry that could not be queued as Error and
// counts it as processed so the message still resolves. Reprocessing the
// message retries it.
func (s *FoodLogService) dropUnqueuedItem(ctx context.Context, logger *slog.Logger, messageID, itemID int64, cause error) {
	logger = logger.With("logged_item_id", itemID)
	item, err := s.logs.GetLoggedFoodItem(ctx, itemID)
	if err != nil {
		logger.Error("failed to load unqueued logged item", "error", err)
		return
	}
	s.markError(ctx, logger, item, fmt.Errorf("not queued: %w", cause))
	if _, err := s.logs.IncrementItemsProcessed(ctx, messageID); err != nil {
		logger.Error("failed to count unqueued logged item", "error", err)
	}
}

func (s *FoodLogService) resolveIfDone(ctx context.Context, msg *models.Message) error {
	if msg.ItemsToProcess > 0 && msg.ItemsProcessed >= msg.ItemsToProcess && msg.Status != models.MessageResolved {
		return s.logs.UpdateMessageStatus(ctx, msg.ID, models.MessageResolved, -1)
	}
	return nil
}

func (s *FoodLogService) processItem(ctx context.Context, job Job) error {
	item, err := s.logs.GetLoggedFoodItem(ctx, job.LoggedItemID)
	if err != nil {
		return err
	}
	logger := logging.WithMessage(job.MessageID, item.UserID, job.RunID)

	if item.Status == models.StatusProcessed && !job.Retry {
		logger.Info("logged item already processed", "logged_item_id", item.ID)
		return nil
	}

	if !item.IsDeleted() {
		s.ProcessLoggedItem(ctx, logger, item)
	}

	if item.MessageID == nil {
		return nil
	}
	var msg *models.Message
	if job.Retry {
		msg, err = s.logs.GetMessage(ctx, *item.MessageID)
	} else {
		msg, err = s.logs.IncrementItemsProcessed(ctx, *item.MessageID)
	}
	if err != nil {
		return err
	}
	return s.resolveIfDone(ctx, msg)
}

// ProcessLoggedItem matches, sizes and computes one pending entry and
// stores the outcome on it. Failures mark the entry Error.
func (s *FoodLogService) ProcessLoggedItem(ctx context.Context, logger *slog.Logger, item *models.LoggedFoodItem) {
	source := item.ExtendedData.SourceItem()
	if source == nil {
		s.markError(ctx, logger, item, errors.New("logged item has no source food item"))
		return
	}
	logger = logging.WithItem(logger, item.ID, source.FoodDatabaseSearchName)
	start := time.Now()

	food, err := s.finder.FindBestMatch(ctx, source)
	if err != nil {
		s.markError(ctx, logger, item, fmt.Errorf("match failed: %w", err))
		return
	}
	if food == nil {
		s.markError(ctx, logger, item, errors.New("no matching food found"))
		return
	}

	resolved, err := s.servings.Resolve(ctx, source, food)
	if err != nil {
		s.markError(ctx, logger, item, fmt.Errorf("serving resolution failed: %w", err))
		return
	}

	grams := resolved.Serving.TotalServingGOrMl
	snapshot := nutrients.Calculate(grams, food)
	checkCalories(logger, food, snapshot)

	item.FoodItemID = &food.ID
	item.GramsConsumed = &grams
	item.ServingAmount = &resolved.Serving.ServingAmount
	item.ServingName = &resolved.Serving.ServingName
	item.Nutrients = snapshot
	item.Status = models.StatusProcessed
	item.ExtendedData = models.NewQuickLogData(*resolved)

	if err := s.logs.UpdateLoggedFoodItem(ctx, item); err != nil {
		logger.Error("failed to store processed item", "error", err)
		metrics.RecordLoggedItem("error")
		return
	}

	metrics.RecordLoggedItem("processed")
	logger.Info("logged item processed",
		"food_item_id", food.ID,
		"grams", grams,
		"kcal", snapshot["kcal"],
		"serving_id", resolved.Serving.ServingID,
		"duration_ms", time.Since(start).Milliseconds())
}

func (s *FoodLogService) markError(ctx context.Context, logger *slog.Logger, item *models.LoggedFoodItem, cause error) {
	logger.Warn("logged item failed", "error", cause)
	metrics.RecordLoggedItem("error")
	item.Status = models.StatusError
	if err := s.logs.UpdateLoggedFoodItem(ctx, item); err != nil {
		logger.Error("failed to mark logged item as error", "error", err)
	}
}

// checkCalories logs food data whose kcal disagrees with its macros.
// The data is never corrected here.
func checkCalories(logger *slog.Logger, food *models.FoodItem, snapshot models.NutrientSnapshot) {
	deviation, ok := nutrients.CalorieDeviation(snapshot)
	if ok && deviation > calorieDeviationWarning {
		logger.Warn("calories disagree with macros",
			"food_item_id", food.ID,
			"food", food.DisplayName(),
			"deviation", deviation)
	}
}

// UpdateServing sets the grams of a processed entry and recomputes its
// nutrients from the matched FoodItem
func (s *FoodLogService) UpdateServing(ctx context.Context, userID string, itemID int64, grams float64) (*models.LoggedFoodItem, error) {
	if grams <= 0 {
		return nil, fmt.Errorf("%w, got %v", ErrInvalidGrams, grams)
	}

	item, err := s.logs.GetLoggedFoodItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.UserID != userID || item.IsDeleted() {
		return nil, store.ErrNotFound
	}
	if item.FoodItemID == nil {
		return nil, ErrItemNotProcessed
	}

	food, err := s.foods.GetFoodItem(ctx, *item.FoodItemID)
	if err != nil {
		return nil, err
	}

	item.ExtendedData = models.NewReprocessData(models.ReprocessPayload{
		Reason:        "serving edited",
		PreviousGrams: item.GramsConsumed,
		RequestedBy:   userID,
		RequestedAt:   time.Now().UTC(),
		Original:      item.ExtendedData.SourceItem(),
	})
	item.GramsConsumed = &grams
	item.ServingAmount = &grams
	unit := "g"
	item.ServingName = &unit
	item.Nutrients = nutrients.Calculate(grams, food)
	item.Status = models.StatusProcessed

	if err := s.logs.UpdateLoggedFoodItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteItem soft-deletes a user's entry
func (s *FoodLogService) DeleteItem(ctx context.Context, userID string, itemID int64) error {
	return s.logs.SoftDeleteLoggedFoodItem(ctx, itemID, userID)
}

// ItemsForDay lists a user's live entries for one day
func (s *FoodLogService) ItemsForDay(ctx context.Context, userID string, day time.Time) ([]models.LoggedFoodItem, error) {
	items, err := s.logs.ListLoggedFoodItems(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.LoggedFoodItem{}
	}
	return items, nil
}

// NutrientsFor computes the snapshot of grams of a FoodItem
func (s *FoodLogService) NutrientsFor(ctx context.Context, foodID int64, grams float64) (models.NutrientSnapshot, error) {
	if grams <= 0 {
		return nil, fmt.Errorf("%w, got %v", ErrInvalidGrams, grams)
	}
	food, err := s.foods.GetFoodItem(ctx, foodID)
	if err != nil {
		return nil, err
	}
	return nutrients.Calculate(grams, food), nil
}
