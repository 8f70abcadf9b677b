package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"foodlog/internal/models"
)

// CreateMessage stores a received utterance
func (s *SQLStore) CreateMessage(ctx context.Context, msg *models.Message) (int64, error) {
	now := time.Now().UTC()
	if msg.Status == "" {
		msg.Status = models.MessageReceived
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (user_id, content, status, items_to_process, items_processed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.UserID, msg.Content, string(msg.Status), msg.ItemsToProcess, msg.ItemsProcessed, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get message id: %w", err)
	}

	msg.ID = id
	msg.CreatedAt = now
	msg.UpdatedAt = now
	return id, nil
}

// GetMessage loads a message by id
func (s *SQLStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	var m models.Message
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, content, status, items_to_process, items_processed, created_at, updated_at
		FROM messages WHERE id = ?
	`, id).Scan(&m.ID, &m.UserID, &m.Content, &status, &m.ItemsToProcess, &m.ItemsProcessed, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message %d: %w", id, err)
	}
	m.Status = models.MessageStatus(status)
	return &m, nil
}

// UpdateMessageStatus sets the status and the number of items to process.
// A negative itemsToProcess leaves the count unchanged.
func (s *SQLStore) UpdateMessageStatus(ctx context.Context, id int64, status models.MessageStatus, itemsToProcess int) error {
	var err error
	now := time.Now().UTC()
	if itemsToProcess < 0 {
		_, err = s.db.ExecContext(ctx, `UPDATE messages SET status = ?, updated_at = ? WHERE id = ?`, string(status), now, id)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE messages SET status = ?, items_to_process = ?, updated_at = ? WHERE id = ?
		`, string(status), itemsToProcess, now, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	return nil
}

// IncrementItemsProcessed bumps the processed counter and returns the message
func (s *SQLStore) IncrementItemsProcessed(ctx context.Context, id int64) (*models.Message, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET items_processed = items_processed + 1, updated_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to increment items processed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetMessage(ctx, id)
}

const loggedItemColumns = `id, user_id, food_item_id, message_id, consumed_on, serving_amount, logged_unit,
	grams, nutrients, status, extended_data, created_at, updated_at, deleted_at`

func scanLoggedItem(row rowScanner) (*models.LoggedFoodItem, error) {
	var l models.LoggedFoodItem
	var foodItemID, messageID sql.NullInt64
	var servingAmount, grams sql.NullFloat64
	var servingName sql.NullString
	var nutrients, extended []byte
	var status string
	var deletedAt sql.NullTime

	err := row.Scan(&l.ID, &l.UserID, &foodItemID, &messageID, &l.ConsumedOn, &servingAmount, &servingName,
		&grams, &nutrients, &status, &extended, &l.CreatedAt, &l.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	if foodItemID.Valid {
		l.FoodItemID = &foodItemID.Int64
	}
	if messageID.Valid {
		l.MessageID = &messageID.Int64
	}
	if deletedAt.Valid {
		l.DeletedAt = &deletedAt.Time
	}
	l.ServingAmount = nullFloat(servingAmount)
	l.ServingName = nullString(servingName)
	l.GramsConsumed = nullFloat(grams)
	l.Status = models.LoggedFoodStatus(status)

	if len(nutrients) > 0 {
		if err := json.Unmarshal(nutrients, &l.Nutrients); err != nil {
			log.Printf("⚠️ [STORE] Logged item %d has unreadable nutrients: %v", l.ID, err)
		}
	}
	if len(extended) > 0 {
		var data models.ExtendedData
		if err := json.Unmarshal(extended, &data); err != nil {
			log.Printf("⚠️ [STORE] Logged item %d has unreadable extended data: %v", l.ID, err)
		} else {
			l.ExtendedData = &data
		}
	}
	return &l, nil
}

func encodeLoggedItemJSON(item *models.LoggedFoodItem) (nutrients, extended interface{}, err error) {
	if item.Nutrients != nil {
		data, err := json.Marshal(item.Nutrients)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode nutrients: %w", err)
		}
		nutrients = string(data)
	}
	if item.ExtendedData != nil {
		data, err := json.Marshal(item.ExtendedData)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode extended data: %w", err)
		}
		extended = string(data)
	}
	return nutrients, extended, nil
}

// InsertLoggedFoodItem stores a new log entry
func (s *SQLStore) InsertLoggedFoodItem(ctx context.Context, item *models.LoggedFoodItem) (int64, error) {
	nutrients, extended, err := encodeLoggedItemJSON(item)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	if item.ConsumedOn.IsZero() {
		item.ConsumedOn = now
	}
	if item.Status == "" {
		item.Status = models.StatusNeedsProcessing
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO logged_food_items (user_id, food_item_id, message_id, consumed_on, serving_amount, logged_unit,
			grams, nutrients, status, extended_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.UserID, item.FoodItemID, item.MessageID, item.ConsumedOn.UTC(), item.ServingAmount, item.ServingName,
		item.GramsConsumed, nutrients, string(item.Status), extended, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert logged food item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get logged food item id: %w", err)
	}

	item.ID = id
	item.CreatedAt = now
	item.UpdatedAt = now
	return id, nil
}

// GetLoggedFoodItem loads a log entry by id, including soft-deleted ones
func (s *SQLStore) GetLoggedFoodItem(ctx context.Context, id int64) (*models.LoggedFoodItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+loggedItemColumns+` FROM logged_food_items WHERE id = ?`, id)
	item, err := scanLoggedItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query logged food item %d: %w", id, err)
	}
	return item, nil
}

// UpdateLoggedFoodItem writes the processing results of a log entry
func (s *SQLStore) UpdateLoggedFoodItem(ctx context.Context, item *models.LoggedFoodItem) error {
	nutrients, extended, err := encodeLoggedItemJSON(item)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE logged_food_items
		SET food_item_id = ?, serving_amount = ?, logged_unit = ?, grams = ?, nutrients = ?,
			status = ?, extended_data = ?, updated_at = ?
		WHERE id = ?
	`, item.FoodItemID, item.ServingAmount, item.ServingName, item.GramsConsumed, nutrients,
		string(item.Status), extended, now, item.ID)
	if err != nil {
		return fmt.Errorf("failed to update logged food item %d: %w", item.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	item.UpdatedAt = now
	return nil
}

// SoftDeleteLoggedFoodItem marks a user's log entry deleted
func (s *SQLStore) SoftDeleteLoggedFoodItem(ctx context.Context, id int64, userID string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE logged_food_items SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND deleted_at IS NULL
	`, now, now, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete logged food item %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) listLoggedItems(ctx context.Context, query string, args ...interface{}) ([]models.LoggedFoodItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list logged food items: %w", err)
	}
	defer rows.Close()

	var items []models.LoggedFoodItem
	for rows.Next() {
		item, err := scanLoggedItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan logged food item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ListLoggedFoodItems returns a user's entries consumed on the UTC day of
// day, excluding soft-deleted ones
func (s *SQLStore) ListLoggedFoodItems(ctx context.Context, userID string, day time.Time) ([]models.LoggedFoodItem, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	return s.listLoggedItems(ctx, `
		SELECT `+loggedItemColumns+` FROM logged_food_items
		WHERE user_id = ? AND consumed_on >= ? AND consumed_on < ? AND deleted_at IS NULL
		ORDER BY consumed_on, id
	`, userID, start, end)
}

// ListLoggedItemsByMessage returns every live entry created from a message
func (s *SQLStore) ListLoggedItemsByMessage(ctx context.Context, messageID int64) ([]models.LoggedFoodItem, error) {
	return s.listLoggedItems(ctx, `
		SELECT `+loggedItemColumns+` FROM logged_food_items
		WHERE message_id = ? AND deleted_at IS NULL
		ORDER BY id
	`, messageID)
}

// ListLoggedFoodItemsForBackfill pages live entries by increasing id
func (s *SQLStore) ListLoggedFoodItemsForBackfill(ctx context.Context, afterID int64, limit int) ([]models.LoggedFoodItem, error) {
	return s.listLoggedItems(ctx, `
		SELECT `+loggedItemColumns+` FROM logged_food_items
		WHERE id > ? AND deleted_at IS NULL
		ORDER BY id
		LIMIT ?
	`, afterID, limit)
}
