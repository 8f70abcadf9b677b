package models

import (
	"strings"
	"time"
)

// LoggedFoodStatus is the processing state of a LoggedFoodItem
type LoggedFoodStatus string

const (
	StatusNeedsProcessing LoggedFoodStatus = "Needs Processing"
	StatusProcessed       LoggedFoodStatus = "Processed"
	StatusError           LoggedFoodStatus = "Error"
)

// NutrientSnapshot is a flat map of canonical nutrient field to amount
// (kcal, totalFatG, ..., plus any mapped micronutrients).
type NutrientSnapshot map[string]float64

// LoggedFoodItem is a single consumption event for a user
type LoggedFoodItem struct {
	ID            int64            `json:"id"`
	UserID        string           `json:"userId"`
	FoodItemID    *int64           `json:"foodItemId,omitempty"`
	MessageID     *int64           `json:"messageId,omitempty"`
	ConsumedOn    time.Time        `json:"consumedOn"`
	ServingAmount *float64         `json:"servingAmount,omitempty"`
	ServingName   *string          `json:"loggedUnit,omitempty"`
	GramsConsumed *float64         `json:"grams,omitempty"`
	Nutrients     NutrientSnapshot `json:"nutrients,omitempty"`
	Status        LoggedFoodStatus `json:"status"`
	ExtendedData  *ExtendedData    `json:"extendedData,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	DeletedAt     *time.Time       `json:"deletedAt,omitempty"`
}

// IsDeleted reports whether the item has been soft-deleted
func (l *LoggedFoodItem) IsDeleted() bool {
	return l.DeletedAt != nil
}

// ServingResult is the fully resolved serving attached to a FoodItemToLog
type ServingResult struct {
	ServingAmount     float64 `json:"serving_amount"`
	ServingName       string  `json:"serving_name"`
	ServingGOrMl      string  `json:"serving_g_or_ml"`
	TotalServingGOrMl float64 `json:"total_serving_g_or_ml"`
	ServingID         int64   `json:"serving_id"`
	FullServingString string  `json:"full_serving_string"`
}

// FoodItemToLog carries one split food item between pipeline stages.
// It lives only for the duration of a processing run.
type FoodItemToLog struct {
	FoodDatabaseSearchName              string         `json:"food_database_search_name" validate:"required"`
	FullItemUserMessageIncludingServing string         `json:"full_item_user_message_including_serving" validate:"required"`
	Branded                             bool           `json:"branded"`
	Brand                               string         `json:"brand,omitempty"`
	TimeEaten                           *time.Time     `json:"timeEaten,omitempty"`
	Serving                             *ServingResult `json:"serving,omitempty"`
}

// RequestString describes the item for logs and user-facing confirmations
func (f *FoodItemToLog) RequestString() string {
	result := f.FullItemUserMessageIncludingServing
	if result == "" {
		result = f.FoodDatabaseSearchName
	}
	if f.Brand != "" && !strings.Contains(strings.ToLower(result), strings.ToLower(f.Brand)) {
		result += " " + f.Brand
	}
	return result
}

// Message is a user's raw meal utterance and its processing progress
type Message struct {
	ID             int64         `json:"id"`
	UserID         string        `json:"userId"`
	Content        string        `json:"content"`
	Status         MessageStatus `json:"status"`
	ItemsToProcess int           `json:"itemsToProcess"`
	ItemsProcessed int           `json:"itemsProcessed"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// MessageStatus tracks a message through splitting and processing
type MessageStatus string

const (
	MessageReceived   MessageStatus = "RECEIVED"
	MessageProcessing MessageStatus = "PROCESSING"
	MessageResolved   MessageStatus = "RESOLVED"
	MessageFailed     MessageStatus = "FAILED"
)
