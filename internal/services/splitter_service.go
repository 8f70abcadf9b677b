package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"foodlog/internal/config"
	"foodlog/internal/llm"
	"foodlog/internal/models"
)

// ErrNoFoodItems means the utterance did not describe anything loggable
var ErrNoFoodItems = errors.New("no food items found")

const splitMaxTokens = 2048

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

const splitSystemPrompt = `You are a helpful assistant that splits meal descriptions into food items and only replies with JSON objects.`

const splitPromptTemplate = `Split the user's meal description into the individual food items they ate so each one can be logged.

1. Every distinct food that exists on its own in a food database is a separate item. A pancake and the whipped cream on it are two items; a flavored yogurt is one.
2. food_database_search_name is a specific search name that includes the form or preparation (cooked oats, salted butter).
3. full_item_user_message_including_serving repeats everything the user said about that one item, including stated or reasonably assumed quantity (e.g. "100g of full-fat salted butter"). Never mention side items here.
4. The items together cover the whole meal once, without overlap.
5. branded is true only when the user names a brand; brand holds that name.

Reply with one JSON object per food item, one per line, in the order mentioned, then a final line {"contains_valid_food_items": true or false}.
Each food item line has exactly this shape:
{"food_database_search_name": "string", "full_item_user_message_including_serving": "string", "branded": false, "brand": ""}

Meal description:
"{{INPUT}}"`

// JSONObjectStream incrementally extracts complete top-level JSON objects
// from a stream of text chunks
type JSONObjectStream struct {
	buf    strings.Builder
	offset int
}

// Feed appends a chunk and returns the objects completed by it, in order.
// An object is returned once; objects nested in another object are part
// of their parent.
func (s *JSONObjectStream) Feed(chunk string) []json.RawMessage {
	s.buf.WriteString(chunk)
	text := s.buf.String()

	var out []json.RawMessage
	for _, span := range llm.ScanObjects(text, s.offset) {
		s.offset = span.End
		candidate := text[span.Start:span.End]
		if !json.Valid([]byte(candidate)) {
			log.Printf("⚠️ [SPLITTER] Skipping unparsable object: %.120s", candidate)
			continue
		}
		out = append(out, json.RawMessage(candidate))
	}
	return out
}

// SplitResult is one streamed food item, or the error that ended the split
type SplitResult struct {
	Item *models.FoodItemToLog
	Err  error
}

// FoodSplitter splits an utterance into FoodItemToLog descriptors
type FoodSplitter struct {
	completer llm.Completer
}

// NewFoodSplitter creates a splitter on a (cached) streaming completer
func NewFoodSplitter(completer llm.Completer) *FoodSplitter {
	return &FoodSplitter{completer: completer}
}

// SanitizeUtterance strips markup, control and non-ASCII characters and
// collapses whitespace
func SanitizeUtterance(s string) string {
	s = htmlTagPattern.ReplaceAllString(s, " ")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			b.WriteByte(' ')
		case r < 0x20 || r == 0x7f || r > 0x7e:
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

type splitEnvelope struct {
	FoodItems     []json.RawMessage `json:"food_items"`
	ContainsValid *bool             `json:"contains_valid_food_items"`
	SearchName    *string           `json:"food_database_search_name"`
}

// decodeSplitObject classifies one streamed object. Items wrapped in a
// {"food_items": [...]} object are unpacked.
func decodeSplitObject(raw json.RawMessage) (items []models.FoodItemToLog, containsValid *bool) {
	var env splitEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("⚠️ [SPLITTER] Ignoring object: %v", err)
		return nil, nil
	}

	candidates := env.FoodItems
	if env.SearchName != nil {
		candidates = []json.RawMessage{raw}
	}
	for _, c := range candidates {
		result := llm.ParseRawJSON[models.FoodItemToLog](c)
		item, ok := result.Value()
		if !ok {
			log.Printf("⚠️ [SPLITTER] Malformed food item: %s", result.Malformed().Reason)
			continue
		}
		if !item.Branded {
			item.Brand = ""
		}
		items = append(items, item)
	}
	return items, env.ContainsValid
}

// Split streams the food items of an utterance as soon as the model has
// completed each one. The channel is closed when the model finishes; a
// split that produced nothing ends with ErrNoFoodItems.
func (f *FoodSplitter) Split(ctx context.Context, utterance string) (<-chan SplitResult, error) {
	clean := SanitizeUtterance(utterance)
	if clean == "" {
		return nil, ErrNoFoodItems
	}

	stream, err := f.completer.CompleteStream(ctx, llm.Request{
		Purpose:        config.PurposeSplit,
		SystemPrompt:   splitSystemPrompt,
		UserPrompt:     strings.Replace(splitPromptTemplate, "{{INPUT}}", clean, 1),
		Temperature:    0.1,
		MaxTokens:      splitMaxTokens,
		ResponseFormat: llm.FormatText,
	})
	if err != nil {
		return nil, fmt.Errorf("split stream failed: %w", err)
	}

	out := make(chan SplitResult)
	go func() {
		defer close(out)

		send := func(r SplitResult) bool {
			select {
			case out <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var objects JSONObjectStream
		emitted := 0
		for chunk := range stream {
			if chunk.Err != nil {
				send(SplitResult{Err: fmt.Errorf("split stream failed: %w", chunk.Err)})
				return
			}
			for _, raw := range objects.Feed(chunk.Text) {
				items, containsValid := decodeSplitObject(raw)
				if containsValid != nil && !*containsValid {
					log.Printf("ℹ️ [SPLITTER] Model reports no valid food items in %q", clean)
				}
				for i := range items {
					if !send(SplitResult{Item: &items[i]}) {
						return
					}
					emitted++
				}
			}
		}

		if emitted == 0 {
			send(SplitResult{Err: ErrNoFoodItems})
		}
	}()

	return out, nil
}
