package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExtendedDataVersion is written on every new ExtendedData record.
// Version 1 records predate the envelope and hold a bare FoodItemToLog.
const ExtendedDataVersion = 2

// ExtendedDataKind discriminates the payload stored on a LoggedFoodItem
type ExtendedDataKind string

const (
	KindQuickLog  ExtendedDataKind = "quick_log"
	KindReprocess ExtendedDataKind = "reprocess"
)

// QuickLogPayload is the split food item the log entry was created from
type QuickLogPayload struct {
	Item FoodItemToLog `json:"item"`
}

// ReprocessPayload records why a logged item's nutrients were recomputed
type ReprocessPayload struct {
	Reason        string    `json:"reason"`
	PreviousGrams *float64  `json:"previousGrams,omitempty"`
	RequestedBy   string    `json:"requestedBy"`
	RequestedAt   time.Time `json:"requestedAt"`
	// Original keeps the quick-log item so reprocessing can start over from it
	Original *FoodItemToLog `json:"original,omitempty"`
}

// ExtendedData is a tagged union: exactly one payload is set, matching Kind()
type ExtendedData struct {
	Version   int
	QuickLog  *QuickLogPayload
	Reprocess *ReprocessPayload
}

// NewQuickLogData wraps a split item
func NewQuickLogData(item FoodItemToLog) *ExtendedData {
	return &ExtendedData{Version: ExtendedDataVersion, QuickLog: &QuickLogPayload{Item: item}}
}

// NewReprocessData wraps a reprocess record
func NewReprocessData(p ReprocessPayload) *ExtendedData {
	return &ExtendedData{Version: ExtendedDataVersion, Reprocess: &p}
}

// Kind returns the discriminator of the populated payload
func (e *ExtendedData) Kind() ExtendedDataKind {
	switch {
	case e.QuickLog != nil:
		return KindQuickLog
	case e.Reprocess != nil:
		return KindReprocess
	}
	return ""
}

// SourceItem returns the food item the log entry originated from, if any
func (e *ExtendedData) SourceItem() *FoodItemToLog {
	if e == nil {
		return nil
	}
	switch {
	case e.QuickLog != nil:
		return &e.QuickLog.Item
	case e.Reprocess != nil:
		return e.Reprocess.Original
	}
	return nil
}

type extendedDataEnvelope struct {
	Version int              `json:"version"`
	Kind    ExtendedDataKind `json:"kind"`
	Payload json.RawMessage  `json:"payload"`
}

// MarshalJSON writes the versioned {version, kind, payload} envelope
func (e ExtendedData) MarshalJSON() ([]byte, error) {
	var payload any
	switch {
	case e.QuickLog != nil && e.Reprocess != nil:
		return nil, fmt.Errorf("extended data has more than one payload")
	case e.QuickLog != nil:
		payload = e.QuickLog
	case e.Reprocess != nil:
		payload = e.Reprocess
	default:
		return nil, fmt.Errorf("extended data has no payload")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	version := e.Version
	if version == 0 {
		version = ExtendedDataVersion
	}
	return json.Marshal(extendedDataEnvelope{Version: version, Kind: e.Kind(), Payload: raw})
}

// UnmarshalJSON accepts the envelope, or a legacy bare FoodItemToLog (version 1)
func (e *ExtendedData) UnmarshalJSON(data []byte) error {
	var env extendedDataEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("invalid extended data: %w", err)
	}

	if env.Kind == "" {
		var legacy FoodItemToLog
		if err := json.Unmarshal(data, &legacy); err != nil {
			return fmt.Errorf("invalid legacy extended data: %w", err)
		}
		if legacy.FoodDatabaseSearchName == "" && legacy.FullItemUserMessageIncludingServing == "" {
			return fmt.Errorf("extended data has no kind")
		}
		*e = ExtendedData{Version: 1, QuickLog: &QuickLogPayload{Item: legacy}}
		return nil
	}

	out := ExtendedData{Version: env.Version}
	switch env.Kind {
	case KindQuickLog:
		out.QuickLog = &QuickLogPayload{}
		if err := json.Unmarshal(env.Payload, out.QuickLog); err != nil {
			return fmt.Errorf("invalid quick_log payload: %w", err)
		}
	case KindReprocess:
		out.Reprocess = &ReprocessPayload{}
		if err := json.Unmarshal(env.Payload, out.Reprocess); err != nil {
			return fmt.Errorf("invalid reprocess payload: %w", err)
		}
	default:
		return fmt.Errorf("unknown extended data kind %q", env.Kind)
	}

	*e = out
	return nil
}
