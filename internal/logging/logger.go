package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler. LOG_LEVEL overrides the
// default level (info in production, debug elsewhere).
func Init() {
	production := strings.EqualFold(os.Getenv("ENVIRONMENT"), "production")

	level := slog.LevelDebug
	if production {
		level = slog.LevelInfo
	}
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			slog.Warn("ignoring invalid LOG_LEVEL", "value", raw)
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if production {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// WithMessage returns a logger carrying the message being processed.
// Use this for everything that happens while a meal message is split and logged.
func WithMessage(messageID int64, userID, runID string) *slog.Logger {
	return slog.With(
		"message_id", messageID,
		"user_id", userID,
		"run_id", runID,
	)
}

// WithItem scopes a message logger to a single logged food item.
func WithItem(logger *slog.Logger, loggedItemID int64, name string) *slog.Logger {
	return logger.With(
		"logged_item_id", loggedItemID,
		"food_name", name,
	)
}
