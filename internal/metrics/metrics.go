// Package metrics holds the Prometheus metrics for the food pipeline.
// HTTP request metrics come from fiberprometheus; these cover the domain.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LLM calls by provider, purpose and outcome (ok, error)
	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foodlog_llm_requests_total",
		Help: "Total number of model completion requests by provider, purpose and outcome",
	}, []string{"provider", "purpose", "outcome"})

	llmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "foodlog_llm_request_duration_seconds",
		Help:    "Model completion latency in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}, // up to 2 minutes for LLM responses
	}, []string{"provider", "purpose"})

	promptCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foodlog_prompt_cache_lookups_total",
		Help: "Prompt cache lookups by result (hit, miss, error)",
	}, []string{"result"})

	matchSources = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foodlog_match_source_total",
		Help: "Resolved food items by the source that produced the match",
	}, []string{"source"})

	loggedItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foodlog_logged_items_total",
		Help: "Logged food items by final processing status",
	}, []string{"status"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "foodlog_processing_queue_depth",
		Help: "Logged food items waiting in the processing queue",
	})

	backfillItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foodlog_backfill_items_total",
		Help: "Backfilled logged food items by outcome (updated, skipped, failed)",
	}, []string{"outcome"})

	duplicatePairs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "foodlog_duplicate_food_pairs",
		Help: "Duplicate FoodItem pairs found by the last duplicate scan",
	})
)

// RecordLLMRequest records a completed model call
func RecordLLMRequest(provider, purpose string, seconds float64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	llmRequests.WithLabelValues(provider, purpose, outcome).Inc()
	llmLatency.WithLabelValues(provider, purpose).Observe(seconds)
}

// RecordPromptCache records a prompt cache lookup result: hit, miss or error
func RecordPromptCache(result string) {
	promptCacheLookups.WithLabelValues(result).Inc()
}

// RecordMatchSource records which source resolved a food item
func RecordMatchSource(source string) {
	matchSources.WithLabelValues(source).Inc()
}

// RecordLoggedItem records the final status of a processed item
func RecordLoggedItem(status string) {
	loggedItems.WithLabelValues(status).Inc()
}

// SetQueueDepth reports the processing queue length
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// RecordBackfill records a backfill outcome
func RecordBackfill(outcome string) {
	backfillItems.WithLabelValues(outcome).Inc()
}

// SetDuplicatePairs reports the size of the last duplicate report
func SetDuplicatePairs(n int) {
	duplicatePairs.Set(float64(n))
}
