package jobs

import (
	"context"
	"log"

	"foodlog/internal/services"
)

// Names under which the maintenance jobs are registered
const (
	BackfillJobName = "nutrient-backfill"
	DedupeJobName   = "duplicate-report"
)

// BackfillJob recomputes stored nutrient snapshots
type BackfillJob struct {
	backfill *services.BackfillService
}

// NewBackfillJob wraps the backfill service for the scheduler
func NewBackfillJob(backfill *services.BackfillService) *BackfillJob {
	return &BackfillJob{backfill: backfill}
}

// Run executes one backfill pass
func (j *BackfillJob) Run(ctx context.Context) error {
	stats, err := j.backfill.Run(ctx)
	if err != nil {
		return err
	}
	log.Printf("[BACKFILL-JOB] %d updated, %d skipped, %d failed", stats.Updated, stats.Skipped, stats.Failed)
	return nil
}

// DedupeJob logs the duplicate FoodItem report
type DedupeJob struct {
	finder *services.DuplicateFinder
}

// NewDedupeJob wraps the duplicate finder for the scheduler
func NewDedupeJob(finder *services.DuplicateFinder) *DedupeJob {
	return &DedupeJob{finder: finder}
}

// Run builds the report and logs each pair for review
func (j *DedupeJob) Run(ctx context.Context) error {
	pairs, err := j.finder.Report(ctx)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		log.Printf("[DEDUPE-JOB] #%d %q ~ #%d %q (name distance %d)",
			p.First.ID, p.First.Name, p.Second.ID, p.Second.Name, p.NameDistance)
	}
	return nil
}
