package handlers

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"

	"foodlog/internal/jobs"
	"foodlog/internal/middleware"
	"foodlog/internal/services"
)

// DuplicateReporter lists catalogue FoodItems with identical profiles
type DuplicateReporter interface {
	Report(ctx context.Context) ([]services.DuplicatePair, error)
}

// Backfiller recomputes logged nutrients
type Backfiller interface {
	Run(ctx context.Context) (*services.BackfillStats, error)
}

// JobController exposes the maintenance scheduler
type JobController interface {
	GetStatus() []jobs.JobStatus
	RunNow(name string) error
}

// AdminHandler serves maintenance endpoints
type AdminHandler struct {
	duplicates DuplicateReporter
	backfill   Backfiller
	jobs       JobController
}

// NewAdminHandler creates a new admin handler. scheduler may be nil.
func NewAdminHandler(duplicates DuplicateReporter, backfill Backfiller, scheduler JobController) *AdminHandler {
	return &AdminHandler{duplicates: duplicates, backfill: backfill, jobs: scheduler}
}

// Duplicates handles GET /api/admin/duplicates
func (h *AdminHandler) Duplicates(c *fiber.Ctx) error {
	pairs, err := h.duplicates.Report(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	if pairs == nil {
		pairs = []services.DuplicatePair{}
	}
	return c.JSON(fiber.Map{"pairs": pairs, "count": len(pairs)})
}

// Backfill handles POST /api/admin/backfill. With ?async=true the run is
// handed to the scheduler and the request returns immediately.
func (h *AdminHandler) Backfill(c *fiber.Ctx) error {
	log.Printf("🔧 [ADMIN] Backfill requested by %s", middleware.UserID(c))

	if c.QueryBool("async") && h.jobs != nil {
		if err := h.jobs.RunNow(jobs.BackfillJobName); err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "started"})
	}

	stats, err := h.backfill.Run(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}

// Jobs handles GET /api/admin/jobs
func (h *AdminHandler) Jobs(c *fiber.Ctx) error {
	if h.jobs == nil {
		return c.JSON(fiber.Map{"jobs": []jobs.JobStatus{}})
	}
	return c.JSON(fiber.Map{"jobs": h.jobs.GetStatus()})
}
