package preflight

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"foodlog/internal/config"
	"foodlog/internal/database"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Tables the store reads and writes
var requiredTables = []string{
	"food_items",
	"nutrients",
	"servings",
	"food_images",
	"usda_foods",
	"messages",
	"logged_food_items",
}

// Purposes every providers file must route
var requiredPurposes = []string{
	config.PurposeSplit,
	config.PurposeServing,
	config.PurposeExtract,
	config.PurposeEmbedding,
}

// Checker performs pre-flight checks before the server starts
type Checker struct {
	db        *database.DB
	cfg       *config.Config
	providers *config.ProvidersConfig
}

// NewChecker creates a new preflight checker
func NewChecker(db *database.DB, cfg *config.Config, providers *config.ProvidersConfig) *Checker {
	return &Checker{db: db, cfg: cfg, providers: providers}
}

// RunAll runs all preflight checks and logs a summary
func (c *Checker) RunAll() []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkDatabaseConnection(),
		c.checkDatabaseSchema(),
		c.checkProviderRoutes(),
		c.checkProductionSettings(),
	}

	passed, failed, warnings := 0, 0, 0
	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("📊 Pre-flight summary: %d passed, %d failed, %d warnings", passed, failed, warnings)
	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

func (c *Checker) checkDatabaseConnection() CheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return CheckResult{Name: "Database Connection", Status: "fail", Message: "Cannot connect to database", Error: err}
	}
	return CheckResult{Name: "Database Connection", Status: "pass", Message: "Database connection successful"}
}

func (c *Checker) checkDatabaseSchema() CheckResult {
	query := "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?"
	if c.db.Dialect == database.DialectSQLite {
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	}

	for _, table := range requiredTables {
		var count int
		err := c.db.QueryRow(query, table).Scan(&count)
		if err == nil && count == 0 {
			err = fmt.Errorf("table %s does not exist", table)
		}
		if err != nil {
			return CheckResult{
				Name:    "Database Schema",
				Status:  "fail",
				Message: fmt.Sprintf("Required table '%s' not found", table),
				Error:   err,
			}
		}
	}

	return CheckResult{
		Name:    "Database Schema",
		Status:  "pass",
		Message: fmt.Sprintf("All %d required tables exist", len(requiredTables)),
	}
}

// checkProviderRoutes fails when a pipeline stage has no model route and
// warns when a routed provider has no API key
func (c *Checker) checkProviderRoutes() CheckResult {
	if c.providers == nil {
		return CheckResult{Name: "LLM Routes", Status: "fail", Message: "No providers configuration loaded"}
	}

	var missing []string
	for _, purpose := range requiredPurposes {
		if _, ok := c.providers.Routes[purpose]; !ok {
			missing = append(missing, purpose)
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Name:    "LLM Routes",
			Status:  "fail",
			Message: fmt.Sprintf("No route for: %s", strings.Join(missing, ", ")),
		}
	}

	var keyless []string
	for _, purpose := range requiredPurposes {
		provider, ok := c.providers.Provider(c.providers.Routes[purpose].Provider)
		if ok && provider.APIKey == "" {
			keyless = append(keyless, fmt.Sprintf("%s (%s)", provider.Name, provider.APIKeyEnv))
		}
	}
	if len(keyless) > 0 {
		return CheckResult{
			Name:    "LLM Routes",
			Status:  "warning",
			Message: fmt.Sprintf("Providers without an API key: %s", strings.Join(keyless, ", ")),
		}
	}

	return CheckResult{Name: "LLM Routes", Status: "pass", Message: "All pipeline stages are routed"}
}

func (c *Checker) checkProductionSettings() CheckResult {
	if c.cfg.Environment != "production" {
		return CheckResult{Name: "Production Settings", Status: "pass", Message: "Skipped outside production"}
	}

	var warnings []string
	if c.cfg.USDAAPIKey == "" || c.cfg.USDAAPIKey == "DEMO_KEY" {
		warnings = append(warnings, "USDA_API_KEY is the shared DEMO_KEY")
	}
	if c.cfg.RedisURL == "" {
		warnings = append(warnings, "REDIS_URL not set, prompt cache is per-process")
	}
	if len(c.cfg.AdminUserIDs) == 0 {
		warnings = append(warnings, "ADMIN_USER_IDS is empty")
	}
	if c.cfg.WebSearchProvider == "serper" && c.cfg.SerperAPIKey == "" {
		warnings = append(warnings, "SERPER_API_KEY not set")
	}
	if c.cfg.ScraperAllowPrivate {
		warnings = append(warnings, "SCRAPER_ALLOW_PRIVATE lets web fallback reach internal hosts")
	}

	if len(warnings) > 0 {
		return CheckResult{Name: "Production Settings", Status: "warning", Message: strings.Join(warnings, "; ")}
	}
	return CheckResult{Name: "Production Settings", Status: "pass", Message: "Production settings look complete"}
}
