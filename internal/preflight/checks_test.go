package preflight

import (
	"path/filepath"
	"strings"
	"testing"

	"foodlog/internal/config"
	"foodlog/internal/database"
)

const providersYAML = `
providers:
  - name: openai
    kind: openai
    base_url: https://api.openai.com/v1
    api_key_env: PREFLIGHT_TEST_OPENAI_KEY
routes:
  split: {provider: openai}
  serving: {provider: openai}
  extract: {provider: openai}
  embedding: {provider: openai, model: text-embedding-3-small}
`

func setupPreflightTest(t *testing.T, initialize bool) *database.DB {
	db, err := database.New(filepath.Join(t.TempDir(), "test_preflight.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	if initialize {
		if err := db.Initialize(); err != nil {
			t.Fatalf("Failed to initialize test database: %v", err)
		}
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func parseProviders(t *testing.T, data string) *config.ProvidersConfig {
	providers, err := config.ParseProviders([]byte(data))
	if err != nil {
		t.Fatalf("ParseProviders failed: %v", err)
	}
	return providers
}

func TestCheckDatabaseConnection(t *testing.T) {
	db := setupPreflightTest(t, true)
	checker := NewChecker(db, &config.Config{}, nil)

	if result := checker.checkDatabaseConnection(); result.Status != "pass" {
		t.Errorf("Expected status 'pass', got '%s'", result.Status)
	}

	db.Close()
	result := checker.checkDatabaseConnection()
	if result.Status != "fail" {
		t.Errorf("Expected status 'fail' after close, got '%s'", result.Status)
	}
	if result.Error == nil {
		t.Error("Expected error to be set")
	}
}

func TestCheckDatabaseSchema(t *testing.T) {
	checker := NewChecker(setupPreflightTest(t, true), &config.Config{}, nil)
	if result := checker.checkDatabaseSchema(); result.Status != "pass" {
		t.Errorf("Expected status 'pass', got '%s': %s", result.Status, result.Message)
	}

	uninitialized := NewChecker(setupPreflightTest(t, false), &config.Config{}, nil)
	result := uninitialized.checkDatabaseSchema()
	if result.Status != "fail" {
		t.Errorf("Expected status 'fail', got '%s'", result.Status)
	}
	if result.Error == nil {
		t.Error("Expected error to be set")
	}
}

func TestCheckProviderRoutes(t *testing.T) {
	db := setupPreflightTest(t, true)

	t.Setenv("PREFLIGHT_TEST_OPENAI_KEY", "sk-test")
	complete := NewChecker(db, &config.Config{}, parseProviders(t, providersYAML))
	if result := complete.checkProviderRoutes(); result.Status != "pass" {
		t.Errorf("Expected status 'pass', got '%s': %s", result.Status, result.Message)
	}

	t.Setenv("PREFLIGHT_TEST_OPENAI_KEY", "")
	keyless := NewChecker(db, &config.Config{}, parseProviders(t, providersYAML))
	if result := keyless.checkProviderRoutes(); result.Status != "warning" {
		t.Errorf("Expected status 'warning', got '%s'", result.Status)
	}

	partial := strings.Replace(providersYAML, "  extract: {provider: openai}\n", "", 1)
	result := NewChecker(db, &config.Config{}, parseProviders(t, partial)).checkProviderRoutes()
	if result.Status != "fail" || !strings.Contains(result.Message, "extract") {
		t.Errorf("Expected failure naming extract, got '%s': %s", result.Status, result.Message)
	}
}

func TestCheckProductionSettings(t *testing.T) {
	db := setupPreflightTest(t, true)

	dev := NewChecker(db, &config.Config{Environment: "development"}, nil)
	if result := dev.checkProductionSettings(); result.Status != "pass" {
		t.Errorf("Expected dev to pass, got '%s'", result.Status)
	}

	prod := NewChecker(db, &config.Config{Environment: "production", USDAAPIKey: "DEMO_KEY", WebSearchProvider: "searxng"}, nil)
	result := prod.checkProductionSettings()
	if result.Status != "warning" || !strings.Contains(result.Message, "DEMO_KEY") {
		t.Errorf("Expected DEMO_KEY warning, got '%s': %s", result.Status, result.Message)
	}
}

func TestHasFailures(t *testing.T) {
	if HasFailures([]CheckResult{{Status: "pass"}, {Status: "warning"}}) {
		t.Error("Expected no failures")
	}
	if !HasFailures([]CheckResult{{Status: "pass"}, {Status: "fail"}}) {
		t.Error("Expected a failure")
	}
}
