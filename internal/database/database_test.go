package database

import (
	"os"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestNew(t *testing.T) {
	// Create a temporary database file
	tmpFile := "test_database.db"
	defer os.Remove(tmpFile)

	db, err := New(tmpFile)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	if db.Dialect != DialectSQLite {
		t.Errorf("Expected sqlite dialect, got %s", db.Dialect)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}
}

func TestNew_InvalidPath(t *testing.T) {
	// Test with invalid path
	_, err := New("/invalid/path/that/does/not/exist/test.db")
	if err == nil {
		t.Fatal("Expected error for invalid path, got nil")
	}
}

func TestInitialize(t *testing.T) {
	// Create a temporary database
	tmpFile := "test_init.db"
	defer os.Remove(tmpFile)

	db, err := New(tmpFile)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	// Initialize schema
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	// Verify tables were created
	tables := []string{
		"food_items",
		"nutrients",
		"servings",
		"food_images",
		"usda_foods",
		"messages",
		"logged_food_items",
	}

	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}

	// Running twice must be a no-op
	if err := db.Initialize(); err != nil {
		t.Fatalf("Second initialize failed: %v", err)
	}

	exists, err := db.columnExists("logged_food_items", "extended_data")
	if err != nil || !exists {
		t.Errorf("Expected extended_data column, exists=%v err=%v", exists, err)
	}
}

func TestMySQLDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"mysql://user:pass@db:3306/foodlog", "user:pass@tcp(db:3306)/foodlog?parseTime=true&clientFoundRows=true"},
		{"mysql://user:pass@db:3306/foodlog?charset=utf8mb4", "user:pass@tcp(db:3306)/foodlog?charset=utf8mb4&parseTime=true&clientFoundRows=true"},
		{"mysql://user:pass@db:3306/foodlog?parseTime=false", "user:pass@tcp(db:3306)/foodlog?parseTime=false&clientFoundRows=true"},
		{"mysql://user:pass@db:3306/foodlog?clientFoundRows=false", "user:pass@tcp(db:3306)/foodlog?clientFoundRows=false&parseTime=true"},
	}

	for _, tt := range tests {
		if got := mysqlDSN(tt.in); got != tt.want {
			t.Errorf("mysqlDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// Updates that change nothing must still count as found, otherwise the
// store reports ErrNotFound for an identical recompute
func TestMySQLDSN_DriverReportsFoundRows(t *testing.T) {
	cfg, err := mysql.ParseDSN(mysqlDSN("mysql://user:pass@db:3306/foodlog"))
	if err != nil {
		t.Fatalf("ParseDSN: %v", err)
	}
	if !cfg.ClientFoundRows {
		t.Error("clientFoundRows not enabled")
	}
	if !cfg.ParseTime {
		t.Error("parseTime not enabled")
	}
	if cfg.Addr != "db:3306" || cfg.DBName != "foodlog" {
		t.Errorf("unexpected target %s/%s", cfg.Addr, cfg.DBName)
	}
}

func TestSchemaStatements_NoPlaceholdersLeft(t *testing.T) {
	for _, dialect := range []string{DialectMySQL, DialectSQLite} {
		for _, stmt := range schemaStatements(dialect) {
			for _, placeholder := range []string{"{{id}}", "{{text}}", "{{bool}}", "{{opts}}"} {
				if contains(stmt, placeholder) {
					t.Errorf("%s statement still contains %s", dialect, placeholder)
				}
			}
		}
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
