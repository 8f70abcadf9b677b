package database

import "strings"

// Schema placeholders resolved per dialect:
//
//	{{id}}    auto-increment primary key
//	{{text}}  unbounded text (JSON blobs, embeddings)
//	{{bool}}  boolean
//	{{opts}}  table options
var dialectTypes = map[string]map[string]string{
	DialectMySQL: {
		"{{id}}":   "BIGINT AUTO_INCREMENT PRIMARY KEY",
		"{{text}}": "LONGTEXT",
		"{{bool}}": "BOOLEAN",
		"{{opts}}": " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
	},
	DialectSQLite: {
		"{{id}}":   "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{text}}": "TEXT",
		"{{bool}}": "BOOLEAN",
		"{{opts}}": "",
	},
}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS food_items (
		id {{id}},
		name VARCHAR(512) NOT NULL,
		brand VARCHAR(255),
		default_serving_weight_gram DOUBLE,
		default_serving_liquid_ml DOUBLE,
		is_liquid {{bool}} NOT NULL DEFAULT FALSE,
		weight_unknown {{bool}} NOT NULL DEFAULT FALSE,
		kcal_per_serving DOUBLE,
		total_fat_per_serving DOUBLE,
		sat_fat_per_serving DOUBLE,
		trans_fat_per_serving DOUBLE,
		carb_per_serving DOUBLE,
		sugar_per_serving DOUBLE,
		added_sugar_per_serving DOUBLE,
		protein_per_serving DOUBLE,
		fiber_per_serving DOUBLE,
		food_info_source VARCHAR(16) NOT NULL DEFAULT 'INTERNAL',
		external_id VARCHAR(64),
		name_embedding {{text}},
		message_embedding {{text}},
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	){{opts}}`,
	`CREATE TABLE IF NOT EXISTS nutrients (
		id {{id}},
		food_item_id BIGINT NOT NULL,
		nutrient_name VARCHAR(255) NOT NULL,
		nutrient_unit VARCHAR(32) NOT NULL,
		nutrient_amount_per_default_serving DOUBLE NOT NULL,
		UNIQUE (food_item_id, nutrient_name),
		FOREIGN KEY (food_item_id) REFERENCES food_items(id) ON DELETE CASCADE
	){{opts}}`,
	`CREATE TABLE IF NOT EXISTS servings (
		id {{id}},
		food_item_id BIGINT NOT NULL,
		serving_weight_gram DOUBLE,
		serving_name VARCHAR(255) NOT NULL,
		serving_alternate_amount DOUBLE,
		serving_alternate_unit VARCHAR(64),
		default_serving_amount DOUBLE,
		FOREIGN KEY (food_item_id) REFERENCES food_items(id) ON DELETE CASCADE
	){{opts}}`,
	`CREATE TABLE IF NOT EXISTS food_images (
		id {{id}},
		food_item_id BIGINT NOT NULL,
		url VARCHAR(1024) NOT NULL,
		downvotes INT NOT NULL DEFAULT 0,
		FOREIGN KEY (food_item_id) REFERENCES food_items(id) ON DELETE CASCADE
	){{opts}}`,
	`CREATE TABLE IF NOT EXISTS usda_foods (
		fdc_id VARCHAR(32) NOT NULL PRIMARY KEY,
		description VARCHAR(512) NOT NULL,
		brand_owner VARCHAR(255),
		data_type VARCHAR(64),
		embedding {{text}}
	){{opts}}`,
	`CREATE TABLE IF NOT EXISTS messages (
		id {{id}},
		user_id VARCHAR(128) NOT NULL,
		content {{text}} NOT NULL,
		status VARCHAR(32) NOT NULL,
		items_to_process INT NOT NULL DEFAULT 0,
		items_processed INT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	){{opts}}`,
	`CREATE TABLE IF NOT EXISTS logged_food_items (
		id {{id}},
		user_id VARCHAR(128) NOT NULL,
		food_item_id BIGINT,
		message_id BIGINT,
		consumed_on DATETIME NOT NULL,
		serving_amount DOUBLE,
		logged_unit VARCHAR(255),
		grams DOUBLE,
		nutrients {{text}},
		status VARCHAR(32) NOT NULL,
		extended_data {{text}},
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME NULL,
		FOREIGN KEY (food_item_id) REFERENCES food_items(id) ON DELETE SET NULL,
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE SET NULL
	){{opts}}`,
}

var indexes = []string{
	`CREATE INDEX idx_food_items_external ON food_items (food_info_source, external_id)`,
	`CREATE INDEX idx_logged_user_consumed ON logged_food_items (user_id, consumed_on)`,
	`CREATE INDEX idx_logged_message ON logged_food_items (message_id)`,
	`CREATE INDEX idx_food_images_item ON food_images (food_item_id)`,
}

type columnMigration struct {
	table      string
	column     string
	definition string
}

// Columns added after the first release of a table. Appended, never edited.
var columnMigrations = []columnMigration{
	{"food_items", "weight_unknown", "BOOLEAN NOT NULL DEFAULT FALSE"},
	{"logged_food_items", "extended_data", "TEXT"},
}

func schemaStatements(dialect string) []string {
	replacer := make([]string, 0, 8)
	for placeholder, value := range dialectTypes[dialect] {
		replacer = append(replacer, placeholder, value)
	}
	r := strings.NewReplacer(replacer...)

	stmts := make([]string, 0, len(tables))
	for _, t := range tables {
		stmts = append(stmts, r.Replace(t))
	}
	return stmts
}

// MySQL has no CREATE INDEX IF NOT EXISTS; duplicates are tolerated by the caller
func indexStatements(dialect string) []string {
	stmts := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		if dialect == DialectSQLite {
			idx = strings.Replace(idx, "CREATE INDEX", "CREATE INDEX IF NOT EXISTS", 1)
		}
		stmts = append(stmts, idx)
	}
	return stmts
}
