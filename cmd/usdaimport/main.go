package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"foodlog/internal/config"
	"foodlog/internal/database"
	"foodlog/internal/llm"
	"foodlog/internal/promptcache"
	"foodlog/internal/store"
)

// foodRow is one line of a FoodData Central food.csv export
type foodRow struct {
	FDCID       string
	DataType    string
	Description string
	BrandOwner  string
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	path := flag.String("csv", "food.csv", "FoodData Central food.csv export")
	dataTypes := flag.String("types", "foundation_food,sr_legacy_food,branded_food", "comma separated data_type values to import")
	workers := flag.Int("workers", 4, "concurrent embedding requests")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found: %v", err)
	}
	cfg := config.Load()

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	providers, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		log.Fatalf("❌ Failed to load LLM providers: %v", err)
	}
	router, err := llm.NewRouter(providers, promptcache.NewMemoryCache())
	if err != nil {
		log.Fatalf("❌ Failed to build LLM router: %v", err)
	}

	file, err := os.Open(*path)
	if err != nil {
		log.Fatalf("❌ Failed to open %s: %v", *path, err)
	}
	defer file.Close()

	rows, err := readFoods(file, splitList(*dataTypes))
	if err != nil {
		log.Fatalf("❌ Failed to read %s: %v", *path, err)
	}
	log.Printf("📥 [USDA-IMPORT] %d food(s) to import", len(rows))

	imported, err := importFoods(context.Background(), store.NewSQLStore(db), router, rows, *workers)
	if err != nil {
		log.Fatalf("❌ Import stopped after %d food(s): %v", imported, err)
	}
	log.Printf("✅ [USDA-IMPORT] Imported %d food(s)", imported)
}

func splitList(s string) map[string]bool {
	set := map[string]bool{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			set[part] = true
		}
	}
	return set
}

// readFoods parses a food.csv export. Columns are located by header name;
// brand_owner is optional. An empty type filter keeps every row.
func readFoods(r io.Reader, dataTypes map[string]bool) ([]foodRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	columns := map[string]int{}
	for i, name := range header {
		columns[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, required := range []string{"fdc_id", "data_type", "description"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	field := func(record []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []foodRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := foodRow{
			FDCID:       field(record, "fdc_id"),
			DataType:    field(record, "data_type"),
			Description: field(record, "description"),
			BrandOwner:  field(record, "brand_owner"),
		}
		if row.FDCID == "" || row.Description == "" {
			continue
		}
		if len(dataTypes) > 0 && !dataTypes[row.DataType] {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// importFoods embeds each description and stores the row. A failed
// embedding skips the row; a failed insert stops the import.
func importFoods(ctx context.Context, foods store.FoodStore, embedder llm.Embedder, rows []foodRow, workers int) (int64, error) {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var imported atomic.Int64
	for _, row := range rows {
		row := row
		g.Go(func() error {
			text := row.Description
			if row.BrandOwner != "" {
				text += " " + row.BrandOwner
			}
			vec, err := embedder.Embed(ctx, text)
			if err != nil {
				log.Printf("⚠️ [USDA-IMPORT] Skipping %s (%s): %v", row.FDCID, row.Description, err)
				return nil
			}
			if err := foods.InsertUSDAFood(ctx, store.USDAFood{
				FDCID:       row.FDCID,
				Description: row.Description,
				BrandOwner:  row.BrandOwner,
				DataType:    row.DataType,
				Embedding:   vec,
			}); err != nil {
				return fmt.Errorf("failed to store %s: %w", row.FDCID, err)
			}
			if n := imported.Add(1); n%1000 == 0 {
				log.Printf("📥 [USDA-IMPORT] %d imported", n)
			}
			return nil
		})
	}
	err := g.Wait()
	return imported.Load(), err
}
