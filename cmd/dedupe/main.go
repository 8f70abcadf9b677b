package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/xuri/excelize/v2"

	"foodlog/internal/config"
	"foodlog/internal/database"
	"foodlog/internal/services"
	"foodlog/internal/store"
)

const sheetName = "Duplicates"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	out := flag.String("out", fmt.Sprintf("duplicates-%s.xlsx", time.Now().UTC().Format("20060102")), "xlsx file to write")
	timeout := flag.Duration("timeout", 10*time.Minute, "give up after this long")
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pairs, err := services.NewDuplicateFinder(store.NewSQLStore(db)).Report(ctx)
	if err != nil {
		log.Fatalf("❌ Duplicate report failed: %v", err)
	}

	if err := writeReport(*out, pairs); err != nil {
		log.Fatalf("❌ Failed to write %s: %v", *out, err)
	}
	log.Printf("✅ Wrote %d duplicate pair(s) to %s", len(pairs), *out)
}

func writeReport(path string, pairs []services.DuplicatePair) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	header := []interface{}{"First ID", "First name", "First source", "Second ID", "Second name", "Second source", "Name distance"}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(sheetName, 1, 1, bold); err != nil {
		return err
	}

	for i, pair := range pairs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			pair.First.ID, pair.First.Name, string(pair.First.Source),
			pair.Second.ID, pair.Second.Name, string(pair.Second.Source),
			pair.NameDistance,
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return err
		}
	}

	if len(pairs) > 0 {
		if err := f.AutoFilter(sheetName, fmt.Sprintf("A1:G%d", len(pairs)+1), nil); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}
