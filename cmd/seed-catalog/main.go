// seed-catalog loads products and prebuilds from an XLSX workbook (sheets
// "Products" and "PreBuilds") and upserts them by id. Cached catalog entries
// are dropped when Redis is reachable.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-catalog -file=catalog.xlsx
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/alphaitsolutions/storefront_backend/config"
	"github.com/alphaitsolutions/storefront_backend/document"
	"github.com/alphaitsolutions/storefront_backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func main() {
	file := flag.String("file", "", "Required: path to the catalog workbook")
	dryRun := flag.Bool("dry-run", false, "If true, only parse and print counts")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		os.Exit(1)
	}
	fh, err := os.Open(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *file, err)
		os.Exit(1)
	}
	catalog, err := document.ReadCatalog(fh)
	fh.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Parsed %d product(s), %d prebuild(s)\n", len(catalog.Products), len(catalog.PreBuilds))
	if *dryRun {
		fmt.Println("[dry-run] no changes written")
		return
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	if !config.SkipMigrations() {
		models.MigrateTable()
	}

	upsert := clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(catalog.Products) > 0 {
			if err := tx.Clauses(upsert).Create(&catalog.Products).Error; err != nil {
				return fmt.Errorf("upsert products: %w", err)
			}
		}
		if len(catalog.PreBuilds) > 0 {
			if err := tx.Clauses(upsert).Create(&catalog.PreBuilds).Error; err != nil {
				return fmt.Errorf("upsert prebuilds: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	redisCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	config.ConnectRedisWithRetry(redisCtx)
	cancel()
	rdb := config.GetRedisDB()
	if rdb == nil {
		fmt.Println("redis unreachable; cached entries expire on their own")
		return
	}
	defer rdb.Close()
	cache := &models.CachedCatalog{Redis: rdb}
	for _, p := range catalog.Products {
		_ = cache.Invalidate(ctx, models.ItemTypeProduct, p.ID)
	}
	for _, p := range catalog.PreBuilds {
		_ = cache.Invalidate(ctx, models.ItemTypePreBuild, p.ID)
	}
	fmt.Println("catalog seeded")
}
