// Command migrate creates or updates the database schema.
package main

import (
	"flag"
	"fmt"
	"log"

	"parley/internal/config"
	"parley/internal/database"
	"parley/internal/middleware"

	"gorm.io/gorm"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dryRun := flag.Bool("dry-run", false, "List the models without touching the database")
	flag.Parse()

	if *dryRun {
		for _, m := range database.PersistentModels() {
			log.Printf("model: %T", m)
		}
		return nil
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dialector, err := database.Dialector(cfg)
	if err != nil {
		return err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: database.NewGormLogger(middleware.Logger)})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	log.Printf("schema applied for %d models (driver=%s)", len(database.PersistentModels()), cfg.DBDriver)

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
