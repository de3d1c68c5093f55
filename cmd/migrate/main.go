package main

import (
	"context"
	"log"
	"os"

	"didlab/internal/migration"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: migrate <database_url> [postgres|sqlite3]")
	}

	databaseURL := os.Args[1]
	driver := "postgres"
	if len(os.Args) > 2 {
		driver = os.Args[2]
	}

	db, err := sqlx.Connect(driver, databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	runner := migration.NewRunner()
	if err := runner.Run(context.Background(), db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Printf("Run archive schema %s applied (%s)", runner.Version(), driver)
}
