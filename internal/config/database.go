package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// NewDatabaseConnection opens and verifies a database handle for driver
func NewDatabaseConnection(ctx context.Context, driver, dbURL string) (*sql.DB, error) {
	db, err := sql.Open(driver, dbURL)
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	switch driver {
	case "sqlite3":
		// SQLite serializes writers; one connection also keeps :memory: databases alive.
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}

	return db, nil
}
