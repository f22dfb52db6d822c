package testing

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/teranos/windturbine/db"
)

// CreateTestDB creates an in-memory SQLite test database.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	// Every pooled connection to :memory: is a separate database
	database.SetMaxOpenConns(1)

	if _, err := database.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database
}

// CreateMigratedTestDB creates an in-memory database with the run-history schema applied.
func CreateMigratedTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database := CreateTestDB(t)
	if _, err := db.Migrate(context.Background(), database, nil); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return database
}
