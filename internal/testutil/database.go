package testutil

import (
	"context"
	"testing"

	"github.com/nishad/seqlims/internal/database"
)

// TestDB creates a temporary SQLite database for testing.
// It returns the database and a cleanup function.
func TestDB(t *testing.T) (*database.DB, func()) {
	t.Helper()

	// Create temp directory for the database
	dir, dirCleanup := TempDir(t)

	// Initialize database in temp directory
	db, err := database.Initialize(dir + "/test.db")
	if err != nil {
		dirCleanup()
		t.Fatalf("failed to create test database: %v", err)
	}

	return db, func() {
		db.Close()
		dirCleanup()
	}
}

// TestDBWithFixtures creates a test database and populates it with fixtures.
func TestDBWithFixtures(t *testing.T) (*database.DB, *Fixtures, func()) {
	t.Helper()

	db, cleanup := TestDB(t)

	fx, err := InsertFixtures(context.Background(), db)
	if err != nil {
		cleanup()
		t.Fatalf("failed to insert fixtures: %v", err)
	}

	return db, fx, cleanup
}
