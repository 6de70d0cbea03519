package testutil

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/jbweber/homelab/brain/internal/datastore"
)

// CleanupTestDB removes the test database file
func CleanupTestDB(dsn string) error {
	if len(dsn) < 5 || dsn[:5] != "file:" {
		return fmt.Errorf("invalid DSN format")
	}

	path := dsn[5:]
	if idx := strings.Index(path, "?"); idx != -1 {
		path = path[:idx]
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SetupTestDB creates and returns a test database connection
func SetupTestDB(t *testing.T, testName string) (*sql.DB, func()) {
	dsn := NewTestDSN(testName)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	cleanup := func() {
		db.Close()
		CleanupTestDB(dsn)
	}

	return db, cleanup
}

// NewTestDatastore returns a migrated in-memory datastore private to t.
func NewTestDatastore(t *testing.T) *datastore.Datastore {
	t.Helper()

	ds, err := datastore.New(NewTestDSN(t.Name()))
	if err != nil {
		t.Fatalf("Failed to create test datastore: %v", err)
	}
	t.Cleanup(func() {
		ds.Close()
	})
	return ds
}
