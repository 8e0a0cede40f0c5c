package testutil

import (
	"testing"

	"pictor/internal/database"
	"pictor/internal/database/migrations"
)

// NewTestStore creates a new in-memory record store with the schema applied.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()

	store, err := database.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create record store: %v", err)
	}

	if err := migrations.MigrateUp(store.DB(), migrations.DialectSQLite); err != nil {
		store.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
