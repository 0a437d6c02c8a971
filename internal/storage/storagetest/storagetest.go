// Package storagetest provides migrated throwaway databases for tests.
package storagetest

import (
	"path/filepath"
	"testing"

	"github.com/aman-churiwal/media-gateway/internal/storage"
)

// NewDatabase opens a migrated sqlite database in a temp dir and closes it when the test ends.
func NewDatabase(t *testing.T) *storage.Database {
	t.Helper()

	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}
