package storagetest

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/config"
	"github.com/aman-churiwal/media-gateway/internal/storage"
	"github.com/google/uuid"
)

// PostgresDSNEnv names the server used by NewPostgres.
const PostgresDSNEnv = "MEDIAGW_TEST_POSTGRES_DSN"

// NewPostgres opens a migrated schema of its own on the server named by
// MEDIAGW_TEST_POSTGRES_DSN, with a pool of several connections. The test is
// skipped when the variable is unset; the schema is dropped when it ends.
func NewPostgres(t *testing.T) *storage.Database {
	t.Helper()

	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skip(PostgresDSNEnv + " not set")
	}

	admin, err := storage.NewPostgres(config.DatabaseConfig{DSN: dsn, MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	schema := "mediagw_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := admin.DB.Exec("CREATE SCHEMA " + schema).Error; err != nil {
		_ = admin.Close()
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_ = admin.DB.Exec("DROP SCHEMA " + schema + " CASCADE").Error
		_ = admin.Close()
	})

	db, err := storage.NewPostgres(config.DatabaseConfig{
		DSN:             withSearchPath(dsn, schema),
		MaxOpenConns:    16,
		MaxIdleConns:    16,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Fatalf("open postgres schema: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	if err := db.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return db
}

func withSearchPath(dsn, schema string) string {
	if strings.Contains(dsn, "://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return fmt.Sprintf("%s%ssearch_path=%s", dsn, sep, schema)
	}
	return fmt.Sprintf("%s search_path=%s", dsn, schema)
}
