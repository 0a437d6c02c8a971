package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aman-churiwal/media-gateway/internal/config"
	"github.com/aman-churiwal/media-gateway/internal/models"
	"gorm.io/gorm"
)

func TestOpenSQLiteMigratesSchema(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "gw.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if db.Dialect() != "sqlite" {
		t.Fatalf("unexpected dialect %q", db.Dialect())
	}
	if err := db.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}

	for _, model := range models.All() {
		if !db.DB.Migrator().HasTable(model) {
			t.Fatalf("missing table for %T", model)
		}
	}
}

func TestTransactionRollsBack(t *testing.T) {
	db, err := NewSQLite(filepath.Join(t.TempDir(), "gw.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := db.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	_ = db.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&models.Publisher{Email: "a@example.com", IsActive: true}).Error; err != nil {
			t.Fatalf("create: %v", err)
		}
		return gorm.ErrInvalidTransaction
	})

	var count int64
	db.DB.Model(&models.Publisher{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected rollback, found %d rows", count)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{Driver: "oracle"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNilRedisIsEmptyCache(t *testing.T) {
	var r *RedisClient
	ctx := context.Background()

	if _, err := r.Get(ctx, "k"); err != ErrCacheMiss {
		t.Fatalf("expected cache miss, got %v", err)
	}
	if err := r.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	if err := r.Del(ctx, "k"); err != nil {
		t.Fatalf("unexpected del error: %v", err)
	}
}
