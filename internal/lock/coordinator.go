// Package lock serializes check-then-act sequences across every gateway process sharing the database.
//
// On postgres a section is a transaction holding a transaction-scoped advisory lock, so the lock
// is released on commit, rollback or a dropped connection. On sqlite, used for development and
// tests, the single-connection pool already serializes transactions and the transaction alone
// is the section.
package lock

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/apperr"
	"github.com/aman-churiwal/media-gateway/internal/logging"
	"github.com/aman-churiwal/media-gateway/internal/metrics"
	"github.com/aman-churiwal/media-gateway/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"
)

const defaultTimeout = 5 * time.Second

// Key identifies an exclusive section. Equal names always map to the same advisory lock pair.
type Key struct {
	name   string
	hi, lo int32
}

// NewKey derives a key from its semantic parts, e.g. NewKey("quota", subject, window).
func NewKey(parts ...string) Key {
	name := strings.Join(parts, "|")
	sum := blake2b.Sum256([]byte(name))

	return Key{
		name: name,
		hi:   int32(binary.BigEndian.Uint32(sum[0:4])),
		lo:   int32(binary.BigEndian.Uint32(sum[4:8])),
	}
}

func (k Key) String() string {
	return k.name
}

// Pair returns the two 32-bit integers passed to pg_advisory_xact_lock.
func (k Key) Pair() (int32, int32) {
	return k.hi, k.lo
}

type Config struct {
	Database *storage.Database
	Timeout  time.Duration
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

type Coordinator struct {
	db       *gorm.DB
	advisory bool
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func New(cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Coordinator{
		db:       cfg.Database.DB,
		advisory: cfg.Database.Dialect() == "postgres",
		timeout:  cfg.Timeout,
		logger:   logging.OrNop(cfg.Logger),
		metrics:  cfg.Metrics,
	}
}

// WithExclusiveSection runs fn in a transaction that holds key for its whole duration.
// fn must only use tx: no network calls while the section is held.
// Failing to enter the section within the timeout yields apperr.ErrLockUnavailable.
func (c *Coordinator) WithExclusiveSection(ctx context.Context, key Key, fn func(tx *gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	entered := false

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entered = true
		if err := c.Acquire(tx, key); err != nil {
			return err
		}
		c.metrics.LockWait(time.Since(start), true)
		return fn(tx)
	})

	if err != nil && !entered {
		c.metrics.LockWait(time.Since(start), false)
		c.logger.Warn("exclusive section unavailable",
			zap.String("key", key.String()),
			zap.Error(err),
		)
		return fmt.Errorf("enter %s: %w: %w", key, apperr.ErrLockUnavailable, err)
	}

	return err
}

// Acquire takes key inside an already open section, for nested counters.
// Callers must acquire nested keys in a consistent order.
func (c *Coordinator) Acquire(tx *gorm.DB, key Key) error {
	if !c.advisory {
		return nil
	}

	if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = %d", c.timeout.Milliseconds())).Error; err != nil {
		return fmt.Errorf("acquire %s: %w: %w", key, apperr.ErrLockUnavailable, err)
	}

	hi, lo := key.Pair()
	if err := tx.Exec("SELECT pg_advisory_xact_lock(?, ?)", hi, lo).Error; err != nil {
		c.metrics.LockWait(0, false)
		c.logger.Warn("advisory lock failed", zap.String("key", key.String()), zap.Error(err))
		return fmt.Errorf("acquire %s: %w: %w", key, apperr.ErrLockUnavailable, err)
	}

	return nil
}
