// Package quota keeps per-subject consumption counters for calendar windows.
//
// Every increment runs inside a lock.Coordinator section keyed on the counter, so concurrent
// callers in any process never grant more than the limit.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/lock"
	"github.com/aman-churiwal/media-gateway/internal/logging"
	"github.com/aman-churiwal/media-gateway/internal/metrics"
	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/aman-churiwal/media-gateway/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// DayWindow names the UTC calendar day containing t.
func DayWindow(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// MonthWindow names the UTC calendar month containing t.
func MonthWindow(t time.Time) string {
	return t.UTC().Format(monthLayout)
}

func windowStart(window string) time.Time {
	for _, layout := range []string{dayLayout, monthLayout} {
		if t, err := time.Parse(layout, window); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Key addresses one counter.
type Key struct {
	Subject string
	Window  string
}

func (k Key) lockKey() lock.Key {
	return lock.NewKey("quota", k.Subject, k.Window)
}

// resource is the subject's leading segment ("ad", "earn", ...), used as a metric label.
func (k Key) resource() string {
	resource, _, _ := strings.Cut(k.Subject, "|")
	return resource
}

// Result is the outcome of one increment attempt. Remaining is -1 for unbounded counters.
type Result struct {
	Granted   bool  `json:"granted"`
	Count     int64 `json:"count"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

type Config struct {
	Database *storage.Database
	Locks    *lock.Coordinator
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

type Store struct {
	db      *gorm.DB
	locks   *lock.Coordinator
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewStore(cfg Config) *Store {
	return &Store{
		db:      cfg.Database.DB,
		locks:   cfg.Locks,
		logger:  logging.OrNop(cfg.Logger),
		metrics: cfg.Metrics,
	}
}

// TryIncrement grants one unit if the counter is below limit, or always when limit is 0.
// A store or lock failure is returned as an error and never as a grant.
func (s *Store) TryIncrement(ctx context.Context, key Key, limit int64) (Result, error) {
	var res Result
	err := s.locks.WithExclusiveSection(ctx, key.lockKey(), func(tx *gorm.DB) error {
		var err error
		res, err = s.increment(tx, key, limit)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	s.record(key, res)
	return res, nil
}

// TryIncrementTx is TryIncrement inside a section the caller already holds.
// The grant only becomes durable when the caller's transaction commits.
func (s *Store) TryIncrementTx(tx *gorm.DB, key Key, limit int64) (Result, error) {
	if err := s.locks.Acquire(tx, key.lockKey()); err != nil {
		return Result{}, err
	}

	res, err := s.increment(tx, key, limit)
	if err != nil {
		return Result{}, err
	}

	s.record(key, res)
	return res, nil
}

func (s *Store) increment(tx *gorm.DB, key Key, limit int64) (Result, error) {
	counter, err := s.load(tx, key)
	if err != nil {
		return Result{}, err
	}

	if limit > 0 && counter.Count >= limit {
		return Result{Granted: false, Count: counter.Count, Limit: limit, Remaining: 0}, nil
	}

	err = tx.Model(&models.QuotaCounter{}).
		Where("id = ?", counter.ID).
		Update("count", gorm.Expr("count + ?", 1)).Error
	if err != nil {
		return Result{}, fmt.Errorf("increment %s/%s: %w", key.Subject, key.Window, err)
	}

	count := counter.Count + 1
	return Result{Granted: true, Count: count, Limit: limit, Remaining: Remaining(count, limit)}, nil
}

// load returns the counter row, creating it at zero on first use.
func (s *Store) load(tx *gorm.DB, key Key) (*models.QuotaCounter, error) {
	var counter models.QuotaCounter
	err := tx.Where("subject_key = ? AND window_key = ?", key.Subject, key.Window).
		Take(&counter).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		counter = models.QuotaCounter{
			SubjectKey:  key.Subject,
			WindowKey:   key.Window,
			WindowStart: windowStart(key.Window),
		}
		if err := tx.Create(&counter).Error; err != nil {
			return nil, fmt.Errorf("create counter %s/%s: %w", key.Subject, key.Window, err)
		}
		return &counter, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load counter %s/%s: %w", key.Subject, key.Window, err)
	}

	return &counter, nil
}

// Peek reads the current count without locking. Only for reporting.
func (s *Store) Peek(ctx context.Context, key Key) (int64, error) {
	var counter models.QuotaCounter
	err := s.db.WithContext(ctx).
		Where("subject_key = ? AND window_key = ?", key.Subject, key.Window).
		Take(&counter).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return counter.Count, err
}

func (s *Store) record(key Key, res Result) {
	s.metrics.QuotaDecision(key.resource(), res.Granted)
	if !res.Granted {
		s.logger.Debug("quota exhausted",
			zap.String("subject", key.Subject),
			zap.String("window", key.Window),
			zap.Int64("limit", res.Limit),
		)
	}
}

// Remaining reports what is left under limit for a count, -1 when unbounded.
func Remaining(count, limit int64) int64 {
	if limit <= 0 {
		return -1
	}
	if count >= limit {
		return 0
	}
	return limit - count
}
