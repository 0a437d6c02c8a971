package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/config"
	"github.com/aman-churiwal/media-gateway/internal/lock"
	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/aman-churiwal/media-gateway/internal/storage"
	"gorm.io/gorm"
)

// DatabaseSlidingWindow keeps one sample row per admitted request and counts them under a lock.
type DatabaseSlidingWindow struct {
	db    *gorm.DB
	locks *lock.Coordinator
	clock func() time.Time
}

func NewDatabaseSlidingWindow(db *storage.Database, locks *lock.Coordinator, clock func() time.Time) *DatabaseSlidingWindow {
	if clock == nil {
		clock = time.Now
	}
	return &DatabaseSlidingWindow{db: db.DB, locks: locks, clock: clock}
}

func (s *DatabaseSlidingWindow) Allow(ctx context.Context, key string, limit config.Limit) (Decision, error) {
	var decision Decision

	err := s.locks.WithExclusiveSection(ctx, lock.NewKey("rate", key), func(tx *gorm.DB) error {
		now := s.clock().UTC()
		windowStart := now.Add(-limit.Window)

		// Samples outside the window no longer count; drop them while we hold the key.
		if err := tx.Where("key = ? AND requested_at <= ?", key, windowStart).
			Delete(&models.RateLimitSample{}).Error; err != nil {
			return fmt.Errorf("prune samples: %w", err)
		}

		var count int64
		if err := tx.Model(&models.RateLimitSample{}).
			Where("key = ?", key).
			Count(&count).Error; err != nil {
			return fmt.Errorf("count samples: %w", err)
		}

		var oldest models.RateLimitSample
		resetAt := now.Add(limit.Window)
		if count > 0 {
			if err := tx.Where("key = ?", key).Order("requested_at ASC").Take(&oldest).Error; err != nil {
				return fmt.Errorf("oldest sample: %w", err)
			}
			resetAt = oldest.RequestedAt.Add(limit.Window)
		}

		if count >= int64(limit.Requests) {
			decision = Decision{Allowed: false, Limit: limit.Requests, Remaining: 0, ResetAt: resetAt}
			return nil
		}

		if err := tx.Create(&models.RateLimitSample{Key: key, RequestedAt: now}).Error; err != nil {
			return fmt.Errorf("record sample: %w", err)
		}

		decision = Decision{
			Allowed:   true,
			Limit:     limit.Requests,
			Remaining: limit.Requests - int(count) - 1,
			ResetAt:   resetAt,
		}
		return nil
	})

	return decision, err
}

// Prune removes samples older than cutoff regardless of key. Used by the maintenance job.
func (s *DatabaseSlidingWindow) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("requested_at < ?", cutoff).
		Delete(&models.RateLimitSample{})
	return result.RowsAffected, result.Error
}
