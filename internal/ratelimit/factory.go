package ratelimit

import (
	"fmt"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/lock"
	"github.com/aman-churiwal/media-gateway/internal/storage"
)

// NewLimiter builds the shared limiter for the configured backend.
func NewLimiter(backend string, db *storage.Database, locks *lock.Coordinator, redis *storage.RedisClient, clock func() time.Time) (Limiter, error) {
	switch backend {
	case "", "database":
		return NewDatabaseSlidingWindow(db, locks, clock), nil
	case "redis":
		if redis == nil {
			return nil, fmt.Errorf("ratelimit backend redis requires a redis client")
		}
		return NewSlidingWindowLimiter(redis, clock), nil
	default:
		return nil, fmt.Errorf("unknown ratelimit backend %q", backend)
	}
}
