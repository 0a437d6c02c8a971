// Package ratelimit enforces sliding-window request budgets shared by every gateway process.
package ratelimit

import (
	"context"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/config"
)

// Decision is the outcome of one rate check. Remaining is -1 for unbounded limits.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// RetryAfter is the wait before the oldest counted request leaves the window.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Limiter admits or rejects one request for key under limit. limit.Requests is always positive.
type Limiter interface {
	Allow(ctx context.Context, key string, limit config.Limit) (Decision, error)
}

func unbounded(now time.Time, window time.Duration) Decision {
	return Decision{Allowed: true, Limit: 0, Remaining: -1, ResetAt: now.Add(window)}
}
