package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/config"
	"golang.org/x/time/rate"
)

const (
	localSweepInterval = time.Minute
	localMaxEntries    = 100_000
)

// LocalLimiter is an in-process token bucket per key. It only bounds traffic through this
// process and serves as the fallback when the shared store is unreachable.
// Buckets idle for a full window are refilled anyway and get dropped; the map never
// holds more than maxEntries keys.
type LocalLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*localEntry
	clock      func() time.Time
	maxEntries int
	lastSweep  time.Time
}

type localEntry struct {
	limiter  *rate.Limiter
	limit    config.Limit
	lastSeen time.Time
}

func NewLocalLimiter(clock func() time.Time) *LocalLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &LocalLimiter{
		limiters:   make(map[string]*localEntry),
		clock:      clock,
		maxEntries: localMaxEntries,
		lastSweep:  clock(),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string, limit config.Limit) (Decision, error) {
	now := l.clock()

	l.mu.Lock()
	if now.Sub(l.lastSweep) >= localSweepInterval {
		l.sweep(now)
	}
	entry, ok := l.limiters[key]
	if !ok || entry.limit != limit {
		if !ok && len(l.limiters) >= l.maxEntries {
			l.sweep(now)
			if len(l.limiters) >= l.maxEntries {
				l.evictOldest()
			}
		}
		every := limit.Window / time.Duration(limit.Requests)
		entry = &localEntry{
			limiter: rate.NewLimiter(rate.Every(every), limit.Requests),
			limit:   limit,
		}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()

	allowed := entry.limiter.AllowN(now, 1)
	tokens := int(entry.limiter.TokensAt(now))

	decision := Decision{
		Allowed:   allowed,
		Limit:     limit.Requests,
		Remaining: max(tokens, 0),
		ResetAt:   now.Add(limit.Window / time.Duration(limit.Requests)),
	}
	return decision, nil
}

// sweep drops buckets untouched for at least their window. Callers hold mu.
func (l *LocalLimiter) sweep(now time.Time) {
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) >= entry.limit.Window {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}

func (l *LocalLimiter) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range l.limiters {
		if oldestKey == "" || entry.lastSeen.Before(oldest) {
			oldestKey, oldest = key, entry.lastSeen
		}
	}
	delete(l.limiters, oldestKey)
}

func (l *LocalLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
