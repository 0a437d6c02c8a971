package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/apperr"
	"github.com/aman-churiwal/media-gateway/internal/config"
	"github.com/aman-churiwal/media-gateway/internal/lock"
	"github.com/aman-churiwal/media-gateway/internal/storage"
	"github.com/aman-churiwal/media-gateway/internal/storage/storagetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, config.Limit) (Decision, error) {
	return Decision{}, errors.New("connection refused")
}

func newDatabaseWindow(t *testing.T, clock *fakeClock) *DatabaseSlidingWindow {
	t.Helper()
	db := storagetest.NewDatabase(t)
	locks := lock.New(lock.Config{Database: db, Timeout: 10 * time.Second})
	return NewDatabaseSlidingWindow(db, locks, clock.Now)
}

func TestDatabaseSlidingWindow(t *testing.T) {
	clock := newFakeClock()
	limiter := newDatabaseWindow(t, clock)
	ctx := context.Background()
	limit := config.Limit{Requests: 3, Window: time.Minute}

	for i := range 3 {
		d, err := limiter.Allow(ctx, "1.2.3.4|/dl", limit)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !d.Allowed || d.Remaining != 2-i {
			t.Fatalf("request %d: got %+v", i, d)
		}
		clock.Advance(10 * time.Second)
	}

	d, err := limiter.Allow(ctx, "1.2.3.4|/dl", limit)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed || d.Remaining != 0 {
		t.Fatalf("expected denial, got %+v", d)
	}
	// The first sample was taken at 09:00:00.
	if want := time.Date(2026, 10, 17, 9, 1, 0, 0, time.UTC); !d.ResetAt.Equal(want) {
		t.Fatalf("reset at %v, want %v", d.ResetAt, want)
	}
	if got := d.RetryAfter(clock.Now()); got != 30*time.Second {
		t.Fatalf("retry after %v", got)
	}

	if d, _ := limiter.Allow(ctx, "5.6.7.8|/dl", limit); !d.Allowed {
		t.Fatalf("other identities must have their own window")
	}

	clock.Advance(31 * time.Second)
	if d, _ := limiter.Allow(ctx, "1.2.3.4|/dl", limit); !d.Allowed {
		t.Fatalf("expected the oldest sample to have left the window")
	}
}

func TestDatabaseSlidingWindowConcurrent(t *testing.T) {
	limiter := newDatabaseWindow(t, newFakeClock())
	ctx := context.Background()
	limit := config.Limit{Requests: 5, Window: time.Hour}

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := limiter.Allow(ctx, "client|/api/tokens", limit)
			if err != nil {
				t.Errorf("allow: %v", err)
				return
			}
			if d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 5 {
		t.Fatalf("expected exactly 5 admitted requests, got %d", allowed.Load())
	}
}

func TestDatabaseSlidingWindowPrune(t *testing.T) {
	clock := newFakeClock()
	limiter := newDatabaseWindow(t, clock)
	ctx := context.Background()
	limit := config.Limit{Requests: 10, Window: time.Minute}

	for range 3 {
		if _, err := limiter.Allow(ctx, "a|/dl", limit); err != nil {
			t.Fatalf("allow: %v", err)
		}
	}
	clock.Advance(time.Hour)

	n, err := limiter.Prune(ctx, clock.Now().Add(-time.Minute))
	if err != nil || n != 3 {
		t.Fatalf("expected 3 pruned samples, got %d (%v)", n, err)
	}
}

func TestCheckerUsesRouteLimits(t *testing.T) {
	clock := newFakeClock()
	limits := config.NewLimitResolver(config.NewStaticLimits(config.RateLimitConfig{
		Global: config.Limit{Requests: 2, Window: time.Minute},
		Routes: map[string]config.Limit{
			"/health": {Requests: 0, Window: time.Minute},
		},
	}))
	checker := NewChecker(CheckerConfig{
		Limiter: newDatabaseWindow(t, clock),
		Limits:  limits,
		Clock:   clock.Now,
	})
	ctx := context.Background()

	for range 5 {
		d, err := checker.CheckRate(ctx, "client", "/health")
		if err != nil || !d.Allowed || d.Remaining != -1 {
			t.Fatalf("unbounded route: %+v (%v)", d, err)
		}
	}

	for range 2 {
		if d, err := checker.CheckRate(ctx, "client", "/dl"); err != nil || !d.Allowed {
			t.Fatalf("expected admission: %+v (%v)", d, err)
		}
	}
	d, err := checker.CheckRate(ctx, "client", "/dl")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed || d.Limit != 2 {
		t.Fatalf("expected denial under the global limit, got %+v", d)
	}
}

func TestCheckerStoreFailure(t *testing.T) {
	clock := newFakeClock()
	limits := config.NewLimitResolver(config.NewStaticLimits(config.RateLimitConfig{
		Global: config.Limit{Requests: 1, Window: time.Minute},
	}))
	ctx := context.Background()

	strict := NewChecker(CheckerConfig{Limiter: failingLimiter{}, Limits: limits, Clock: clock.Now})
	if _, err := strict.CheckRate(ctx, "client", "/dl"); !errors.Is(err, apperr.ErrLockUnavailable) {
		t.Fatalf("expected lock unavailable, got %v", err)
	}

	core, logs := observer.New(zap.WarnLevel)
	degraded := NewChecker(CheckerConfig{
		Limiter:  failingLimiter{},
		Limits:   limits,
		Fallback: NewLocalLimiter(clock.Now),
		Clock:    clock.Now,
		Logger:   zap.New(core),
	})

	first, err := degraded.CheckRate(ctx, "client", "/dl")
	if err != nil || !first.Allowed {
		t.Fatalf("expected degraded admission, got %+v (%v)", first, err)
	}
	second, err := degraded.CheckRate(ctx, "client", "/dl")
	if err != nil || second.Allowed {
		t.Fatalf("expected degraded denial, got %+v (%v)", second, err)
	}
	if logs.FilterMessage("rate limit store unavailable, using local limiter").Len() != 2 {
		t.Fatalf("expected a warning per degraded decision")
	}
}

func TestLocalLimiterRefills(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLocalLimiter(clock.Now)
	ctx := context.Background()
	limit := config.Limit{Requests: 2, Window: time.Minute}

	for range 2 {
		if d, _ := limiter.Allow(ctx, "k", limit); !d.Allowed {
			t.Fatalf("expected burst admission")
		}
	}
	if d, _ := limiter.Allow(ctx, "k", limit); d.Allowed {
		t.Fatalf("expected denial after the burst")
	}

	clock.Advance(30 * time.Second)
	if d, _ := limiter.Allow(ctx, "k", limit); !d.Allowed {
		t.Fatalf("expected one token refilled after half the window")
	}
}

func TestLocalLimiterEvictsIdleBuckets(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLocalLimiter(clock.Now)
	ctx := context.Background()
	limit := config.Limit{Requests: 1, Window: time.Minute}

	for i := range 50 {
		if _, err := limiter.Allow(ctx, fmt.Sprintf("10.0.0.%d|/dl", i), limit); err != nil {
			t.Fatalf("allow: %v", err)
		}
	}
	if limiter.size() != 50 {
		t.Fatalf("expected 50 buckets, got %d", limiter.size())
	}

	clock.Advance(2 * time.Minute)
	if d, _ := limiter.Allow(ctx, "10.0.0.1|/dl", limit); !d.Allowed {
		t.Fatalf("an idle bucket must start full")
	}
	if limiter.size() != 1 {
		t.Fatalf("expected idle buckets to be swept, got %d", limiter.size())
	}

	limiter.maxEntries = 3
	for i := range 10 {
		clock.Advance(time.Second)
		if _, err := limiter.Allow(ctx, fmt.Sprintf("10.1.0.%d|/dl", i), limit); err != nil {
			t.Fatalf("allow: %v", err)
		}
	}
	if limiter.size() > 3 {
		t.Fatalf("bucket map exceeded its cap: %d", limiter.size())
	}
	if d, _ := limiter.Allow(ctx, "10.1.0.9|/dl", limit); d.Allowed {
		t.Fatalf("the most recent bucket must survive eviction")
	}
}

func TestNewLimiterBackends(t *testing.T) {
	db := storagetest.NewDatabase(t)
	locks := lock.New(lock.Config{Database: db})

	if l, err := NewLimiter("database", db, locks, nil, nil); err != nil {
		t.Fatalf("database backend: %v", err)
	} else if _, ok := l.(*DatabaseSlidingWindow); !ok {
		t.Fatalf("unexpected limiter %T", l)
	}
	if _, err := NewLimiter("redis", db, locks, nil, nil); err == nil {
		t.Fatalf("expected redis backend without a client to fail")
	}
	if _, err := NewLimiter("memcached", db, locks, nil, nil); err == nil {
		t.Fatalf("expected unknown backend to fail")
	}
}

// Runs against a real server when MEDIAGW_TEST_REDIS_ADDR is set.
func TestRedisSlidingWindow(t *testing.T) {
	addr := os.Getenv("MEDIAGW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MEDIAGW_TEST_REDIS_ADDR not set")
	}
	client, err := storage.NewRedis(addr, "", 0)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	limiter := NewSlidingWindowLimiter(client, nil)
	ctx := context.Background()
	key := "test|" + time.Now().Format(time.RFC3339Nano)
	limit := config.Limit{Requests: 3, Window: time.Minute}

	for i := range 3 {
		d, err := limiter.Allow(ctx, key, limit)
		if err != nil || !d.Allowed || d.Remaining != 2-i {
			t.Fatalf("request %d: %+v (%v)", i, d, err)
		}
	}
	if d, err := limiter.Allow(ctx, key, limit); err != nil || d.Allowed {
		t.Fatalf("expected denial: %+v (%v)", d, err)
	}
}
