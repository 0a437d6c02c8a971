package earning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/apperr"
	"github.com/aman-churiwal/media-gateway/internal/lock"
	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/aman-churiwal/media-gateway/internal/quota"
	"github.com/aman-churiwal/media-gateway/internal/repository"
	"github.com/aman-churiwal/media-gateway/internal/storage"
	"github.com/aman-churiwal/media-gateway/internal/storage/storagetest"
)

type fixture struct {
	svc    *Service
	now    time.Time
	active *models.Publisher
	idle   *models.Publisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, storagetest.NewDatabase(t))
}

func newFixtureOn(t *testing.T, db *storage.Database) *fixture {
	t.Helper()
	locks := lock.New(lock.Config{Database: db, Timeout: 10 * time.Second})

	active := &models.Publisher{Email: "active@example.com", IsActive: true}
	idle := &models.Publisher{Email: "idle@example.com", IsActive: true}
	for _, p := range []*models.Publisher{active, idle} {
		if err := db.DB.Create(p).Error; err != nil {
			t.Fatalf("create publisher: %v", err)
		}
	}
	db.DB.Model(idle).Update("is_active", false)

	f := &fixture{now: time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC), active: active, idle: idle}
	f.svc = NewService(Config{
		Database:   db,
		Locks:      locks,
		Quotas:     quota.NewStore(quota.Config{Database: db, Locks: locks}),
		Publishers: repository.NewPublisherRepository(db),
		Clock:      func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) claim(handle string, limit int64) Claim {
	return Claim{PublisherID: f.active.ID, DeviceID: "device-1", ContentHandle: handle, PlanID: 7, MonthlyLimit: limit}
}

func TestEvaluateDailyUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Evaluate(ctx, f.claim("abc", 10))
	if err != nil || !first.Eligible || first.MonthlyCount != 1 || first.Remaining != 9 {
		t.Fatalf("first claim: %+v (%v)", first, err)
	}

	again, err := f.svc.Evaluate(ctx, f.claim("abc", 10))
	if err != nil || again.Eligible || again.Reason != ReasonAlreadyEarned {
		t.Fatalf("repeat claim: %+v (%v)", again, err)
	}

	f.now = f.now.Add(24 * time.Hour)
	next, err := f.svc.Evaluate(ctx, f.claim("abc", 10))
	if err != nil || !next.Eligible || next.MonthlyCount != 2 {
		t.Fatalf("next day claim: %+v (%v)", next, err)
	}
}

func TestEvaluateMonthlyCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, handle := range []string{"a", "b"} {
		if d, err := f.svc.Evaluate(ctx, f.claim(handle, 2)); err != nil || !d.Eligible {
			t.Fatalf("claim %s: %+v (%v)", handle, d, err)
		}
	}

	capped, err := f.svc.Evaluate(ctx, f.claim("c", 2))
	if err != nil || capped.Eligible || capped.Reason != ReasonMonthlyCap || capped.Remaining != 0 {
		t.Fatalf("expected monthly cap, got %+v (%v)", capped, err)
	}

	f.now = time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	if d, err := f.svc.Evaluate(ctx, f.claim("c", 2)); err != nil || !d.Eligible || d.MonthlyCount != 1 {
		t.Fatalf("new month must reset the cap: %+v (%v)", d, err)
	}
}

func TestEvaluateIneligible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if d, err := f.svc.Evaluate(ctx, f.claim("abc", 0)); err != nil || d.Eligible || d.Reason != ReasonNoMonthlyCap {
		t.Fatalf("plans without a cap never earn: %+v (%v)", d, err)
	}

	idle := f.claim("abc", 5)
	idle.PublisherID = f.idle.ID
	if d, err := f.svc.Evaluate(ctx, idle); err != nil || d.Eligible || d.Reason != ReasonInactive {
		t.Fatalf("inactive publishers never earn: %+v (%v)", d, err)
	}

	missing := f.claim("abc", 5)
	missing.PublisherID = 999
	if _, err := f.svc.Evaluate(ctx, missing); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	incomplete := f.claim("", 5)
	if _, err := f.svc.Evaluate(ctx, incomplete); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestConcurrentClaimsAcrossPlansEarnOnce(t *testing.T) {
	assertClaimsAcrossPlansEarnOnce(t, newFixture(t))
}

// Runs against a real server when MEDIAGW_TEST_POSTGRES_DSN is set.
func TestPostgresConcurrentClaimsAcrossPlansEarnOnce(t *testing.T) {
	assertClaimsAcrossPlansEarnOnce(t, newFixtureOn(t, storagetest.NewPostgres(t)))
}

// Claims differing only in plan share one daily earning.
func assertClaimsAcrossPlansEarnOnce(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()

	const plans = 8
	decisions := make([]Decision, plans)
	errs := make([]error, plans)
	var wg sync.WaitGroup
	for i := range plans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim := f.claim("abc", 10)
			claim.PlanID = uint(i + 1)
			decisions[i], errs[i] = f.svc.Evaluate(ctx, claim)
		}()
	}
	wg.Wait()

	eligible := 0
	for i, d := range decisions {
		if errs[i] != nil {
			t.Fatalf("plan %d: %v", i+1, errs[i])
		}
		switch {
		case d.Eligible:
			eligible++
		case d.Reason != ReasonAlreadyEarned:
			t.Fatalf("plan %d: unexpected decision %+v", i+1, d)
		}
	}
	if eligible != 1 {
		t.Fatalf("expected exactly one earning, got %d", eligible)
	}
}
