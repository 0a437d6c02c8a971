package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/apperr"
	"github.com/aman-churiwal/media-gateway/internal/lock"
	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/aman-churiwal/media-gateway/internal/quota"
	"github.com/aman-churiwal/media-gateway/internal/repository"
	"github.com/aman-churiwal/media-gateway/internal/storage/storagetest"
	"github.com/google/go-cmp/cmp"
)

var testNow = time.Date(2026, 10, 17, 15, 30, 0, 0, time.UTC)

type fixture struct {
	dispatcher *Dispatcher
	quotas     *quota.Store
	networks   map[string]*models.AdNetwork
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storagetest.NewDatabase(t)
	locks := lock.New(lock.Config{Database: db, Timeout: 10 * time.Second})
	quotas := quota.NewStore(quota.Config{Database: db, Locks: locks})
	repo := repository.NewAdNetworkRepository(db)

	networks := map[string]*models.AdNetwork{
		"primary":  {Name: "primary", BannerUnitID: "ban-1", BannerDailyLimit: 2, RewardedUnitID: "rew-1", Priority: 1},
		"backup":   {Name: "backup", BannerUnitID: "ban-2", BannerDailyLimit: 1, Priority: 2},
		"rewarded": {Name: "rewarded", RewardedUnitID: "rew-3", Priority: 3},
	}
	for _, name := range []string{"backup", "primary", "rewarded"} {
		n := networks[name]
		n.IsActive = true
		if err := repo.Create(context.Background(), n); err != nil {
			t.Fatalf("create network: %v", err)
		}
	}

	d := New(Config{
		Database: db,
		Locks:    locks,
		Quotas:   quotas,
		Networks: repo,
		Clock:    func() time.Time { return testNow },
	})
	return &fixture{dispatcher: d, quotas: quotas, networks: networks}
}

func TestRequestGrantFallsThroughByPriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	device := Subject{DeviceID: "device-1", ClientIP: "198.51.100.1"}

	var got []string
	for range 4 {
		g, err := f.dispatcher.RequestGrant(ctx, models.AdTypeBanner, device)
		if err != nil {
			t.Fatalf("request grant: %v", err)
		}
		if g == nil {
			got = append(got, "none")
			continue
		}
		if len(g.Token) != 64 {
			t.Fatalf("unexpected grant token %q", g.Token)
		}
		got = append(got, g.NetworkName)
	}

	want := []string{"primary", "primary", "backup", "none"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("grant order mismatch (-want +got):\n%s", diff)
	}

	other, err := f.dispatcher.RequestGrant(ctx, models.AdTypeBanner, Subject{DeviceID: "device-2"})
	if err != nil || other == nil || other.NetworkName != "primary" {
		t.Fatalf("other subjects have their own caps: %+v (%v)", other, err)
	}
}

func TestRequestGrantUnlimitedNetwork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subject := Subject{ClientIP: "203.0.113.7"}

	for i := range 10 {
		g, err := f.dispatcher.RequestGrant(ctx, models.AdTypeRewarded, subject)
		if err != nil || g == nil {
			t.Fatalf("grant %d: %+v (%v)", i, g, err)
		}
		if g.NetworkName != "primary" || !g.Unlimited || g.Remaining != -1 || g.Count != int64(i+1) {
			t.Fatalf("grant %d: expected the unlimited primary network, got %+v", i, g)
		}
	}
}

func TestRequestGrantConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subject := Subject{DeviceID: "device-1"}

	var granted atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := f.dispatcher.RequestGrant(ctx, models.AdTypeBanner, subject)
			if err != nil {
				t.Errorf("request grant: %v", err)
				return
			}
			if g != nil {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if granted.Load() != 3 {
		t.Fatalf("expected exactly 3 grants across both capped networks, got %d", granted.Load())
	}
}

func TestRequestGrantValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.dispatcher.RequestGrant(ctx, "video", Subject{DeviceID: "d"}); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Fatalf("expected invalid ad type, got %v", err)
	}
	if _, err := f.dispatcher.RequestGrant(ctx, models.AdTypeBanner, Subject{}); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Fatalf("expected missing subject, got %v", err)
	}
	g, err := f.dispatcher.RequestGrant(ctx, models.AdTypeInterstitial, Subject{DeviceID: "d"})
	if err != nil || g != nil {
		t.Fatalf("no network carries interstitials: %+v (%v)", g, err)
	}
}

func TestMarkPlayedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subject := Subject{DeviceID: "device-1"}

	g, err := f.dispatcher.RequestGrant(ctx, models.AdTypeBanner, subject)
	if err != nil || g == nil {
		t.Fatalf("request grant: %+v (%v)", g, err)
	}

	first, err := f.dispatcher.MarkPlayed(ctx, g.Token, "device-1")
	if err != nil {
		t.Fatalf("mark played: %v", err)
	}
	second, err := f.dispatcher.MarkPlayed(ctx, g.Token, "device-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("replay payload differs (-first +second):\n%s", diff)
	}
	if first.PlayCount != 1 || first.NetworkName != "primary" || first.AdUnitID != "ban-1" {
		t.Fatalf("unexpected payload %+v", first)
	}

	plays, err := f.quotas.Peek(ctx, quota.Key{
		Subject: playCounter(f.networks["primary"].ID, models.AdTypeBanner, subject.Key()),
		Window:  quota.DayWindow(testNow),
	})
	if err != nil || plays != 1 {
		t.Fatalf("expected the play counter to move once, got %d (%v)", plays, err)
	}
}

func TestMarkPlayedRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, err := f.dispatcher.RequestGrant(ctx, models.AdTypeBanner, Subject{DeviceID: "device-1"})
	if err != nil || g == nil {
		t.Fatalf("request grant: %+v (%v)", g, err)
	}

	if _, err := f.dispatcher.MarkPlayed(ctx, g.Token, "device-2"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for another device, got %v", err)
	}
	if _, err := f.dispatcher.MarkPlayed(ctx, "unknown", "device-1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.dispatcher.MarkPlayed(ctx, "", "device-1"); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subject := Subject{DeviceID: "device-1"}

	g, err := f.dispatcher.RequestGrant(ctx, models.AdTypeBanner, subject)
	if err != nil || g == nil {
		t.Fatalf("request grant: %+v (%v)", g, err)
	}
	if _, err := f.dispatcher.MarkPlayed(ctx, g.Token, "device-1"); err != nil {
		t.Fatalf("mark played: %v", err)
	}

	limits, err := f.dispatcher.Limits(ctx, models.AdTypeBanner, subject)
	if err != nil {
		t.Fatalf("limits: %v", err)
	}

	want := []NetworkLimit{
		{NetworkID: f.networks["primary"].ID, NetworkName: "primary", AdType: "banner", AdUnitID: "ban-1", Priority: 1, DailyLimit: 2, Granted: 1, Played: 1, Remaining: 1},
		{NetworkID: f.networks["backup"].ID, NetworkName: "backup", AdType: "banner", AdUnitID: "ban-2", Priority: 2, DailyLimit: 1, Granted: 0, Played: 0, Remaining: 1},
	}
	if diff := cmp.Diff(want, limits); diff != "" {
		t.Fatalf("limits mismatch (-want +got):\n%s", diff)
	}

	all, err := f.dispatcher.Limits(ctx, "", subject)
	if err != nil {
		t.Fatalf("all limits: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected one row per network unit, got %d", len(all))
	}
}
