package config

import (
	"context"
	"fmt"
	"time"
)

// DefaultLimit applies when neither a route nor a global limit is configured anywhere.
var DefaultLimit = Limit{Requests: 100, Window: time.Hour}

// LimitSource is one layer of rate-limit configuration.
type LimitSource interface {
	RouteLimit(ctx context.Context, route string) (Limit, bool, error)
	GlobalLimit(ctx context.Context) (Limit, bool, error)
}

// LimitResolver walks its sources in order: every source's route value first,
// then every source's global value, then DefaultLimit.
type LimitResolver struct {
	sources []LimitSource
}

func NewLimitResolver(sources ...LimitSource) *LimitResolver {
	return &LimitResolver{sources: sources}
}

func (r *LimitResolver) Resolve(ctx context.Context, route string) (Limit, error) {
	for _, src := range r.sources {
		limit, ok, err := src.RouteLimit(ctx, route)
		if err != nil {
			return Limit{}, fmt.Errorf("resolve limit for %s: %w", route, err)
		}
		if ok {
			return limit.normalized(), nil
		}
	}

	for _, src := range r.sources {
		limit, ok, err := src.GlobalLimit(ctx)
		if err != nil {
			return Limit{}, fmt.Errorf("resolve global limit: %w", err)
		}
		if ok {
			return limit.normalized(), nil
		}
	}

	return DefaultLimit, nil
}

func (l Limit) normalized() Limit {
	if l.Window <= 0 {
		l.Window = DefaultLimit.Window
	}
	if l.Requests < 0 {
		l.Requests = 0
	}
	return l
}

// StaticLimits serves limits from the loaded configuration file and environment.
type StaticLimits struct {
	cfg RateLimitConfig
}

func NewStaticLimits(cfg RateLimitConfig) *StaticLimits {
	return &StaticLimits{cfg: cfg}
}

func (s *StaticLimits) RouteLimit(_ context.Context, route string) (Limit, bool, error) {
	limit, ok := s.cfg.Routes[route]
	return limit, ok, nil
}

func (s *StaticLimits) GlobalLimit(context.Context) (Limit, bool, error) {
	if s.cfg.Global.Requests == 0 && s.cfg.Global.Window == 0 {
		return Limit{}, false, nil
	}
	return s.cfg.Global, true, nil
}
