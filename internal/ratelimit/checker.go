package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/apperr"
	"github.com/aman-churiwal/media-gateway/internal/config"
	"github.com/aman-churiwal/media-gateway/internal/logging"
	"github.com/aman-churiwal/media-gateway/internal/metrics"
	"go.uber.org/zap"
)

type CheckerConfig struct {
	Limiter  Limiter
	Limits   *config.LimitResolver
	Fallback Limiter // nil disables degraded mode
	Clock    func() time.Time
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Checker resolves the limit for a route and asks the shared limiter for a decision.
type Checker struct {
	limiter  Limiter
	limits   *config.LimitResolver
	fallback Limiter
	clock    func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewChecker(cfg CheckerConfig) *Checker {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	limits := cfg.Limits
	if limits == nil {
		limits = config.NewLimitResolver()
	}

	return &Checker{
		limiter:  cfg.Limiter,
		limits:   limits,
		fallback: cfg.Fallback,
		clock:    clock,
		logger:   logging.OrNop(cfg.Logger),
		metrics:  cfg.Metrics,
	}
}

// CheckRate admits or rejects one request from identity on route.
// Store failures surface as apperr.ErrLockUnavailable unless a fallback limiter is configured.
func (c *Checker) CheckRate(ctx context.Context, identity, route string) (Decision, error) {
	limit, err := c.limits.Resolve(ctx, route)
	if err != nil {
		return c.degrade(ctx, identity, route, config.DefaultLimit, err)
	}
	if limit.Requests == 0 {
		c.metrics.RateDecision(route, true)
		return unbounded(c.clock(), limit.Window), nil
	}

	decision, err := c.limiter.Allow(ctx, sampleKey(identity, route), limit)
	if err != nil {
		return c.degrade(ctx, identity, route, limit, err)
	}

	c.metrics.RateDecision(route, decision.Allowed)
	return decision, nil
}

func (c *Checker) degrade(ctx context.Context, identity, route string, limit config.Limit, cause error) (Decision, error) {
	if c.fallback == nil || ctx.Err() != nil {
		if !errors.Is(cause, apperr.ErrLockUnavailable) {
			cause = fmt.Errorf("rate check: %w: %w", apperr.ErrLockUnavailable, cause)
		}
		return Decision{}, cause
	}

	if limit.Requests == 0 {
		return unbounded(c.clock(), limit.Window), nil
	}

	decision, err := c.fallback.Allow(ctx, sampleKey(identity, route), limit)
	if err != nil {
		return Decision{}, fmt.Errorf("degraded rate check: %w: %w", apperr.ErrLockUnavailable, err)
	}

	c.logger.Warn("rate limit store unavailable, using local limiter",
		zap.String("route", route),
		zap.Bool("allowed", decision.Allowed),
		zap.Error(cause),
	)
	c.metrics.RateDecision(route, decision.Allowed)
	return decision, nil
}

func sampleKey(identity, route string) string {
	return identity + "|" + route
}
