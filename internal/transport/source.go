// Package transport fetches fixed-size chunks of stored files from the backend file servers.
//
// Fetches are spread over the configured targets by a load balancing strategy. Each target has
// its own circuit breaker, and a background health checker removes dead targets from rotation.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/apperr"
	"github.com/aman-churiwal/media-gateway/internal/logging"
	"github.com/aman-churiwal/media-gateway/internal/metrics"
	"go.uber.org/zap"
)

// ErrNoTarget is returned when every target is unhealthy or tripped.
var ErrNoTarget = errors.New("no transport target available")

type Config struct {
	Targets        []string
	Strategy       string
	FilePathPrefix string // joined between the target and the locator, e.g. "/file"
	Timeout        time.Duration
	Breaker        BreakerConfig
	Health         HealthConfig
	Client         *http.Client
	Clock          func() time.Time
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

type Source struct {
	targets  []string
	prefix   string
	timeout  time.Duration
	client   *http.Client
	strategy Strategy
	breakers map[string]*Breaker
	health   *HealthChecker
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func New(cfg Config) (*Source, error) {
	if len(cfg.Targets) == 0 {
		return nil, errors.New("at least one transport target is required")
	}
	for _, target := range cfg.Targets {
		if _, err := url.Parse(target); err != nil {
			return nil, fmt.Errorf("invalid transport target %q: %w", target, err)
		}
	}

	strategy, err := NewStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}

	logger := logging.OrNop(cfg.Logger)

	breakers := make(map[string]*Breaker, len(cfg.Targets))
	for _, target := range cfg.Targets {
		breakers[target] = NewBreaker(cfg.Breaker, cfg.Clock)
	}

	healthCfg := cfg.Health
	healthCfg.Targets = cfg.Targets
	if healthCfg.Client == nil {
		healthCfg.Client = cfg.Client
	}
	if healthCfg.Logger == nil {
		healthCfg.Logger = logger
	}
	if healthCfg.Clock == nil {
		healthCfg.Clock = cfg.Clock
	}

	logger.Info("transport initialized",
		zap.Int("targets", len(cfg.Targets)),
		zap.String("strategy", strategy.Name()),
	)

	return &Source{
		targets:  cfg.Targets,
		prefix:   cfg.FilePathPrefix,
		timeout:  cfg.Timeout,
		client:   cfg.Client,
		strategy: strategy,
		breakers: breakers,
		health:   NewHealthChecker(healthCfg),
		logger:   logger,
		metrics:  cfg.Metrics,
	}, nil
}

// Run keeps the target health up to date until ctx is done.
func (s *Source) Run(ctx context.Context) error {
	return s.health.Run(ctx)
}

// FetchChunk returns up to size bytes of the file at locator starting at offset.
// Fewer bytes come back only at the end of the file. A target that fails is skipped
// and the next one tried; a missing file is not retried.
func (s *Source) FetchChunk(ctx context.Context, locator string, offset, size int64) ([]byte, error) {
	candidates := s.available()
	if len(candidates) == 0 {
		return nil, ErrNoTarget
	}

	var lastErr error
	for len(candidates) > 0 {
		target := s.strategy.Next(candidates)
		candidates = slices.DeleteFunc(candidates, func(t string) bool { return t == target })

		var chunk []byte
		err := s.breakers[target].Call(func() error {
			var err error
			chunk, err = s.fetch(ctx, target, locator, offset, size)
			return err
		}, func(err error) bool {
			return ctx.Err() == nil &&
				!errors.Is(err, apperr.ErrNotFound) &&
				!errors.Is(err, apperr.ErrRangeUnsatisfiable)
		})
		if err == nil {
			return chunk, nil
		}
		if ctx.Err() != nil || errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrRangeUnsatisfiable) {
			return nil, err
		}

		s.metrics.TransportFailure(target)
		s.logger.Warn("chunk fetch failed",
			zap.String("target", target),
			zap.String("locator", locator),
			zap.Int64("offset", offset),
			zap.Error(err),
		)
		lastErr = err
	}

	return nil, fmt.Errorf("fetch %s at %d: %w", locator, offset, lastErr)
}

func (s *Source) available() []string {
	healthy := s.health.HealthyTargets()
	return slices.DeleteFunc(healthy, func(t string) bool {
		return !s.breakers[t].Available()
	})
}

func (s *Source) fetch(ctx context.Context, target, locator string, offset, size int64) ([]byte, error) {
	if tracker, ok := s.strategy.(ConnectionTracker); ok {
		tracker.Increment(target)
		defer tracker.Decrement(target)
	}

	fileURL, err := url.JoinPath(target, s.prefix, locator)
	if err != nil {
		return nil, fmt.Errorf("build file url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+size-1))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK:
		// backend ignored the range; skip to the offset ourselves
		if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
			return nil, fmt.Errorf("skip to offset %d: %w", offset, err)
		}
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("file %s: %w", locator, apperr.ErrNotFound)
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return nil, fmt.Errorf("file %s at %d: %w", locator, offset, apperr.ErrRangeUnsatisfiable)
	default:
		return nil, fmt.Errorf("backend %s returned %d", target, resp.StatusCode)
	}

	chunk, err := io.ReadAll(io.LimitReader(resp.Body, size))
	if err != nil {
		return nil, fmt.Errorf("read chunk: %w", err)
	}
	return chunk, nil
}

// TargetStatus combines a target's health and breaker state.
type TargetStatus struct {
	TargetHealth
	Breaker BreakerSnapshot `json:"breaker"`
}

type Status struct {
	Strategy string         `json:"strategy"`
	Overall  string         `json:"overall"`
	Targets  []TargetStatus `json:"targets"`
}

func (s *Source) Status() Status {
	health := s.health.Targets()
	targets := make([]TargetStatus, 0, len(health))
	for _, h := range health {
		targets = append(targets, TargetStatus{
			TargetHealth: h,
			Breaker:      s.breakers[h.Target].Snapshot(),
		})
	}

	return Status{
		Strategy: s.strategy.Name(),
		Overall:  s.health.Overall().String(),
		Targets:  targets,
	}
}

// ResetBreakers closes every breaker, for operators after a backend outage.
func (s *Source) ResetBreakers() {
	for _, b := range s.breakers {
		b.Reset()
	}
}
