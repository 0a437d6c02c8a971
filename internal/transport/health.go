package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/logging"
	"go.uber.org/zap"
)

// TargetHealth is the last known health of one backend target.
type TargetHealth struct {
	Target       string    `json:"target"`
	IsHealthy    bool      `json:"is_healthy"`
	LastCheck    time.Time `json:"last_check"`
	LastSuccess  time.Time `json:"last_success"`
	LastFailure  time.Time `json:"last_failure"`
	FailureCount int       `json:"failure_count"`
}

// Overall summarizes the health of every target.
type Overall int

const (
	Healthy Overall = iota
	Degraded
	Unhealthy
)

func (h Overall) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

type HealthConfig struct {
	Targets     []string
	Endpoint    string        // probed path, e.g. "/health"
	Interval    time.Duration // default: 10s
	Timeout     time.Duration // default: 5s
	MaxFailures int           // failures before a target is skipped, default: 3
	Client      *http.Client
	Logger      *zap.Logger
	Clock       func() time.Time
}

// HealthChecker probes every target periodically and tracks which ones may receive fetches.
type HealthChecker struct {
	mu          sync.RWMutex
	targets     []string
	status      map[string]*TargetHealth
	healthy     []string
	endpoint    string
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	client      *http.Client
	logger      *zap.Logger
	clock       func() time.Time
}

func NewHealthChecker(cfg HealthConfig) *HealthChecker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/health"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	h := &HealthChecker{
		targets:     append([]string(nil), cfg.Targets...),
		status:      make(map[string]*TargetHealth, len(cfg.Targets)),
		healthy:     append([]string(nil), cfg.Targets...),
		endpoint:    cfg.Endpoint,
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		maxFailures: cfg.MaxFailures,
		client:      cfg.Client,
		logger:      logging.OrNop(cfg.Logger),
		clock:       cfg.Clock,
	}

	// targets start healthy until a probe says otherwise
	now := h.clock()
	for _, target := range cfg.Targets {
		h.status[target] = &TargetHealth{Target: target, IsHealthy: true, LastCheck: now}
	}

	return h
}

// Run probes all targets immediately and then every interval until ctx is done.
func (h *HealthChecker) Run(ctx context.Context) error {
	h.logger.Info("starting transport health checks",
		zap.Int("targets", len(h.targets)),
		zap.Duration("interval", h.interval),
	)

	h.CheckAll(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			h.logger.Info("transport health checks stopped")
			return nil
		}
	}
}

// CheckAll probes every target once, concurrently.
func (h *HealthChecker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, target := range h.targets {
		wg.Add(1)
		go func(t string) {
			defer wg.Done()
			h.check(ctx, t)
		}(target)
	}
	wg.Wait()

	h.updateHealthy()
}

func (h *HealthChecker) check(ctx context.Context, target string) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+h.endpoint, nil)
	if err != nil {
		h.recordFailure(target)
		return
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.recordFailure(target)
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		h.recordSuccess(target)
	} else {
		h.recordFailure(target)
	}
}

func (h *HealthChecker) recordSuccess(target string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock()
	status := h.status[target]
	status.LastCheck = now
	status.LastSuccess = now
	status.FailureCount = 0

	if !status.IsHealthy {
		h.logger.Info("transport target recovered", zap.String("target", target))
		status.IsHealthy = true
	}
}

func (h *HealthChecker) recordFailure(target string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock()
	status := h.status[target]
	status.LastCheck = now
	status.LastFailure = now
	status.FailureCount++

	if status.IsHealthy && status.FailureCount >= h.maxFailures {
		h.logger.Warn("transport target unhealthy",
			zap.String("target", target),
			zap.Int("failures", status.FailureCount),
		)
		status.IsHealthy = false
	}
}

func (h *HealthChecker) updateHealthy() {
	h.mu.Lock()
	defer h.mu.Unlock()

	healthy := make([]string, 0, len(h.targets))
	for _, target := range h.targets {
		if h.status[target].IsHealthy {
			healthy = append(healthy, target)
		}
	}
	h.healthy = healthy
}

// HealthyTargets returns a copy of the targets currently considered healthy.
func (h *HealthChecker) HealthyTargets() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.healthy...)
}

// Targets returns a copy of every target status in configuration order.
func (h *HealthChecker) Targets() []TargetHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]TargetHealth, 0, len(h.targets))
	for _, target := range h.targets {
		out = append(out, *h.status[target])
	}
	return out
}

func (h *HealthChecker) Overall() Overall {
	h.mu.RLock()
	defer h.mu.RUnlock()

	switch {
	case len(h.healthy) == 0:
		return Unhealthy
	case len(h.healthy) < len(h.targets):
		return Degraded
	default:
		return Healthy
	}
}
