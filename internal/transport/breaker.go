package transport

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a target's breaker rejects the call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	// StateClosed - normal operation, fetches pass through
	StateClosed State = iota

	// StateOpen - the target failed repeatedly, fetches fail immediately
	StateOpen

	// StateHalfOpen - probing whether the target recovered
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type BreakerConfig struct {
	MaxFailures     int           // Default: 5
	Timeout         time.Duration // How long to stay open. Default: 30 seconds
	HalfOpenSuccess int           // Default: 1
}

// Breaker guards a single backend target.
type Breaker struct {
	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	lastStateChange time.Time

	maxFailures     int
	timeout         time.Duration
	halfOpenSuccess int
	clock           func() time.Time
}

func NewBreaker(cfg BreakerConfig, clock func() time.Time) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenSuccess <= 0 {
		cfg.HalfOpenSuccess = 1
	}
	if clock == nil {
		clock = time.Now
	}

	return &Breaker{
		state:           StateClosed,
		maxFailures:     cfg.MaxFailures,
		timeout:         cfg.Timeout,
		halfOpenSuccess: cfg.HalfOpenSuccess,
		clock:           clock,
		lastStateChange: clock(),
	}
}

// Call runs fn unless the breaker is open. Errors for which countable returns false
// (a missing file, a canceled client) pass through without tripping the breaker.
func (b *Breaker) Call(fn func() error, countable func(error) bool) error {
	if !b.allow() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		if countable(err) {
			b.onFailure()
		}
		return err
	}
	b.onSuccess()
	return nil
}

// Available reports whether a call would currently be let through.
func (b *Breaker) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != StateOpen || b.clock().Sub(b.lastFailureTime) > b.timeout
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return true
	}
	if b.clock().Sub(b.lastFailureTime) > b.timeout {
		b.setState(StateHalfOpen)
		b.successCount = 0
		return true
	}
	return false
}

func (b *Breaker) onFailure() {
	b.failureCount++
	b.lastFailureTime = b.clock()

	if b.state == StateHalfOpen {
		// any failure while probing reopens
		b.setState(StateOpen)
		b.successCount = 0
	} else if b.failureCount >= b.maxFailures {
		b.setState(StateOpen)
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.halfOpenSuccess {
			b.setState(StateClosed)
			b.failureCount = 0
		}
	case StateClosed:
		b.failureCount = 0
	}
}

func (b *Breaker) setState(s State) {
	if b.state != s {
		b.state = s
		b.lastStateChange = b.clock()
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.lastStateChange = b.clock()
}

// BreakerSnapshot is the breaker state exposed on the admin endpoint.
type BreakerSnapshot struct {
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	LastFailureTime time.Time `json:"last_failure_time"`
	LastStateChange time.Time `json:"last_state_change"`
}

func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerSnapshot{
		State:           b.state.String(),
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
		LastStateChange: b.lastStateChange,
	}
}
