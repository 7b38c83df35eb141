// Package resilience wraps calls to external lookup services with retry
// and circuit breaking.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the breaker position.
type CircuitState int

const (
	// CircuitClosed lets requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects everything until the reset timeout passes.
	CircuitOpen
	// CircuitHalfOpen admits one probe to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen rejects calls while the breaker is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

const (
	defaultFailureThreshold = 5
	defaultResetTimeout     = 30 * time.Second
)

// CircuitBreakerConfig tunes one breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold opens the circuit after this many failures in a
	// row. Default: 5.
	FailureThreshold int

	// ResetTimeout is the open window before a probe is allowed.
	// Default: 30s.
	ResetTimeout time.Duration

	// ShouldTrip decides which errors count. Nil counts every non-nil
	// error.
	ShouldTrip func(err error) bool

	// OnStateChange observes transitions.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the settings used for lookup
// services.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: defaultFailureThreshold,
		ResetTimeout:     defaultResetTimeout,
	}
}

// CircuitBreaker guards one external service. A single successful probe
// in half-open closes it again.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu          sync.Mutex
	state       CircuitState
	streak      int // consecutive counted failures
	lastFailure time.Time

	now func() time.Time
}

// NewCircuitBreaker builds a breaker, filling config defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute runs fn through the breaker, returning ErrCircuitOpen while
// calls are being rejected.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.observe(err)
	return err
}

// ExecuteVal is Execute for functions that return a value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.admit(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	cb.observe(err)
	return val, err
}

// State reports the effective state, surfacing half-open once the open
// window has lapsed even before a probe arrives.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.windowLapsed() {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears the failure streak.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.streak = 0
	if cb.state != CircuitClosed {
		cb.shift(CircuitClosed)
	}
}

func (cb *CircuitBreaker) windowLapsed() bool {
	return cb.now().Sub(cb.lastFailure) >= cb.cfg.ResetTimeout
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitOpen {
		return nil
	}
	if cb.windowLapsed() {
		cb.shift(CircuitHalfOpen)
		return nil
	}
	return ErrCircuitOpen
}

func (cb *CircuitBreaker) observe(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	counts := err != nil
	if counts && cb.cfg.ShouldTrip != nil {
		counts = cb.cfg.ShouldTrip(err)
	}
	if !counts {
		if cb.state == CircuitHalfOpen {
			cb.shift(CircuitClosed)
		}
		cb.streak = 0
		return
	}

	cb.streak++
	cb.lastFailure = cb.now()

	switch cb.state {
	case CircuitHalfOpen:
		// A failed probe restarts the open window.
		cb.shift(CircuitOpen)
	case CircuitClosed:
		if cb.streak >= cb.cfg.FailureThreshold {
			cb.shift(CircuitOpen)
		}
	}
}

func (cb *CircuitBreaker) shift(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// BreakerSet keys breakers by service or host name.
type BreakerSet struct {
	cfg CircuitBreakerConfig

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet builds an empty set sharing one config.
func NewBreakerSet(cfg CircuitBreakerConfig) *BreakerSet {
	return &BreakerSet{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for name, creating it on first use.
func (bs *BreakerSet) Get(name string) *CircuitBreaker {
	bs.mu.RLock()
	cb := bs.breakers[name]
	bs.mu.RUnlock()
	if cb != nil {
		return cb
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if cb = bs.breakers[name]; cb == nil {
		cb = NewCircuitBreaker(bs.cfg)
		bs.breakers[name] = cb
	}
	return cb
}

// States snapshots every breaker's effective state.
func (bs *BreakerSet) States() map[string]CircuitState {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	out := make(map[string]CircuitState, len(bs.breakers))
	for name, cb := range bs.breakers {
		out[name] = cb.State()
	}
	return out
}
