package resilience

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
	defaultMultiplier     = 2.0
	defaultJitterFraction = 0.25
)

// RetryConfig tunes the retry loop.
type RetryConfig struct {
	// MaxAttempts counts the first try. Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	// Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay growth. Default: 30s.
	MaxBackoff time.Duration

	// Multiplier scales the delay each attempt. Default: 2.
	Multiplier float64

	// JitterFraction spreads each delay by +/- this fraction of
	// itself. Zero disables jitter.
	JitterFraction float64

	// ShouldRetry decides whether an error is worth another attempt.
	// Nil means IsTransient.
	ShouldRetry func(err error) bool

	// OnRetry fires before each backoff sleep with the attempt number
	// that just failed, starting at 1.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the settings used for lookup services.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    defaultMaxAttempts,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
		Multiplier:     defaultMultiplier,
		JitterFraction: defaultJitterFraction,
	}
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = defaultMultiplier
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

// Do runs fn until it succeeds, the error stops being retryable, the
// attempts run out, or ctx is cancelled.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions that return a value. On failure the zero
// value is returned alongside the last error.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	retryable := cfg.ShouldRetry
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) || attempt == cfg.MaxAttempts-1 {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr)
		}
		if !sleep(ctx, backoffDelay(attempt, cfg)) {
			break
		}
	}
	return zero, lastErr
}

// sleep waits for d, reporting false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// backoffDelay computes the sleep after the given zero-based attempt.
func backoffDelay(attempt int, cfg RetryConfig) time.Duration {
	d := float64(cfg.InitialBackoff)
	ceiling := float64(cfg.MaxBackoff)
	for i := 0; i < attempt; i++ {
		d *= cfg.Multiplier
		if d >= ceiling {
			d = ceiling
			break
		}
	}
	if cfg.JitterFraction > 0 {
		spread := cfg.JitterFraction * d
		d += (rand.Float64()*2 - 1) * spread
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// RetryLogger returns an OnRetry hook that logs each failed attempt for
// the named service.
func RetryLogger(service, operation string) func(attempt int, err error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
