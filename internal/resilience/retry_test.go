package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastRetry keeps backoff sleeps in the low milliseconds.
func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestDo_FirstTrySucceeds(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("sparql endpoint busy"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		return NewTransientError(errors.New("still down"), 500)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorSkipsRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		return errors.New("malformed query")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-transient errors must not retry")
}

func TestDo_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	cfg := RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
		Multiplier:     2,
	}
	err := Do(ctx, cfg, func(context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return NewTransientError(errors.New("flaky"), 500)
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 3)
}

func TestDo_CustomShouldRetry(t *testing.T) {
	cfg := fastRetry(3)
	cfg.ShouldRetry = func(err error) bool { return err.Error() == "retry me" }

	var calls int
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("retry me")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_OnRetrySeesAttemptNumbers(t *testing.T) {
	var attempts []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, _ error) {
		attempts = append(attempts, attempt)
	}

	_ = Do(context.Background(), cfg, func(context.Context) error {
		return NewTransientError(errors.New("flaky"), 500)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoVal_ReturnsValue(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), fastRetry(3), func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", NewTransientError(errors.New("flaky"), 500)
		}
		return "pneumonia", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "pneumonia", val)
}

func TestDoVal_ZeroValueOnFailure(t *testing.T) {
	val, err := DoVal(context.Background(), fastRetry(2), func(context.Context) (int, error) {
		return 42, NewTransientError(errors.New("flaky"), 500)
	})
	require.Error(t, err)
	assert.Zero(t, val)
}

func TestBackoffDelay_Doubles(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
		JitterFraction: 0,
	}.withDefaults()

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}
	for attempt, expected := range want {
		assert.Equal(t, expected, backoffDelay(attempt, cfg), "attempt %d", attempt)
	}
}

func TestBackoffDelay_Capped(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Second,
		Multiplier:     10,
		JitterFraction: 0,
	}.withDefaults()

	assert.LessOrEqual(t, backoffDelay(5, cfg), 5*time.Second)
}

func TestBackoffDelay_JitterSpread(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		JitterFraction: 0.5,
	}.withDefaults()

	seen := make(map[time.Duration]bool)
	for range 100 {
		d := backoffDelay(0, cfg)
		seen[d] = true
		// 50% jitter on a 1s base lands in [500ms, 1500ms].
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
	assert.Greater(t, len(seen), 1, "jitter should vary the delay")
}

func TestRetryLogger_NoPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		RetryLogger("wikidata", "lookup")(1, errors.New("sparql timeout"))
	})
}
