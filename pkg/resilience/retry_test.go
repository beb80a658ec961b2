package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       4,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.25,
	}
}

func TestRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), fastRetryConfig(), func(context.Context) (interface{}, error) {
		calls++
		return "ok", nil
	}, "test_op")

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestRetry_RecoversAfterFailures(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), fastRetryConfig(), func(context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return 42, nil
	}, "test_op")

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("still down")
	calls := 0
	_, err := Retry(context.Background(), fastRetryConfig(), func(context.Context) (interface{}, error) {
		calls++
		return nil, sentinel
	}, "test_op")

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 4, calls)
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, fastRetryConfig(), func(context.Context) (interface{}, error) {
		calls++
		cancel()
		return nil, errors.New("failing")
	}, "test_op")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	cfg := fastRetryConfig()
	permanent := errors.New("bad request")
	cfg.RetryableChecker = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	_, err := Retry(context.Background(), cfg, func(context.Context) (interface{}, error) {
		calls++
		return nil, permanent
	}, "test_op")

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDispatchRetryConfig(t *testing.T) {
	cfg := DispatchRetryConfig()
	assert.Equal(t, 4, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 5*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	assert.Equal(t, 0.25, cfg.JitterFraction)
}

func TestCalculateBackoff_JitterBounds(t *testing.T) {
	cfg := DispatchRetryConfig()

	// Attempt 1: 250ms +/- 25%.
	for i := 0; i < 100; i++ {
		backoff := calculateBackoff(1, cfg)
		assert.GreaterOrEqual(t, backoff, time.Duration(float64(250*time.Millisecond)*0.75))
		assert.LessOrEqual(t, backoff, time.Duration(float64(250*time.Millisecond)*1.25))
	}

	// Deep attempts cap at MaxBackoff before jitter.
	for i := 0; i < 100; i++ {
		backoff := calculateBackoff(10, cfg)
		assert.LessOrEqual(t, backoff, time.Duration(float64(5*time.Second)*1.25))
	}
}

func TestCalculateBackoff_Doubles(t *testing.T) {
	cfg := fastRetryConfig()
	cfg.JitterFraction = 0

	assert.Equal(t, time.Millisecond, calculateBackoff(1, cfg))
	assert.Equal(t, 2*time.Millisecond, calculateBackoff(2, cfg))
	assert.Equal(t, 4*time.Millisecond, calculateBackoff(3, cfg))
	assert.Equal(t, 8*time.Millisecond, calculateBackoff(4, cfg))
	// Capped.
	assert.Equal(t, 10*time.Millisecond, calculateBackoff(5, cfg))
}
