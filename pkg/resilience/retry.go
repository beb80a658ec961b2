package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/roadcall/roadside-dispatch/pkg/logger"
	"go.uber.org/zap"
)

// Operation is a call wrapped by the retry policy or circuit breaker.
type Operation func(ctx context.Context) (interface{}, error)

// RetryConfig defines the configuration for retry behavior
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first)
	MaxAttempts int
	// InitialBackoff is the initial backoff duration
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration
	MaxBackoff time.Duration
	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64
	// JitterFraction randomizes each backoff by ±fraction (0.25 = ±25%)
	JitterFraction float64
	// RetryableChecker determines if an error is retryable; nil retries
	// everything except context cancellation
	RetryableChecker func(error) bool
}

// DispatchRetryConfig is the policy applied to every outbound call made by
// the dispatch engine: directory queries, store writes and event publishes.
func DispatchRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       4,
		InitialBackoff:    250 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.25,
	}
}

// Retry executes the operation with exponential backoff and records metrics
// under the given operation name.
func Retry(ctx context.Context, config RetryConfig, operation Operation, operationName string) (interface{}, error) {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	startTime := time.Now()
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			recordRetryOperation(operationName, time.Since(startTime).Seconds(), false)
			return nil, ctx.Err()
		default:
		}

		result, err := operation(ctx)
		if err == nil {
			recordRetryOperation(operationName, time.Since(startTime).Seconds(), true)
			if attempt > 1 {
				logger.Get().Info("operation succeeded after retry",
					zap.Int("attempt", attempt),
					zap.String("operation", operationName),
				)
			}
			return result, nil
		}

		lastErr = err
		recordRetryAttempt(operationName)

		if !shouldRetry(err, config) {
			recordRetryOperation(operationName, time.Since(startTime).Seconds(), false)
			return nil, err
		}

		if attempt == config.MaxAttempts {
			logger.Get().Warn("operation failed after all retry attempts",
				zap.Error(err),
				zap.Int("attempts", attempt),
				zap.String("operation", operationName),
			)
			break
		}

		backoff := calculateBackoff(attempt, config)

		logger.Get().Debug("retrying operation after backoff",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.String("operation", operationName),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			recordRetryOperation(operationName, time.Since(startTime).Seconds(), false)
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	recordRetryOperation(operationName, time.Since(startTime).Seconds(), false)
	return nil, lastErr
}

// calculateBackoff computes initial * multiplier^(attempt-1), capped at
// MaxBackoff, with symmetric jitter applied after the cap.
func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	backoff := float64(config.InitialBackoff) * math.Pow(config.BackoffMultiplier, float64(attempt-1))

	if backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}

	if config.JitterFraction > 0 {
		// Uniform in [1-f, 1+f] so herds spread without losing the cap's
		// order of magnitude.
		factor := 1 + config.JitterFraction*(2*rand.Float64()-1)
		backoff *= factor
	}

	return time.Duration(backoff)
}

func shouldRetry(err error, config RetryConfig) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) {
		return false
	}

	if config.RetryableChecker != nil {
		return config.RetryableChecker(err)
	}

	return true
}
