package errorrecovery

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig defines the configuration for retry logic
type RetryConfig struct {
	MaxRetries    int           // Retries after the first attempt
	InitialDelay  time.Duration // Delay before the first retry
	MaxDelay      time.Duration // Upper bound on any single delay
	BackoffFactor float64       // Exponential backoff factor
	JitterFactor  float64       // Random jitter factor (0.0 to 1.0)

	// Retryable decides whether an error is worth another attempt.
	// Nil retries every error.
	Retryable func(error) bool
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// IsRetryableError checks if an error should trigger a retry
func (c *RetryConfig) IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if c.Retryable == nil {
		return true
	}
	return c.Retryable(err)
}

// RetryableFunc represents a function that can be retried
type RetryableFunc func() error

// RetryResult contains the result of a retry operation
type RetryResult struct {
	Attempts int
	Duration time.Duration
	Error    error
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted.
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc) RetryResult {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return RetryResult{Attempts: attempt, Duration: time.Since(start), Error: err}
		}

		err := fn()
		if err == nil {
			return RetryResult{Attempts: attempt + 1, Duration: time.Since(start)}
		}
		lastErr = err

		if attempt == config.MaxRetries || !config.IsRetryableError(err) {
			return RetryResult{Attempts: attempt + 1, Duration: time.Since(start), Error: lastErr}
		}

		timer := time.NewTimer(calculateDelay(config, attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return RetryResult{Attempts: attempt + 1, Duration: time.Since(start), Error: ctx.Err()}
		}
	}

	return RetryResult{Attempts: config.MaxRetries + 1, Duration: time.Since(start), Error: lastErr}
}

// calculateDelay calculates the delay for the next retry attempt
func calculateDelay(config RetryConfig, attempt int) time.Duration {
	// initial_delay * (backoff_factor ^ attempt)
	delay := float64(config.InitialDelay) * math.Pow(config.BackoffFactor, float64(attempt))

	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.JitterFactor > 0 {
		jitterRange := delay * config.JitterFactor
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
	}

	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}
