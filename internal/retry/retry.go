package retry

import (
	"context"
	"math"
	"time"

	"github.com/trail-importer/internal/logging"
)

// RetryConfig configures exponential retry behavior
type RetryConfig struct {
	MaxAttempts  int           // Maximum number of attempts, including the first
	InitialDelay time.Duration // Delay after the first failed attempt
	MaxDelay     time.Duration // Maximum delay between attempts
	Multiplier   float64       // Multiplier for exponential backoff
}

// BackoffFunc returns the wait after the given failed attempt (1-based)
type BackoffFunc func(attempt int) time.Duration

// PowerOfTwoSeconds waits 2^attempt seconds after each failed attempt
func PowerOfTwoSeconds(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	return time.Duration(1<<uint(attempt)) * time.Second
}

// NoBackoff retries immediately
func NoBackoff(int) time.Duration { return 0 }

// ExponentialBackoff builds a BackoffFunc from a RetryConfig
func ExponentialBackoff(config *RetryConfig) BackoffFunc {
	return func(attempt int) time.Duration {
		return calculateDelay(config, attempt)
	}
}

// Policy is the reusable retry definition shared by the batch inserter and fetchers
type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc
	// Retryable decides whether a failed attempt may be retried. Nil retries every error.
	Retryable func(error) bool
	// Operation names the retried call in logs
	Operation string
}

// RetryResult contains information about the retry operation
type RetryResult struct {
	Attempts      int           `json:"attempts"`
	Success       bool          `json:"success"`
	TotalDuration time.Duration `json:"totalDuration"`
	LastError     error         `json:"lastError,omitempty"`
	// Aborted is set when retries stopped early on a non-retryable error or cancellation
	Aborted bool `json:"aborted"`
}

// RetryFunc is a function that can be retried
type RetryFunc func(ctx context.Context, attempt int) error

// Do runs fn until it succeeds, returns a non-retryable error, the context ends,
// or MaxAttempts calls have been made.
func Do(ctx context.Context, policy Policy, fn RetryFunc) *RetryResult {
	logger := logging.FromContext(ctx)
	startTime := time.Now()

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := policy.Backoff
	if backoff == nil {
		backoff = NoBackoff
	}

	result := &RetryResult{}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			result.LastError = err
			result.Aborted = true
			break
		}

		result.Attempts = attempt
		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.LastError = nil
			result.TotalDuration = time.Since(startTime)
			if attempt > 1 {
				logger.WithFields(map[string]interface{}{
					"operation":     policy.Operation,
					"attempts":      attempt,
					"totalDuration": result.TotalDuration,
				}).Info("Operation succeeded after retry")
			}
			return result
		}

		result.LastError = err

		if policy.Retryable != nil && !policy.Retryable(err) {
			result.Aborted = true
			logger.WithError(err).WithField("operation", policy.Operation).
				Debug("Operation failed with non-retryable error")
			break
		}

		if attempt >= maxAttempts {
			logger.WithFields(map[string]interface{}{
				"operation":     policy.Operation,
				"attempts":      attempt,
				"totalDuration": time.Since(startTime),
				"error":         err.Error(),
			}).Error("Operation failed after max retry attempts")
			break
		}

		delay := backoff(attempt)
		logger.WithFields(map[string]interface{}{
			"operation":   policy.Operation,
			"attempt":     attempt,
			"maxAttempts": maxAttempts,
			"delay":       delay,
			"error":       err.Error(),
		}).Warn("Operation failed, retrying with backoff")

		if err := Sleep(ctx, delay); err != nil {
			logger.WithError(err).Warn("Retry cancelled during backoff")
			result.LastError = err
			result.Aborted = true
			break
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// calculateDelay calculates the delay for the next retry attempt
func calculateDelay(config *RetryConfig, attempt int) time.Duration {
	// initialDelay * multiplier^(attempt-1)
	delay := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))

	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	return time.Duration(delay)
}
