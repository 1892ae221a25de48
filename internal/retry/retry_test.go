package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

var errTransient = errors.New("connection reset")

func TestDo_StopsAtMaxAttempts(t *testing.T) {
	calls := 0
	result := Do(context.Background(), Policy{MaxAttempts: 3, Backoff: NoBackoff}, func(ctx context.Context, attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		return errTransient
	})

	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, result.Attempts)
	assert.False(t, result.Success)
	assert.False(t, result.Aborted)
	assert.ErrorIs(t, result.LastError, errTransient)
}

func TestDo_SucceedsAfterRetry(t *testing.T) {
	calls := 0
	result := Do(context.Background(), Policy{MaxAttempts: 3}, func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 2 {
			return errTransient
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 2, calls)
	assert.NoError(t, result.LastError)
}

func TestDo_NonRetryableAbortsImmediately(t *testing.T) {
	permanent := errors.New("unique violation")
	calls := 0
	result := Do(context.Background(), Policy{
		MaxAttempts: 3,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}, func(ctx context.Context, attempt int) error {
		calls++
		return permanent
	})

	assert.Equal(t, 1, calls)
	assert.True(t, result.Aborted)
	assert.ErrorIs(t, result.LastError, permanent)
}

func TestDo_BackoffSchedule(t *testing.T) {
	var waits []int
	Do(context.Background(), Policy{
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			waits = append(waits, attempt)
			return 0
		},
	}, func(ctx context.Context, attempt int) error { return errTransient })

	// no wait after the final attempt
	assert.Equal(t, []int{1, 2}, waits)
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	result := Do(ctx, Policy{MaxAttempts: 3, Backoff: func(int) time.Duration { return time.Hour }}, func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return errTransient
	})

	assert.Equal(t, 1, calls)
	assert.True(t, result.Aborted)
	assert.ErrorIs(t, result.LastError, context.Canceled)
}

func TestPowerOfTwoSeconds(t *testing.T) {
	assert.Equal(t, 2*time.Second, PowerOfTwoSeconds(1))
	assert.Equal(t, 4*time.Second, PowerOfTwoSeconds(2))
	assert.Equal(t, 8*time.Second, PowerOfTwoSeconds(3))
}

func TestExponentialBackoff(t *testing.T) {
	backoff := ExponentialBackoff(&RetryConfig{InitialDelay: 2 * time.Second, MaxDelay: 5 * time.Second, Multiplier: 2})

	assert.Equal(t, 2*time.Second, backoff(1))
	assert.Equal(t, 4*time.Second, backoff(2))
	assert.Equal(t, 5*time.Second, backoff(3), "capped at MaxDelay")
}

// Property: a permanently failing operation is called exactly MaxAttempts times
func TestRetryBoundProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("attempts equal the configured maximum", prop.ForAll(
		func(maxAttempts int) bool {
			calls := 0
			result := Do(context.Background(), Policy{MaxAttempts: maxAttempts}, func(ctx context.Context, attempt int) error {
				calls++
				return errTransient
			})
			return calls == maxAttempts && result.Attempts == maxAttempts && !result.Success
		},
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
