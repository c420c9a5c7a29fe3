package lib

import (
	"context"
	"fmt"
	"time"

	"github.com/trobanga/pacsbatch/internal/models"
)

// CalculateLinearBackoff computes linear backoff duration
// Formula: min(step * (attempt+1), maxBackoff)
func CalculateLinearBackoff(attempt int, step time.Duration, maxBackoff time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	backoff := step * time.Duration(attempt+1)
	if maxBackoff > 0 && backoff > maxBackoff {
		backoff = maxBackoff
	}

	return backoff
}

// BackoffPolicy bounds how often and how patiently an operation is retried
type BackoffPolicy struct {
	MaxAttempts int
	Delay       func(attempt int) time.Duration
}

// LinearBackoff returns a policy that waits step, 2*step, ... capped at max (0 = uncapped)
func LinearBackoff(maxAttempts int, step time.Duration, max time.Duration) BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: maxAttempts,
		Delay: func(attempt int) time.Duration {
			return CalculateLinearBackoff(attempt, step, max)
		},
	}
}

// NewBackoffPolicyFromModel creates the session re-establishment policy from models.SessionConfig
func NewBackoffPolicyFromModel(config models.SessionConfig) BackoffPolicy {
	return LinearBackoff(config.MaxAttempts, config.RetryDelay, config.MaxRetryDelay)
}

// RetryableOperation represents an operation that can be retried
type RetryableOperation func(ctx context.Context, attempt int) error

// ErrAttemptsExhausted wraps the last error once a policy's budget is spent
type ErrAttemptsExhausted struct {
	Attempts int
	Last     error
}

func (e *ErrAttemptsExhausted) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ErrAttemptsExhausted) Unwrap() error {
	return e.Last
}

// ExecuteWithRetry runs operation until it succeeds, the policy is exhausted or ctx is done.
// onRetry, if non-nil, is called before each wait.
func ExecuteWithRetry(ctx context.Context, policy BackoffPolicy, operation RetryableOperation, onRetry func(attempt int, err error)) error {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := operation(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Last attempt - don't wait
		if attempt == maxAttempts-1 {
			break
		}

		if onRetry != nil {
			onRetry(attempt, err)
		}

		var delay time.Duration
		if policy.Delay != nil {
			delay = policy.Delay(attempt)
		}
		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}

	return &ErrAttemptsExhausted{Attempts: maxAttempts, Last: lastErr}
}

// Sleep waits for d or until ctx is done, whichever comes first
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
