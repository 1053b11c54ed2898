package kvlite

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// retryAttempts is N in spec §4.7: "wraps any fallible block in N = 3
// attempts with backoff 10*i^2 ms for attempt i in {1,2,3}".
const retryAttempts = 3

// RetryExecutor wraps a single transactional unit (one upsert, delete, or
// clear) in a bounded retry-with-backoff loop, mirroring the polling-retry
// shape the teacher uses for lock acquisition (lock.go's
// acquireLockWithTimeout): try, sleep a computed interval, try again.
//
// RetryExecutor is never used on the read path: a transient read error is
// surfaced as an absent result by the facade instead (spec §4.7).
type RetryExecutor struct{}

// NewRetryExecutor returns a ready-to-use RetryExecutor. The zero value is
// also usable; the constructor exists for symmetry with the other
// collaborators.
func NewRetryExecutor() *RetryExecutor {
	return &RetryExecutor{}
}

// backoff returns the delay before retrying after attempt i (1-indexed):
// 10*i^2 ms.
func backoff(attempt int) time.Duration {
	return time.Duration(10*attempt*attempt) * time.Millisecond
}

// Do runs fn up to retryAttempts times. Any error terminates the attempt;
// after the final attempt the last error is returned wrapped in
// ErrStorageFailure. ctx cancellation aborts immediately between attempts.
func (r *RetryExecutor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrStorageFailure, ctx.Err())
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if attempt == retryAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrStorageFailure, ctx.Err())
		case <-time.After(backoff(attempt)):
		}
	}

	if errors.Is(lastErr, ErrStorageFailure) {
		return lastErr
	}

	return fmt.Errorf("%w: %w", ErrStorageFailure, lastErr)
}
