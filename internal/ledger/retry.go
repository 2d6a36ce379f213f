package ledger

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	retryInitialInterval = 50 * time.Millisecond
	retryMaxInterval     = time.Second
)

// Retry calls op until it succeeds, fails with a non-storage error, or
// attempts are exhausted. Only storage failures are retried.
func Retry[T any](ctx context.Context, attempts int, op func() (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		res, err := op()
		if err != nil && !IsStorage(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
	)
}

// RetryErr is Retry for operations without a result.
func RetryErr(ctx context.Context, attempts int, op func() error) error {
	_, err := Retry(ctx, attempts, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
