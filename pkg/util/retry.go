package util

import (
	"context"
	"time"
)

// Retry calls fn up to attempts times with a linear backoff (i*backoff)
// between calls. It stops early when retryable reports false or ctx ends.
// A nil retryable retries every error.
func Retry(ctx context.Context, attempts int, backoff time.Duration, retryable func(error) bool, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts || (retryable != nil && !retryable(err)) {
			return err
		}
		select {
		case <-time.After(time.Duration(i) * backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
