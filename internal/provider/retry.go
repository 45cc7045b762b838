package provider

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times, doubling the delay from base between
// tries. Only transient errors are retried; anything else is returned
// immediately, as is ctx cancellation while waiting.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			timer := time.NewTimer(base << (i - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
	}
	return err
}
