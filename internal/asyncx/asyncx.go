// Package asyncx holds the concurrency primitives shared by the pipeline:
// bounded fan-out, retry with backoff, and timeout wrapping. Every external
// call in the system goes through these rather than ad-hoc goroutines.
package asyncx

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"
)

// MapLimit runs fn over items with at most limit goroutines in flight and
// returns results in input order. The first error cancels the remaining work
// and is returned. With limit <= 0 or limit >= len(items), concurrency equals
// len(items).
func MapLimit[T any, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}
	if limit <= 0 || limit > len(items) {
		limit = len(items)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, it := range items {
		i, it := i, it
		g.Go(func() error {
			r, err := fn(gctx, it)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RetryOptions configures Retry. Zero values fall back to 3 attempts,
// 400ms base delay, and doubling between attempts.
type RetryOptions struct {
	Attempts int
	Base     time.Duration
	// Jitter adds a random delay in [0, Jitter) to every sleep.
	Jitter time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Nil means all errors are retryable.
	Retryable func(error) bool
}

// Retry calls fn until it succeeds, the attempts are exhausted, the error is
// not retryable, or the context is cancelled. Sleeps are exponential:
// base * 2^attempt plus jitter, and respect cancellation.
func Retry(ctx context.Context, opt RetryOptions, fn func(context.Context) error) error {
	attempts := opt.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	base := opt.Base
	if base <= 0 {
		base = 400 * time.Millisecond
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if opt.Retryable != nil && !opt.Retryable(lastErr) {
			return lastErr
		}
		if i == attempts-1 {
			break
		}
		delay := base << uint(i)
		if opt.Jitter > 0 {
			delay += time.Duration(rand.Int63n(int64(opt.Jitter)))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// WithTimeout runs fn under a derived context bounded by d. A d <= 0 runs fn
// with the parent context unchanged.
func WithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(tctx)
}
