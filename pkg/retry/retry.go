// Package retry implements the two bounded retry policies spec.md §7
// assigns to remote-call failures: RateLimit gets exponential back-off
// with jitter (honoring a provider's retry-after hint when present) up to
// RateLimitMaxAttempts, ContentFilter gets an immediate retry up to
// ContentFilterMaxAttempts. Every other error kind is not retried here —
// callers record it as a per-item failure instead.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/codeready-toolchain/sumeval/pkg/errs"
)

// RateLimitMaxAttempts is spec.md §7's cap on rate-limit retries.
const RateLimitMaxAttempts = 5

// ContentFilterMaxAttempts is spec.md §7's cap on content-filter retries.
const ContentFilterMaxAttempts = 2

// Do calls fn until it succeeds, fails with a kind that isn't RateLimit or
// ContentFilter, or exhausts the attempt budget for whichever of those two
// kinds it's currently failing with.
func Do[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	eb := backoff.NewExponentialBackOff()
	rateLimitAttempts, contentFilterAttempts := 0, 0

	for {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		var wait time.Duration
		switch errs.Classify(err) {
		case errs.KindRateLimit:
			rateLimitAttempts++
			if rateLimitAttempts >= RateLimitMaxAttempts {
				return zero, err
			}
			wait = rateLimitWait(err, eb)
		case errs.KindContentFilter:
			contentFilterAttempts++
			if contentFilterAttempts >= ContentFilterMaxAttempts {
				return zero, err
			}
		default:
			return zero, err
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// rateLimitWait prefers a provider-supplied retry-after hint over the
// computed exponential interval, per spec.md §6's RateLimit{retryAfterMs?}
// shape.
func rateLimitWait(err error, eb *backoff.ExponentialBackOff) time.Duration {
	var rl *errs.RateLimitError
	if errors.As(err, &rl) {
		if d := rl.RetryAfter(); d > 0 {
			return d
		}
	}
	d, nextErr := eb.NextBackOff()
	if nextErr != nil {
		return eb.InitialInterval
	}
	return d
}
