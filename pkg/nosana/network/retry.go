package network

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/InferiaAI/depin-sidecar/internal/telemetry"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/model"
)

// newBackOff (with maxAttempts below) mirrors spec.md §4.2: 5 attempts,
// base 500ms, doubling, capped at 8s, applied exclusively when the error is
// a 429.
func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 8 * time.Second
	return b
}

const maxAttempts = 5

// withRetryMode runs op, retrying only on *model.RateLimited up to
// maxAttempts total attempts, and is labelled by mode (rest|chain) for
// NetworkRetriesTotal. Any other error is permanent and returned immediately.
// Non-retryable calls should pass retryable=false so a 429 observed after
// the server accepted the request is surfaced rather than retried (spec.md
// §4.2, §9 open question #2: a server-observed 429 on a non-idempotent call
// is final, not retried).
func withRetryMode[T any](ctx context.Context, retryable bool, mode string, op func() (T, error)) (T, error) {
	wrapped := func() (T, error) {
		v, err := op()
		if err == nil {
			return v, nil
		}
		var rl *model.RateLimited
		if errors.As(err, &rl) && retryable {
			telemetry.NetworkRetriesTotal.WithLabelValues(mode).Inc()
			return v, err
		}
		return v, backoff.Permanent(err)
	}

	return backoff.Retry(ctx, wrapped, backoff.WithBackOff(newBackOff()), backoff.WithMaxTries(maxAttempts))
}
