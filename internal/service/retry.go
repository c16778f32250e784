package service

import (
	"context"
	"time"

	"giftcard-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// RetryPolicy bounds exponential backoff for transient gateway failures.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy is 3 attempts starting at 200ms, capped at 2s.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		return p.MaxDelay
	}
	return d
}

// withRetry calls fn until it succeeds, fails with a non-retryable error, or
// the attempts run out. Only apperror.IsRetryable errors are retried.
func withRetry[T any](ctx context.Context, p RetryPolicy, log zerolog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := p.delay(attempt - 1)
			log.Warn().Err(lastErr).Str("op", op).Int("attempt", attempt+1).Dur("backoff", wait).Msg("retrying gateway call")
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, apperror.ErrGatewayUnavailable(ctx.Err())
			case <-timer.C:
			}
		}

		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		if !apperror.IsRetryable(err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}
