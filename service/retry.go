package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aschepis/memvault/memerr"
)

const (
	// DefaultMaxRetries is the default number of retries after the first attempt
	DefaultMaxRetries = 3
	// DefaultInitialInterval is the default delay before the first retry
	DefaultInitialInterval = 50 * time.Millisecond
	// DefaultMaxInterval is the default cap on the delay between retries
	DefaultMaxInterval = time.Second
	// StandardMultiplier is the multiplier for exponential backoff
	StandardMultiplier = 2.0
	// StandardRandomizationFactor is the randomization factor for exponential backoff
	StandardRandomizationFactor = 0.2
)

// RetryPolicy controls retries of idempotent calls. Only StorageError
// failures are retried; every other kind is returned immediately.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
	}
}

// newBackoff creates the backoff for one call.
func (p RetryPolicy) newBackoff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.Multiplier = StandardMultiplier
	eb.RandomizationFactor = StandardRandomizationFactor
	// Bounded by MaxRetries instead.
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)
}

// retry runs op under the service retry policy.
func retry[T any](ctx context.Context, s *Service, method string, op func() (T, error)) (T, error) {
	attempt := 0
	return backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		v, err := op()
		if err != nil && !memerr.IsStorage(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, s.retry.newBackoff(ctx), func(err error, wait time.Duration) {
		s.logger.Warn().
			Str("method", method).
			Int("attempt", attempt).
			Dur("wait", wait).
			Err(err).
			Msg("Storage error, retrying")
	})
}
