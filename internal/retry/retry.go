// Package retry implements the Retry Policy: a function from
// (operation, max_retries, base_delay, max_delay) to a wrapped operation
// that retries only transient transport failures.
package retry

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"biopatrol/internal/rpcerr"
)

// Policy configures one wrapped operation's retry envelope.
type Policy struct {
	MaxRetries int           // total attempts = MaxRetries + 1
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Default policies named in §4.2.
var (
	// ShelfMovePolicy applies to move_shelf and return_shelf.
	ShelfMovePolicy = Policy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	// NavigationPolicy applies to move_to_location, dock_shelf, undock_shelf.
	NavigationPolicy = Policy{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
)

// Operation is a single zero-arg effect the Retry Policy wraps.
type Operation func(ctx context.Context) error

// Do runs fn, retrying on a transient transport failure with exponential
// backoff up to policy.MaxRetries additional attempts. It returns
// immediately, without retry, on success, on a non-transient failure, or
// when ctx is cancelled. It never retries past ctx.Done — cancellation is
// never silently swallowed.
func Do(ctx context.Context, policy Policy, fn Operation) error {
	attempts := 0
	wrapped := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !rpcerr.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.MaxInterval = policy.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // bounded by WithMaxRetries below, not wall time

	bounded := backoff.WithMaxRetries(b, uint64(policy.MaxRetries))
	withCtx := backoff.WithContext(bounded, ctx)

	return backoff.Retry(wrapped, withCtx)
}

// DoWithResult runs a result-producing effect under the same policy.
func DoWithResult[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, policy, func(ctx context.Context) error {
		r, err := fn(ctx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}
