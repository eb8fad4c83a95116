package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy is a fixed attempt budget with linear backoff: the wait before
// attempt n+1 is Backoff × n.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first. Values
	// below 1 are treated as 1.
	Attempts int

	// Backoff is the base delay multiplied by the attempt number.
	Backoff time.Duration
}

// DefaultRetryPolicy is three attempts, waiting 300ms then 600ms.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 300 * time.Millisecond}

// linearBackOff is a backoff.BackOff growing by step on every call.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.step * time.Duration(b.n)
}

func (b *linearBackOff) Reset() { b.n = 0 }

// Permanent marks err as not worth retrying. [Retry] returns it unwrapped on
// the first occurrence.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry calls fn until it succeeds, returns a [Permanent] error, ctx is done,
// or the attempt budget is spent. The last error is returned wrapped with the
// attempt count.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		attempt int
		lastErr error
	)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		lastErr = fn(ctx, attempt)
		return struct{}{}, lastErr
	},
		backoff.WithBackOff(&linearBackOff{step: policy.Backoff}),
		backoff.WithMaxTries(uint(max(policy.Attempts, 1))),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(lastErr, &perm) {
		return perm.Err
	}
	return fmt.Errorf("after %d attempt(s): %w", attempt, lastErr)
}
