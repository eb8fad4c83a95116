package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")

	tests := []struct {
		name      string
		policy    RetryPolicy
		failFirst int
		permanent bool
		wantCalls int
		wantErr   bool
	}{
		{name: "first try", policy: RetryPolicy{Attempts: 3}, failFirst: 0, wantCalls: 1},
		{name: "succeeds on third", policy: RetryPolicy{Attempts: 3}, failFirst: 2, wantCalls: 3},
		{name: "budget spent", policy: RetryPolicy{Attempts: 3}, failFirst: 5, wantCalls: 3, wantErr: true},
		{name: "zero attempts means one", policy: RetryPolicy{}, failFirst: 5, wantCalls: 1, wantErr: true},
		{name: "permanent stops", policy: RetryPolicy{Attempts: 3}, failFirst: 5, permanent: true, wantCalls: 1, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			calls := 0
			err := Retry(context.Background(), tc.policy, func(_ context.Context, attempt int) error {
				calls++
				if attempt != calls {
					t.Errorf("attempt = %d, want %d", attempt, calls)
				}
				if calls <= tc.failFirst {
					if tc.permanent {
						return Permanent(errBoom)
					}
					return errBoom
				}
				return nil
			})
			if calls != tc.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tc.wantCalls)
			}
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, errBoom) {
				t.Errorf("err = %v, want wrapping errBoom", err)
			}
		})
	}
}

func TestRetry_LinearBackoff(t *testing.T) {
	t.Parallel()

	var stamps []time.Time
	_ = Retry(context.Background(), RetryPolicy{Attempts: 3, Backoff: 20 * time.Millisecond},
		func(context.Context, int) error {
			stamps = append(stamps, time.Now())
			return errors.New("down")
		})
	if len(stamps) != 3 {
		t.Fatalf("calls = %d, want 3", len(stamps))
	}
	if gap := stamps[1].Sub(stamps[0]); gap < 20*time.Millisecond {
		t.Errorf("first gap = %v, want >= 20ms", gap)
	}
	if gap := stamps[2].Sub(stamps[1]); gap < 40*time.Millisecond {
		t.Errorf("second gap = %v, want >= 40ms", gap)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	err := Retry(ctx, RetryPolicy{Attempts: 3, Backoff: time.Second}, func(context.Context, int) error {
		calls++
		return errors.New("down")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("Retry waited out the backoff despite cancellation")
	}
}

func TestPermanent_Nil(t *testing.T) {
	t.Parallel()
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should be nil")
	}
}

func TestRetry_PermanentOnLastAttempt(t *testing.T) {
	t.Parallel()

	errGone := errors.New("gone")
	calls := 0
	err := Retry(context.Background(), RetryPolicy{Attempts: 2}, func(context.Context, int) error {
		calls++
		if calls == 1 {
			return errors.New("down")
		}
		return Permanent(errGone)
	})
	if calls != 2 || err != errGone {
		t.Errorf("calls = %d, err = %v; want 2 and the unwrapped permanent error", calls, err)
	}
}

func TestRetry_CancelledBeforeFirstAttempt(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, DefaultRetryPolicy, func(context.Context, int) error {
		t.Error("fn called with a cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestLinearBackOff(t *testing.T) {
	t.Parallel()

	b := &linearBackOff{step: 300 * time.Millisecond}
	for i, want := range []time.Duration{300 * time.Millisecond, 600 * time.Millisecond, 900 * time.Millisecond} {
		if got := b.NextBackOff(); got != want {
			t.Errorf("NextBackOff #%d = %v, want %v", i+1, got, want)
		}
	}
	b.Reset()
	if got := b.NextBackOff(); got != 300*time.Millisecond {
		t.Errorf("after Reset = %v", got)
	}
}
