package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestComputeBackoff(t *testing.T) {
	policy := BackoffPolicy{PolicyID: "p", BaseMs: 100, MaxMs: 1000, MaxAttempts: 5}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{4, 1000 * time.Millisecond},
		{40, 1000 * time.Millisecond},
	}
	for _, tt := range tests {
		got := ComputeBackoff(BackoffParams{PolicyID: "p", AttemptIndex: tt.attempt}, policy)
		if got != tt.want {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDeterministicJitter(t *testing.T) {
	policy := BackoffPolicy{MaxJitterMs: 50}
	p := BackoffParams{PolicyID: "resolver", RequestID: "req-1", Operation: "resolve", AttemptIndex: 1}

	j1 := ComputeDeterministicJitter(p, policy)
	j2 := ComputeDeterministicJitter(p, policy)
	if j1 != j2 {
		t.Errorf("jitter not deterministic: %d vs %d", j1, j2)
	}
	if j1 < 0 || j1 >= 50 {
		t.Errorf("jitter %d out of [0, 50)", j1)
	}
}

var errTransient = errors.New("transient")

func fastPolicy() BackoffPolicy {
	return BackoffPolicy{PolicyID: "t", BaseMs: 1, MaxMs: 2, MaxAttempts: 2}
}

func TestDoRetriesOnce(t *testing.T) {
	calls := 0
	n, err := Do(context.Background(), BackoffParams{}, fastPolicy(), func(error) bool { return true },
		func(context.Context, int) error {
			calls++
			return errTransient
		})
	if !errors.Is(err, errTransient) {
		t.Fatalf("got %v", err)
	}
	if calls != 2 || n != 2 {
		t.Errorf("calls=%d attempts=%d, want 2 and 2", calls, n)
	}
}

func TestDoSucceedsOnRetry(t *testing.T) {
	n, err := Do(context.Background(), BackoffParams{}, fastPolicy(), func(error) bool { return true },
		func(_ context.Context, attempt int) error {
			if attempt == 0 {
				return errTransient
			}
			return nil
		})
	if err != nil || n != 2 {
		t.Errorf("attempts=%d err=%v", n, err)
	}
}

func TestDoSkipsNonRetryable(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), BackoffParams{}, fastPolicy(), func(error) bool { return false },
		func(context.Context, int) error {
			calls++
			return errTransient
		})
	if err == nil || calls != 1 {
		t.Errorf("calls=%d err=%v", calls, err)
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := BackoffPolicy{BaseMs: 10_000, MaxMs: 10_000, MaxAttempts: 2}
	_, err := Do(ctx, BackoffParams{}, policy, func(error) bool { return true },
		func(context.Context, int) error {
			cancel()
			return errTransient
		})
	if !errors.Is(err, context.Canceled) && !errors.Is(err, errTransient) {
		t.Errorf("got %v", err)
	}
}
