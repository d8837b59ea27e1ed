package ctxn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
)

func TestRetrySucceedsWithoutExhausting(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), time.Millisecond, 5, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return retry.RetryableError(errors.New("transient"))
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryInvokesGaveUpOnExhaustion(t *testing.T) {
	gaveUpCalled := false
	err := Retry(context.Background(), time.Millisecond, 2, func(ctx context.Context) error {
		return retry.RetryableError(errors.New("always fails"))
	}, func(ctx context.Context, err error) {
		gaveUpCalled = true
	})
	if err == nil {
		t.Fatalf("expected an error after exhausting retries")
	}
	if !gaveUpCalled {
		t.Fatalf("expected gaveUp callback to be invoked")
	}
}

func TestBackoffDoublesPerAttempt(t *testing.T) {
	base := 100 * time.Millisecond
	cases := map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
		4: 800 * time.Millisecond,
	}
	for attempt, want := range cases {
		if got := Backoff(base, attempt); got != want {
			t.Fatalf("Backoff(%v, %d) = %v, want %v", base, attempt, got, want)
		}
	}
}
