package ctxn

import (
	"context"
	log "log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry runs task and, while it keeps returning a retryable error, retries it
// with exponential backoff up to maxRetries times after the first attempt
// (maxRetries+1 attempts in all). If retries are exhausted, gaveUp is invoked
// (when not nil) and the final error is returned. Modeled on sop.Retry,
// generalized to a caller-supplied base/maxRetries instead of a fixed
// Fibonacci(1s, 5) policy, so the Compensator's budget comes from
// configuration (spec.md §4.4, §6 multiDb.rollbackRetryBackoffMs).
func Retry(ctx context.Context, base time.Duration, maxRetries uint64, task func(ctx context.Context) error, gaveUp func(ctx context.Context, err error)) error {
	b := retry.NewExponential(base)
	b = retry.WithMaxRetries(maxRetries, b)
	if err := retry.Do(ctx, b, task); err != nil {
		log.Warn("retry exhausted", "error", err)
		if gaveUp != nil {
			gaveUp(ctx, err)
		}
		return err
	}
	return nil
}

// Backoff computes the classic base*2^(attempt-1) delay spec.md §4.4
// prescribes for the Compensator's retry policy (attempt is 1-based).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
