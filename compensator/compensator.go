// Package compensator applies inverse operations to undo a partially
// completed transaction, in strict reverse sequence order (spec.md §4.4).
// Grounded on the teacher's phase1Commit/rollback pair
// (in_red_ck/two_phase_commit_transaction.go), which walks its own commit
// log backwards and only undoes steps it can prove were actually applied;
// this package performs the analogous walk over OperationRecord.Operations.
package compensator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/sharedcode/ctxn"
	"github.com/sharedcode/ctxn/store"
)

// Outcome classifies how a single operation's compensation went, per
// spec.md §4.4's Success/Retryable/Fatal taxonomy.
type Outcome int

const (
	Success Outcome = iota
	Retryable
	Fatal
)

// Result is the per-operation compensation outcome, appended to the
// transaction record's history as each inverse runs.
type Result struct {
	Sequence int
	Outcome  Outcome
	Err      error
}

// Compensator applies inverse operations against the registered datastores.
type Compensator struct {
	registry   *store.Registry
	maxRetries uint64
	retryBase  time.Duration
}

// Option configures a Compensator at construction time.
type Option func(*Compensator)

// WithRetry overrides the per-operation retry budget: maxRetries retries
// after the first attempt, with exponential backoff starting at base
// (default 3 retries, base=1s),
// wired to the multiDb.maxRollbackRetries / multiDb.rollbackRetryBackoffMs
// configuration keys (spec.md §6).
func WithRetry(maxRetries uint64, base time.Duration) Option {
	return func(c *Compensator) {
		c.maxRetries = maxRetries
		c.retryBase = base
	}
}

// New builds a Compensator routing inverse statements through registry.
func New(registry *store.Registry, opts ...Option) *Compensator {
	c := &Compensator{registry: registry, maxRetries: 3, retryBase: time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FatalError wraps a Fatal compensation outcome: a referential-integrity
// violation, missing required snapshot, unknown entityClass, missing
// datasource, or unknown operationType (spec.md §4.4). It halts the reverse
// sweep immediately, unlike a Retryable outcome.
type FatalError struct {
	Sequence int
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("compensator: fatal at sequence %d: %v", e.Sequence, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err came from a Fatal outcome, as opposed to an
// exhausted-retries Retryable outcome that the Recovery Worker should simply
// attempt again on its next cycle (spec.md §4.4, §4.5 step 3).
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Rollback walks rec.Operations in strict reverse sequence order, applying
// each operation's inverse. A Fatal outcome halts the walk immediately
// (spec.md §4.4 invariant: later operations may depend on the state the
// failed one was supposed to restore, so skipping ahead is unsafe). A
// Retryable outcome does not halt the walk — the sweep continues over the
// remaining operations, and the failed one is left uncompensated for the
// Recovery Worker to re-attempt.
func (c *Compensator) Rollback(ctx context.Context, rec *ctxn.TransactionRecord) ([]Result, error) {
	ops := rec.Operations
	results := make([]Result, 0, len(ops))
	var uncompensated int
	var lastRetryableErr error
	for i := len(ops) - 1; i >= 0; i-- {
		op := &ops[i]
		if op.Compensated {
			continue
		}
		res := c.compensateOne(ctx, op)
		results = append(results, res)
		switch res.Outcome {
		case Fatal:
			op.CompensationError = res.Err.Error()
			return results, &FatalError{Sequence: op.Sequence, Err: res.Err}
		case Retryable:
			op.CompensationError = res.Err.Error()
			uncompensated++
			lastRetryableErr = res.Err
		default:
			op.Compensated = true
		}
	}
	if uncompensated > 0 {
		return results, fmt.Errorf("compensator: %d operation(s) remain uncompensated after retryable errors: %w", uncompensated, lastRetryableErr)
	}
	return results, nil
}

func (c *Compensator) compensateOne(ctx context.Context, op *ctxn.OperationRecord) Result {
	h, err := c.registry.Get(op.Datasource)
	if err != nil {
		return Result{Sequence: op.Sequence, Outcome: Fatal, Err: err}
	}

	query, args, err := inverseFor(op)
	if err != nil {
		return Result{Sequence: op.Sequence, Outcome: Fatal, Err: err}
	}
	if query == "" {
		// Nothing to undo (e.g. an already-idempotent no-op inverse).
		return Result{Sequence: op.Sequence, Outcome: Success}
	}

	// Each attempt is retried up to maxRetries times with exponential
	// backoff before this operation is classified Retryable (spec.md §4.4
	// Retry policy); a non-retryable driver error fails fast as Fatal.
	var lastErr error
	execErr := ctxn.Retry(ctx, c.retryBase, c.maxRetries, func(ctx context.Context) error {
		_, err := h.ExecContext(ctx, query, args...)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctxn.ShouldRetry(err) {
			return retry.RetryableError(err)
		}
		return err
	}, nil)
	if execErr != nil {
		if ctxn.ShouldRetry(lastErr) {
			return Result{Sequence: op.Sequence, Outcome: Retryable, Err: execErr}
		}
		return Result{Sequence: op.Sequence, Outcome: Fatal, Err: execErr}
	}
	return Result{Sequence: op.Sequence, Outcome: Success}
}
