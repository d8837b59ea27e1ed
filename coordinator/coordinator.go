// Package coordinator drives the compensating-transaction lifecycle of
// spec.md §4.1: CREATED -> COLLECTING -> VALIDATING -> PREPARED ->
// COMMITTING -> COMMITTED, diverting to ROLLING_BACK on any failure before
// the commit point. Grounded on the teacher's top-level transaction driver
// (in_red_ck/two_phase_commit_transaction.go's Begin/Phase1Commit/
// Phase2Commit/Rollback sequence and its "committed" guard flag preventing a
// post-commit panic from ever triggering a rollback).
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sharedcode/ctxn"
	"github.com/sharedcode/ctxn/capture"
	"github.com/sharedcode/ctxn/compensator"
	"github.com/sharedcode/ctxn/compensator/breaker"
	"github.com/sharedcode/ctxn/facade"
	"github.com/sharedcode/ctxn/store"
	"github.com/sharedcode/ctxn/txlog"
	"github.com/sharedcode/ctxn/validator"
)

// Callable is the business logic the coordinator wraps. It receives a
// context carrying the bound capture.Handle so calls to the capture package
// inside it attach to the current transaction.
type Callable func(ctx context.Context) error

// Options configures a single Execute call.
type Options struct {
	// LockName, if non-empty, is acquired as a request-level lock for the
	// duration of the callable (spec.md §4.7).
	LockName string
	LockTTL  time.Duration
	// IdempotencyKey, if non-empty, de-duplicates retried requests
	// (spec.md §4.7).
	IdempotencyKey string
	// DurabilityMode governs how hard the log store waits on each write.
	DurabilityMode txlog.DurabilityMode
}

// Coordinator wires together the log store, validator, compensator and
// ancillary facades behind a single Execute entry point.
type Coordinator struct {
	log      txlog.Store
	validate *validator.Validator
	comp     *compensator.Compensator
	breakers *breaker.Registry
	lock     *facade.Lock
	idemp    *facade.Idempotency
	store    *store.Registry
}

// New builds a Coordinator. registry is consulted to open one independent
// local transaction per known store before the business callable runs, and
// to commit them, in deterministic order, once the transaction reaches
// PREPARED (spec.md §4.1 steps 5 and 10).
func New(log txlog.Store, v *validator.Validator, comp *compensator.Compensator, breakers *breaker.Registry, lock *facade.Lock, idemp *facade.Idempotency, registry *store.Registry) *Coordinator {
	return &Coordinator{log: log, validate: v, comp: comp, breakers: breakers, lock: lock, idemp: idemp, store: registry}
}

// ErrDuplicateRequest is returned when an idempotency key was already seen.
var ErrDuplicateRequest = fmt.Errorf("coordinator: duplicate request")

// Execute runs fn as a single compensating transaction identified by
// businessKey, driving the record through the full lifecycle and
// compensating automatically on failure. If ctx already carries a bound
// handle (a nested call from within another Execute), fn simply joins that
// outer transaction and this call becomes a no-op wrapper around fn
// (spec.md §4.1 "nested calls join the existing transaction").
func (c *Coordinator) Execute(ctx context.Context, businessKey string, opts Options, fn Callable) (err error) {
	if capture.IsNested(ctx) {
		return fn(ctx)
	}

	if opts.IdempotencyKey != "" {
		dup, err := c.idemp.Begin(ctx, opts.IdempotencyKey)
		if err != nil {
			return ctxn.NewError(ctxn.ErrCodeDuplicateRequest, ctxn.NilUUID, err)
		}
		if dup {
			return ErrDuplicateRequest
		}
	}

	var acquired *facade.Acquired
	if opts.LockName != "" {
		var ok bool
		var lockErr error
		acquired, ok, lockErr = c.lock.Acquire(ctx, opts.LockName, opts.LockTTL)
		if lockErr != nil {
			// A lock backend failure degrades to proceeding without the lock;
			// only a lock held by another caller refuses the request.
			slog.Warn("coordinator: lock backend unavailable, proceeding without lock", "lock", opts.LockName, "error", lockErr)
		} else if !ok {
			return ctxn.NewError(ctxn.ErrCodeLockUnavailable, ctxn.NilUUID, fmt.Errorf("lock %q held by another caller", opts.LockName))
		}
	}
	defer func() {
		if acquired != nil {
			_ = acquired.Release(ctx)
		}
	}()

	rec := ctxn.NewTransactionRecord(businessKey)
	if err := c.log.Create(ctx, rec, opts.DurabilityMode); err != nil {
		return ctxn.NewError(ctxn.ErrCodeCommit, rec.TxID, err)
	}

	// One independent local transaction is opened per known store before the
	// business callable runs (spec.md §4.1 step 5), so every ExecContext the
	// callable issues lands inside a store-local transaction this Coordinator
	// alone controls the fate of.
	txSet, err := c.store.BeginAll(ctx)
	if err != nil {
		c.rollbackAndReport(ctx, rec, err)
		return ctxn.NewError(ctxn.ErrCodeCommit, rec.TxID, err)
	}

	txCtx, _, _ := capture.Bind(ctx, rec)
	txCtx = store.BindTxSet(txCtx, txSet)

	// committed latches true only after every store has actually
	// acknowledged its commit; any panic or error observed strictly after
	// that point must never trigger a rollback of already-durable state,
	// mirroring the teacher's own "committed" guard in
	// in_red_ck/two_phase_commit_transaction.go.
	committed := false
	defer func() {
		if p := recover(); p != nil {
			if committed {
				panic(p)
			}
			txSet.RollbackAll()
			c.rollbackAndReport(ctx, rec, fmt.Errorf("panic in business callable: %v", p))
			panic(p)
		}
	}()

	if err := rec.TransitionTo(ctxn.StateCollecting); err != nil {
		txSet.RollbackAll()
		return ctxn.NewError(ctxn.ErrCodeCommit, rec.TxID, err)
	}
	_ = c.log.Save(ctx, rec, opts.DurabilityMode)

	if callErr := fn(txCtx); callErr != nil {
		txSet.RollbackAll()
		c.rollbackAndReport(ctx, rec, callErr)
		// A failed business call releases its idempotency key so the caller
		// can retry the same request.
		if opts.IdempotencyKey != "" {
			_ = c.idemp.Forget(ctx, opts.IdempotencyKey)
		}
		return ctxn.NewError(ctxn.ErrCodeBusiness, rec.TxID, callErr)
	}

	if err := rec.TransitionTo(ctxn.StateValidating); err != nil {
		txSet.RollbackAll()
		c.rollbackAndReport(ctx, rec, err)
		return ctxn.NewError(ctxn.ErrCodeCommit, rec.TxID, err)
	}
	_ = c.log.Save(ctx, rec, opts.DurabilityMode)

	if c.validate != nil {
		result := c.validate.Validate(rec)
		for _, iss := range result.Issues {
			rec.AddRiskFlag(iss.Flag)
		}
		if !result.CanProceed {
			// Nothing committed yet: compensation is skipped entirely rather
			// than run over operations that were never durably applied
			// (spec.md §4.3 "validation blocks the commit").
			txSet.RollbackAll()
			err := fmt.Errorf("validation blocked commit: %d issue(s)", len(result.Issues))
			c.rollbackWithoutCompensation(ctx, rec, err)
			return ctxn.NewError(ctxn.ErrCodeValidation, rec.TxID, err)
		}
	}

	if err := rec.TransitionTo(ctxn.StatePrepared); err != nil {
		txSet.RollbackAll()
		c.rollbackAndReport(ctx, rec, err)
		return ctxn.NewError(ctxn.ErrCodeCommit, rec.TxID, err)
	}
	_ = c.log.Save(ctx, rec, opts.DurabilityMode)

	if err := rec.TransitionTo(ctxn.StateCommitting); err != nil {
		txSet.RollbackAll()
		c.rollbackAndReport(ctx, rec, err)
		return ctxn.NewError(ctxn.ErrCodeCommit, rec.TxID, err)
	}
	_ = c.log.Save(ctx, rec, opts.DurabilityMode)

	// Commit every store's local transaction in the registry's deterministic
	// order (spec.md §4.1 step 10). committedNames tracks how far CommitAll
	// got before any failure, which is exactly what distinguishes the two
	// CommitError outcomes of spec.md §7.
	committedNames, commitErr := txSet.CommitAll()
	if commitErr != nil {
		txSet.RollbackAll()
		if len(committedNames) == 0 {
			// First store never committed: nothing durable happened, so this
			// behaves like a BusinessError and the Compensator still runs
			// (naturally idempotent, per spec.md §4.2 scenario S2).
			c.rollbackAndReport(ctx, rec, commitErr)
			return ctxn.NewError(ctxn.ErrCodeCommit, rec.TxID, commitErr)
		}
		// At least one store already committed durably: there is no safe
		// automatic compensation for a partially-committed transaction, so
		// this goes straight to FAILED for manual intervention (spec.md §7).
		rec.ErrorMessage = commitErr.Error()
		_ = rec.TransitionTo(ctxn.StateFailed)
		_ = c.log.MarkTerminal(ctx, rec, txlog.SyncWait)
		return ctxn.NewError(ctxn.ErrCodeCommit, rec.TxID, commitErr)
	}

	// Every store has now actually acknowledged its commit: latch committed
	// before the final transition so a later panic can never unwind into a
	// rollback of real, already-applied writes.
	committed = true

	if err := rec.TransitionTo(ctxn.StateCommitted); err != nil {
		return ctxn.NewError(ctxn.ErrCodePostCommit, rec.TxID, err)
	}
	if err := c.log.MarkTerminal(ctx, rec, opts.DurabilityMode); err != nil {
		return ctxn.NewError(ctxn.ErrCodePostCommit, rec.TxID, err)
	}
	if opts.IdempotencyKey != "" {
		_ = c.idemp.Complete(ctx, opts.IdempotencyKey)
	}
	if c.breakers != nil {
		c.breakers.Forget(rec.TxID)
	}
	return nil
}

// rollbackAndReport transitions rec to ROLLING_BACK, runs the compensator,
// and persists the outcome, logging nothing back to the caller beyond what
// Execute's own return value already conveys.
func (c *Coordinator) rollbackAndReport(ctx context.Context, rec *ctxn.TransactionRecord, cause error) {
	rec.ErrorMessage = cause.Error()
	if rec.State.IsTerminal() {
		return
	}
	if err := rec.TransitionTo(ctxn.StateRollingBack); err != nil {
		return
	}
	_ = c.log.Save(ctx, rec, txlog.BestEffort)

	runRollback := func() error {
		_, err := c.comp.Rollback(ctx, rec)
		return err
	}
	var rollbackErr error
	if c.breakers != nil {
		rollbackErr = c.breakers.Execute(rec.TxID, runRollback)
	} else {
		rollbackErr = runRollback()
	}

	if rollbackErr != nil {
		if compensator.IsFatal(rollbackErr) {
			rec.ErrorMessage = rollbackErr.Error()
			_ = rec.TransitionTo(ctxn.StateFailed)
			_ = c.log.MarkTerminal(ctx, rec, txlog.SyncWait)
			return
		}
		// An exhausted-retryable outcome leaves operations uncompensated but
		// still live: stay in ROLLING_BACK so the Recovery Worker's sweep
		// picks this transaction back up (spec.md §4.5).
		rec.MarkRetry()
		rec.ErrorMessage = rollbackErr.Error()
		_ = c.log.Save(ctx, rec, txlog.BestEffort)
		return
	}
	_ = rec.TransitionTo(ctxn.StateRolledBack)
	_ = c.log.MarkTerminal(ctx, rec, txlog.BestEffort)
}

// rollbackWithoutCompensation transitions rec straight from VALIDATING to
// ROLLED_BACK without invoking the Compensator at all: a validation block
// happens before any store commit, so there is nothing to compensate
// (spec.md §4.3 scenario S4, "because nothing committed, compensation is
// skipped").
func (c *Coordinator) rollbackWithoutCompensation(ctx context.Context, rec *ctxn.TransactionRecord, cause error) {
	rec.ErrorMessage = cause.Error()
	if rec.State.IsTerminal() {
		return
	}
	if err := rec.TransitionTo(ctxn.StateRollingBack); err != nil {
		return
	}
	_ = c.log.Save(ctx, rec, txlog.BestEffort)
	_ = rec.TransitionTo(ctxn.StateRolledBack)
	_ = c.log.MarkTerminal(ctx, rec, txlog.BestEffort)
}
