// Package admin exposes the operator-facing recovery actions of spec.md
// §6 as plain Go functions — this module draws the line at a transport
// layer (no gin/HTTP here, per spec.md §1's Non-goals), leaving a host
// application free to wire these onto whatever admin surface it already
// runs, the same separation of concerns the teacher keeps between its
// storage engine and any serving layer.
package admin

import (
	"context"
	"fmt"

	"github.com/sharedcode/ctxn"
	"github.com/sharedcode/ctxn/compensator"
	"github.com/sharedcode/ctxn/recovery"
	"github.com/sharedcode/ctxn/txlog"
)

// Admin bundles the log store, compensator and recovery worker an operator
// tool needs.
type Admin struct {
	log    txlog.Store
	comp   *compensator.Compensator
	worker *recovery.Worker
}

// New builds an Admin surface.
func New(log txlog.Store, comp *compensator.Compensator, worker *recovery.Worker) *Admin {
	return &Admin{log: log, comp: comp, worker: worker}
}

// ListFailed returns every record currently parked for manual intervention.
func (a *Admin) ListFailed(ctx context.Context) ([]*ctxn.TransactionRecord, error) {
	return a.log.ListFailed(ctx)
}

// RetryFailed re-runs compensation for a single FAILED record, moving it to
// ROLLED_BACK on success or leaving it FAILED (with an updated error
// message) on a repeat failure.
func (a *Admin) RetryFailed(ctx context.Context, txID ctxn.UUID) error {
	rec, ok, err := a.log.Load(ctx, txID)
	if err != nil {
		return fmt.Errorf("admin: load %s: %w", txID, err)
	}
	if !ok {
		return fmt.Errorf("admin: no record for %s", txID)
	}
	if rec.State != ctxn.StateFailed {
		return fmt.Errorf("admin: record %s is in state %s, not FAILED", txID, rec.State)
	}

	if _, err := a.comp.Rollback(ctx, rec); err != nil {
		rec.ErrorMessage = err.Error()
		_ = a.log.MarkTerminal(ctx, rec, txlog.SyncWait)
		return fmt.Errorf("admin: retry compensation for %s: %w", txID, err)
	}
	if err := rec.ForceTransitionFrom(ctxn.StateFailed, ctxn.StateRolledBack); err != nil {
		return fmt.Errorf("admin: retry compensation for %s succeeded but state update was rejected: %w", txID, err)
	}
	return a.log.MarkTerminal(ctx, rec, txlog.SyncWait)
}

// ForceSweep triggers an out-of-band recovery sweep instead of waiting for
// the worker's own ticker.
func (a *Admin) ForceSweep(ctx context.Context) error {
	return a.worker.SweepOnce(ctx)
}
