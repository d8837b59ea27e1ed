// Package recovery implements the periodic sweep worker of spec.md §4.5: it
// finds transactions stalled mid-flight and drives them to a terminal state
// by branching on the state they were stuck in. Grounded on the teacher's
// onIdle/processExpiredTransactionLogs pairing
// (in_red_ck/two_phase_commit_transaction.go onIdle,
// in_red_ck/transaction_logger.go processExpiredTransactionLogs): both sweep
// periodically, coordinate via a distributed lock so only one node in a
// fleet performs the sweep, and bound their own concurrency with a
// TaskRunner.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sharedcode/ctxn"
	"github.com/sharedcode/ctxn/cachekv"
	"github.com/sharedcode/ctxn/compensator"
	"github.com/sharedcode/ctxn/txlog"
)

// Metrics are the Prometheus counters/gauges this worker exposes, named per
// spec.md §4.5's observability requirement.
type Metrics struct {
	TotalAttempts     prometheus.Counter
	Successful        prometheus.Counter
	Failed            prometheus.Counter
	LastScanFoundCount prometheus.Gauge
}

// NewMetrics registers and returns the worker's metric set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TotalAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ctxn_recovery_attempts_total",
			Help: "Total recovery attempts made by the sweep worker.",
		}),
		Successful: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ctxn_recovery_successful_total",
			Help: "Recovery attempts that reached a terminal non-failed state.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ctxn_recovery_failed_total",
			Help: "Recovery attempts that ended in FAILED.",
		}),
		LastScanFoundCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ctxn_recovery_last_scan_found",
			Help: "Number of stalled transactions found by the most recent sweep.",
		}),
	}
	reg.MustRegister(m.TotalAttempts, m.Successful, m.Failed, m.LastScanFoundCount)
	return m
}

// Worker periodically sweeps the log store for stalled transactions.
type Worker struct {
	log                 txlog.Store
	comp                *compensator.Compensator
	cache               cachekv.Cache
	metrics             *Metrics
	stallAfter          time.Duration
	maxInFlight         int
	lockDuration        time.Duration
	maxRecoveryAttempts int
}

// Config configures a Worker.
type Config struct {
	StallAfter   time.Duration
	MaxInFlight  int
	LockDuration time.Duration
	// MaxRecoveryAttempts bounds retryCount before a stalled transaction is
	// forced to FAILED (spec.md §4.5 step 2, recovery.maxRecoveryAttempts,
	// default 5).
	MaxRecoveryAttempts int
}

// New builds a Worker.
func New(log txlog.Store, comp *compensator.Compensator, cache cachekv.Cache, metrics *Metrics, cfg Config) *Worker {
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = 4
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = 30 * time.Second
	}
	if cfg.MaxRecoveryAttempts <= 0 {
		cfg.MaxRecoveryAttempts = 5
	}
	return &Worker{
		log:                 log,
		comp:                comp,
		cache:               cache,
		metrics:             metrics,
		stallAfter:          cfg.StallAfter,
		maxInFlight:         cfg.MaxInFlight,
		lockDuration:        cfg.LockDuration,
		maxRecoveryAttempts: cfg.MaxRecoveryAttempts,
	}
}

// Run sweeps every interval until ctx is canceled.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.SweepOnce(ctx); err != nil {
				continue
			}
		}
	}
}

// SweepOnce performs a single sweep, coordinated across a fleet via a
// distributed lock so only one node drives recovery at a time
// (spec.md §4.5 invariant).
func (w *Worker) SweepOnce(ctx context.Context) error {
	lockKey := cachekv.NewLockKey(ctxn.RecoveryScanLockKey)
	won, err := w.cache.Lock(ctx, w.lockDuration, lockKey)
	if err != nil {
		return fmt.Errorf("recovery: acquire scan lock: %w", err)
	}
	if !won {
		return nil
	}
	defer w.cache.Unlock(ctx, lockKey)

	stalled, err := w.log.ListStalled(ctx, w.stallAfter)
	if err != nil {
		return fmt.Errorf("recovery: list stalled: %w", err)
	}
	if w.metrics != nil {
		w.metrics.LastScanFoundCount.Set(float64(len(stalled)))
	}

	runner := ctxn.NewTaskRunner(ctx, w.maxInFlight)
	for _, rec := range stalled {
		rec := rec
		runner.Go(func() error {
			w.recoverOne(ctx, rec)
			return nil
		})
	}
	return runner.Wait()
}

// recoverOne branches on rec.State per spec.md §4.5:
//   - Step 2: any record whose retryCount has already reached
//     maxRecoveryAttempts is forced straight to FAILED, regardless of state.
//   - CREATED/COLLECTING: too early to have made external commitments, force
//     straight to ROLLING_BACK.
//   - VALIDATING/PREPARED: nothing has been committed to any store yet,
//     also force to ROLLING_BACK.
//   - COMMITTING: whether any individual store commit actually landed is
//     unknowable without a distributed query this module cannot assume
//     exists, so per the resolved Open Question (spec.md §4.5/§9) this
//     always resolves to FAILED rather than guessing either way.
//   - ROLLING_BACK: compensation was interrupted mid-walk; re-run it.
func (w *Worker) recoverOne(ctx context.Context, rec *ctxn.TransactionRecord) {
	if w.metrics != nil {
		w.metrics.TotalAttempts.Inc()
	}

	if rec.RetryCount >= w.maxRecoveryAttempts {
		w.fail(ctx, rec, fmt.Errorf("recovery: max recovery attempts exceeded (retryCount=%d, max=%d)", rec.RetryCount, w.maxRecoveryAttempts))
		return
	}

	switch rec.State {
	case ctxn.StateCreated, ctxn.StateCollecting, ctxn.StateValidating, ctxn.StatePrepared:
		if err := rec.TransitionTo(ctxn.StateRollingBack); err != nil {
			w.fail(ctx, rec, err)
			return
		}
		w.rollback(ctx, rec)
	case ctxn.StateCommitting:
		w.fail(ctx, rec, fmt.Errorf("recovery: transaction stalled in COMMITTING; commit outcome cannot be determined, marking FAILED"))
	case ctxn.StateRollingBack:
		w.rollback(ctx, rec)
	default:
		// Already terminal; nothing to do. ListStalled should never return
		// these, but a defensive no-op keeps this branch total.
	}
}

// rollback re-runs the Compensator over rec. A Fatal outcome marks the
// record FAILED immediately (no further automatic recovery is possible). A
// Retryable (exhausted-retries) outcome instead increments retryCount and
// leaves the record in ROLLING_BACK for the next sweep cycle, unless that
// increment itself now reaches maxRecoveryAttempts, in which case the record
// is forced to FAILED here rather than waiting for another cycle to notice
// (spec.md §4.5 step 3).
func (w *Worker) rollback(ctx context.Context, rec *ctxn.TransactionRecord) {
	if _, err := w.comp.Rollback(ctx, rec); err != nil {
		if compensator.IsFatal(err) {
			w.fail(ctx, rec, err)
			return
		}
		rec.MarkRetry()
		rec.ErrorMessage = err.Error()
		_ = w.log.Save(ctx, rec, txlog.BestEffort)
		if rec.RetryCount >= w.maxRecoveryAttempts {
			w.fail(ctx, rec, fmt.Errorf("recovery: max recovery attempts exceeded: %w", err))
		}
		return
	}
	if err := rec.TransitionTo(ctxn.StateRolledBack); err != nil {
		w.fail(ctx, rec, err)
		return
	}
	_ = w.log.MarkTerminal(ctx, rec, txlog.BestEffort)
	if w.metrics != nil {
		w.metrics.Successful.Inc()
	}
}

func (w *Worker) fail(ctx context.Context, rec *ctxn.TransactionRecord, cause error) {
	rec.ErrorMessage = cause.Error()
	if rec.State != ctxn.StateFailed {
		_ = rec.TransitionTo(ctxn.StateFailed)
	}
	_ = w.log.MarkTerminal(ctx, rec, txlog.SyncWait)
	if w.metrics != nil {
		w.metrics.Failed.Inc()
	}
}
