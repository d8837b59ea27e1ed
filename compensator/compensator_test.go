package compensator

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/sharedcode/ctxn"
	"github.com/sharedcode/ctxn/store"
)

func newTestRegistry(t *testing.T, name string) (*store.Registry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	reg := store.NewRegistry()
	reg.Put(name, &store.Handle{Name: name, DB: db})
	return reg, mock
}

func TestRollbackAppliesInReverseSequenceOrder(t *testing.T) {
	reg, mock := newTestRegistry(t, "orders-db")

	rec := ctxn.NewTransactionRecord("order-1")
	rec.AppendOperation(ctxn.OperationRecord{Datasource: "orders-db", OperationType: ctxn.OpInsert, EntityClass: "orders", EntityID: "o-1"})
	rec.AppendOperation(ctxn.OperationRecord{Datasource: "orders-db", OperationType: ctxn.OpUpdate, EntityClass: "orders", EntityID: "o-1", Snapshot: map[string]any{"id": "o-1", "status": "pending"}})

	mock.ExpectExec(`UPDATE orders SET status = \$1 WHERE id = \$2`).WithArgs("pending", "o-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM orders WHERE id = \$1`).WithArgs("o-1").WillReturnResult(sqlmock.NewResult(0, 1))

	c := New(reg)
	results, err := c.Rollback(context.Background(), rec)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	for _, r := range results {
		if r.Outcome != Success {
			t.Fatalf("result outcome = %v, want Success", r.Outcome)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations (order of execution was likely wrong): %v", err)
	}
	for _, op := range rec.Operations {
		if !op.Compensated {
			t.Fatalf("expected every operation to be marked compensated")
		}
	}
}

func TestRollbackStopsAtFirstFatalOutcome(t *testing.T) {
	reg, _ := newTestRegistry(t, "orders-db")

	rec := ctxn.NewTransactionRecord("order-1")
	rec.AppendOperation(ctxn.OperationRecord{Datasource: "orders-db", OperationType: ctxn.OpInsert, EntityClass: "orders", EntityID: "o-1"})
	// A blank entityId fails inverseFor's own validation deterministically
	// (Fatal), without depending on the ShouldRetry classification of a
	// driver-level error.
	rec.AppendOperation(ctxn.OperationRecord{Datasource: "orders-db", OperationType: ctxn.OpInsert, EntityClass: "orders", EntityID: ""})

	c := New(reg)
	results, err := c.Rollback(context.Background(), rec)
	if err == nil {
		t.Fatalf("expected Rollback to return an error on a fatal outcome")
	}
	if !IsFatal(err) {
		t.Fatalf("expected a Fatal outcome to be reported via IsFatal")
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1 (walk should stop after the fatal result)", len(results))
	}
	if results[0].Outcome != Fatal {
		t.Fatalf("outcome = %v, want Fatal", results[0].Outcome)
	}
}

func TestRollbackSkipsAlreadyCompensatedOperations(t *testing.T) {
	reg, mock := newTestRegistry(t, "orders-db")

	rec := ctxn.NewTransactionRecord("order-1")
	rec.AppendOperation(ctxn.OperationRecord{Datasource: "orders-db", OperationType: ctxn.OpInsert, EntityClass: "orders", EntityID: "o-1", Compensated: true})
	rec.AppendOperation(ctxn.OperationRecord{Datasource: "orders-db", OperationType: ctxn.OpInsert, EntityClass: "orders", EntityID: "o-2"})

	mock.ExpectExec(`DELETE FROM orders WHERE id = \$1`).WithArgs("o-2").WillReturnResult(sqlmock.NewResult(0, 1))

	c := New(reg)
	results, err := c.Rollback(context.Background(), rec)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1 (the already-compensated op should be skipped)", len(results))
	}
}

func TestRollbackContinuesPastRetryableOutcome(t *testing.T) {
	reg, mock := newTestRegistry(t, "orders-db")

	rec := ctxn.NewTransactionRecord("order-1")
	rec.AppendOperation(ctxn.OperationRecord{Datasource: "orders-db", OperationType: ctxn.OpInsert, EntityClass: "orders", EntityID: "o-1"})
	rec.AppendOperation(ctxn.OperationRecord{Datasource: "orders-db", OperationType: ctxn.OpInsert, EntityClass: "orders", EntityID: "o-2"})

	// Sequence 2 (the later op, compensated first) fails every attempt with
	// an ordinary, retryable driver error; sequence 1 must still be attempted
	// afterward rather than the sweep stopping, per spec.md §4.4.
	retryableErr := errors.New("connection reset by peer")
	mock.ExpectExec(`DELETE FROM orders WHERE id = \$1`).WithArgs("o-2").WillReturnError(retryableErr)
	mock.ExpectExec(`DELETE FROM orders WHERE id = \$1`).WithArgs("o-2").WillReturnError(retryableErr)
	mock.ExpectExec(`DELETE FROM orders WHERE id = \$1`).WithArgs("o-1").WillReturnResult(sqlmock.NewResult(0, 1))

	c := New(reg, WithRetry(1, time.Millisecond))
	results, err := c.Rollback(context.Background(), rec)
	if err == nil {
		t.Fatalf("expected Rollback to report the uncompensated operation")
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2 (the sweep must continue past the retryable outcome)", len(results))
	}
	if results[0].Outcome != Retryable {
		t.Fatalf("results[0].Outcome = %v, want Retryable", results[0].Outcome)
	}
	if results[1].Outcome != Success {
		t.Fatalf("results[1].Outcome = %v, want Success", results[1].Outcome)
	}
	if rec.Operations[1].Compensated {
		t.Fatalf("sequence 2 should remain uncompensated for the Recovery Worker to retry")
	}
	if !rec.Operations[0].Compensated {
		t.Fatalf("sequence 1 should have been compensated despite sequence 2's failure")
	}
	if IsFatal(err) {
		t.Fatalf("an exhausted-retries outcome must not be classified Fatal")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRollbackUnknownDatasourceIsFatal(t *testing.T) {
	reg := store.NewRegistry()
	rec := ctxn.NewTransactionRecord("order-1")
	rec.AppendOperation(ctxn.OperationRecord{Datasource: "missing-db", OperationType: ctxn.OpInsert, EntityClass: "orders", EntityID: "o-1"})

	c := New(reg)
	results, err := c.Rollback(context.Background(), rec)
	if err == nil {
		t.Fatalf("expected an error for an unregistered datasource")
	}
	if !IsFatal(err) {
		t.Fatalf("expected a missing datasource to be reported via IsFatal")
	}
	if results[0].Outcome != Fatal {
		t.Fatalf("outcome = %v, want Fatal", results[0].Outcome)
	}
}
