package capture

import (
	"context"
	"testing"

	"github.com/sharedcode/ctxn"
)

func TestBindCreatesFreshHandle(t *testing.T) {
	rec := ctxn.NewTransactionRecord("order-1")
	ctx, h, nested := Bind(context.Background(), rec)
	if nested {
		t.Fatalf("expected a fresh bind to report nested=false")
	}
	got, ok := FromContext(ctx)
	if !ok || got != h {
		t.Fatalf("FromContext did not return the bound handle")
	}
}

func TestBindJoinsExistingHandle(t *testing.T) {
	rec := ctxn.NewTransactionRecord("order-1")
	ctx, h1, _ := Bind(context.Background(), rec)
	_, h2, nested := Bind(ctx, ctxn.NewTransactionRecord("order-2"))
	if !nested {
		t.Fatalf("expected the second Bind on an already-bound context to report nested=true")
	}
	if h1 != h2 {
		t.Fatalf("expected the second Bind to return the original handle, not a new one")
	}
	if !h1.Nested() {
		t.Fatalf("expected the original handle to be marked nested")
	}
}

func TestIsNested(t *testing.T) {
	if IsNested(context.Background()) {
		t.Fatalf("a bare context should not report as nested")
	}
	ctx, _, _ := Bind(context.Background(), ctxn.NewTransactionRecord("order-1"))
	if !IsNested(ctx) {
		t.Fatalf("a bound context should report as nested")
	}
}

func TestRecordInsertRequiresHandle(t *testing.T) {
	err := RecordInsert(context.Background(), "orders-db", "orders", "o-1", nil)
	if err == nil {
		t.Fatalf("expected an error recording without a bound handle")
	}
}

func TestRecordInsertAppendsOperation(t *testing.T) {
	rec := ctxn.NewTransactionRecord("order-1")
	_ = rec.TransitionTo(ctxn.StateCollecting)
	ctx, _, _ := Bind(context.Background(), rec)

	if err := RecordInsert(ctx, "orders-db", "orders", "o-1", map[string]any{"status": "new"}); err != nil {
		t.Fatalf("RecordInsert: %v", err)
	}

	ops, err := Confirmed(ctx)
	if err != nil {
		t.Fatalf("Confirmed: %v", err)
	}
	if len(ops) != 1 || ops[0].OperationType != ctxn.OpInsert || ops[0].EntityID != "o-1" {
		t.Fatalf("unexpected captured operations: %+v", ops)
	}
}

func TestRecordUpdateCapturesPreImage(t *testing.T) {
	rec := ctxn.NewTransactionRecord("order-1")
	_ = rec.TransitionTo(ctxn.StateCollecting)
	ctx, _, _ := Bind(context.Background(), rec)

	pre := map[string]any{"balance": 50.0}
	if err := RecordUpdate(ctx, "accounts-db", "accounts", "a-1", pre); err != nil {
		t.Fatalf("RecordUpdate: %v", err)
	}
	pre["balance"] = 999.0

	ops, _ := Confirmed(ctx)
	if ops[0].Snapshot["balance"] != 50.0 {
		t.Fatalf("pre-image was not independently captured: got %v", ops[0].Snapshot["balance"])
	}
}

func TestDisableSuppressesCapture(t *testing.T) {
	rec := ctxn.NewTransactionRecord("order-1")
	_ = rec.TransitionTo(ctxn.StateCollecting)
	ctx, h, _ := Bind(context.Background(), rec)

	h.Disable()
	if err := RecordInsert(ctx, "orders-db", "orders", "o-1", nil); err != nil {
		t.Fatalf("RecordInsert while disabled should not error: %v", err)
	}
	ops, _ := Confirmed(ctx)
	if len(ops) != 0 {
		t.Fatalf("expected no operations captured while disabled, got %d", len(ops))
	}

	h.Enable()
	if err := RecordInsert(ctx, "orders-db", "orders", "o-2", nil); err != nil {
		t.Fatalf("RecordInsert: %v", err)
	}
	ops, _ = Confirmed(ctx)
	if len(ops) != 1 {
		t.Fatalf("expected one operation captured after re-enabling, got %d", len(ops))
	}
}

func TestRecordRejectsAfterValidating(t *testing.T) {
	rec := ctxn.NewTransactionRecord("order-1")
	_ = rec.TransitionTo(ctxn.StateCollecting)
	_ = rec.TransitionTo(ctxn.StateValidating)
	ctx, _, _ := Bind(context.Background(), rec)

	if err := RecordInsert(ctx, "orders-db", "orders", "o-1", nil); err == nil {
		t.Fatalf("expected an error capturing an operation once past COLLECTING")
	}
}
