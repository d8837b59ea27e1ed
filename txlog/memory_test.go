package txlog

import (
	"context"
	"testing"
	"time"

	"github.com/sharedcode/ctxn"
)

func TestMemoryStoreCreateAndLoad(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	rec := ctxn.NewTransactionRecord("order-1")

	if err := s.Create(ctx, rec, BestEffort); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, ok, err := s.Load(ctx, rec.TxID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok || got.TxID != rec.TxID {
		t.Fatalf("Load = (%+v, %v), want the created record", got, ok)
	}
}

func TestMemoryStoreCreateRejectsDuplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	rec := ctxn.NewTransactionRecord("order-1")
	_ = s.Create(ctx, rec, BestEffort)
	if err := s.Create(ctx, rec, BestEffort); err == nil {
		t.Fatalf("expected Create to reject an already-existing transaction id")
	}
}

func TestMemoryStoreMarkTerminalRoutesFailedSeparately(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	rec := ctxn.NewTransactionRecord("order-1")
	_ = s.Create(ctx, rec, BestEffort)
	_ = rec.TransitionTo(ctxn.StateCollecting)
	_ = rec.TransitionTo(ctxn.StateRollingBack)
	_ = rec.TransitionTo(ctxn.StateFailed)

	if err := s.MarkTerminal(ctx, rec, SyncWait); err != nil {
		t.Fatalf("MarkTerminal: %v", err)
	}

	failed, err := s.ListFailed(ctx)
	if err != nil {
		t.Fatalf("ListFailed: %v", err)
	}
	if len(failed) != 1 || failed[0].TxID != rec.TxID {
		t.Fatalf("ListFailed = %+v, want one entry for %v", failed, rec.TxID)
	}

	_, active, _ := s.Load(ctx, rec.TxID)
	if !active {
		t.Fatalf("expected Load to still find the terminal record")
	}
}

func TestMemoryStoreListStalledHonorsThreshold(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	old := ctxn.Now
	defer func() { ctxn.Now = old }()

	base := old()
	ctxn.Now = func() time.Time { return base }
	stale := ctxn.NewTransactionRecord("stale-order")
	_ = s.Create(ctx, stale, BestEffort)

	ctxn.Now = func() time.Time { return base.Add(time.Hour) }
	fresh := ctxn.NewTransactionRecord("fresh-order")
	_ = s.Create(ctx, fresh, BestEffort)

	stalled, err := s.ListStalled(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("ListStalled: %v", err)
	}
	if len(stalled) != 1 || stalled[0].TxID != stale.TxID {
		t.Fatalf("ListStalled = %+v, want only the stale record", stalled)
	}
}
