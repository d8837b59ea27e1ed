package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sharedcode/ctxn"
)

func TestAllowStartsTrue(t *testing.T) {
	r := NewRegistry(3, time.Minute)
	txID := ctxn.NewUUID()
	if !r.Allow(txID) {
		t.Fatalf("expected a fresh breaker to allow")
	}
}

func TestExecuteTripsAfterConsecutiveFailures(t *testing.T) {
	r := NewRegistry(2, time.Minute)
	txID := ctxn.NewUUID()
	boom := errors.New("boom")

	_ = r.Execute(txID, func() error { return boom })
	_ = r.Execute(txID, func() error { return boom })

	if r.State(txID) != gobreaker.StateOpen {
		t.Fatalf("state = %v, want Open after 2 consecutive failures", r.State(txID))
	}
	if r.Allow(txID) {
		t.Fatalf("expected Allow to be false once the breaker is open")
	}
}

func TestExecuteResetsOnSuccess(t *testing.T) {
	r := NewRegistry(2, time.Minute)
	txID := ctxn.NewUUID()
	boom := errors.New("boom")

	_ = r.Execute(txID, func() error { return boom })
	_ = r.Execute(txID, func() error { return nil })

	if r.State(txID) != gobreaker.StateClosed {
		t.Fatalf("state = %v, want Closed after an intervening success", r.State(txID))
	}
}

func TestForgetDropsBreakerState(t *testing.T) {
	r := NewRegistry(1, time.Minute)
	txID := ctxn.NewUUID()
	_ = r.Execute(txID, func() error { return errors.New("boom") })
	if r.State(txID) != gobreaker.StateOpen {
		t.Fatalf("expected breaker to be open before Forget")
	}
	r.Forget(txID)
	if r.State(txID) != gobreaker.StateClosed {
		t.Fatalf("expected a fresh breaker (Closed) after Forget, got %v", r.State(txID))
	}
}

func TestBreakersAreIndependentPerTransaction(t *testing.T) {
	r := NewRegistry(1, time.Minute)
	tx1, tx2 := ctxn.NewUUID(), ctxn.NewUUID()
	_ = r.Execute(tx1, func() error { return errors.New("boom") })

	if r.State(tx1) != gobreaker.StateOpen {
		t.Fatalf("tx1 should be open")
	}
	if r.State(tx2) != gobreaker.StateClosed {
		t.Fatalf("tx2 should be unaffected by tx1's failures")
	}
}
