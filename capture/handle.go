// Package capture implements the operation capture engine (spec.md §4.2):
// recording every mutating call a business method makes against its
// datastores as an ordered, reversible OperationRecord, bound to the calling
// goroutine's context instead of a thread-local, since Go has no aspect
// weaver to intercept calls the way the teacher's AOP-based original did.
// Grounded on the teacher's itemActionTracker (item_action_tracker.go),
// which tracks one cacheItem per key touched inside a transaction and
// classifies get/add/update/remove call sequences into a net effect.
package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/sharedcode/ctxn"
)

type ctxKeyType struct{}

var ctxKey = ctxKeyType{}

// Handle is the ambient capture context bound into a request's
// context.Context, analogous to the teacher's per-transaction
// itemActionTracker but scoped to the whole compensating transaction rather
// than one B-tree.
type Handle struct {
	mu      sync.Mutex
	record  *ctxn.TransactionRecord
	enabled bool
	nested  bool
}

// Bind returns a new context carrying a fresh Handle around record, or, if
// ctx already carries one, returns ctx unchanged with nested=true recorded
// on the existing handle — this is how Execute detects that a business
// method has called another coordinator-managed method re-entrantly and
// must join the outer transaction instead of starting a second one
// (spec.md §4.1 "nested calls join the existing transaction").
func Bind(ctx context.Context, record *ctxn.TransactionRecord) (context.Context, *Handle, bool) {
	if h, ok := FromContext(ctx); ok {
		h.mu.Lock()
		h.nested = true
		h.mu.Unlock()
		return ctx, h, true
	}
	h := &Handle{record: record, enabled: true}
	return context.WithValue(ctx, ctxKey, h), h, false
}

// FromContext retrieves the Handle bound to ctx, if any.
func FromContext(ctx context.Context) (*Handle, bool) {
	h, ok := ctx.Value(ctxKey).(*Handle)
	return h, ok
}

// IsNested reports whether ctx already carries a bound Handle, without
// creating or mutating anything. A coordinator call that finds this true
// must join the existing transaction rather than start a new one.
func IsNested(ctx context.Context) bool {
	_, ok := FromContext(ctx)
	return ok
}

// Record returns the handle's underlying transaction record.
func (h *Handle) Record() *ctxn.TransactionRecord {
	return h.record
}

// Nested reports whether this handle was joined by a re-entrant call.
func (h *Handle) Nested() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nested
}

// Enable turns operation capture on; Disable turns it off without losing
// already-captured operations, matching spec.md's enable/disable toggle used
// around known-irreversible or already-compensated sections of code.
func (h *Handle) Enable()  { h.setEnabled(true) }
func (h *Handle) Disable() { h.setEnabled(false) }

func (h *Handle) setEnabled(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enabled = v
}

func (h *Handle) isEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled
}

// record_ appends op to the bound transaction record if capture is currently
// enabled and the record has not progressed past COLLECTING.
func (h *Handle) record_(op ctxn.OperationRecord) error {
	if !h.isEnabled() {
		return nil
	}
	if h.record.State != ctxn.StateCollecting && h.record.State != ctxn.StateCreated {
		return fmt.Errorf("capture: record %s is in state %s, no longer accepting operations", h.record.TxID, h.record.State)
	}
	h.record.AppendOperation(op)
	return nil
}
