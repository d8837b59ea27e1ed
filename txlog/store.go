// Package txlog is the durable transaction log store of spec.md §4.3.
// Grounded on the teacher's TransactionLog interface and hour-bucketed
// Cassandra backend (in_red_ck/cassandra/transaction_log.go) and its
// Redis-coordinated transaction_logger (in_red_ck/transaction_logger.go).
package txlog

import (
	"context"
	"time"

	"github.com/sharedcode/ctxn"
)

// DurabilityMode is the durability level a caller asks for on each write
// (spec.md §4.3 "best-effort vs sync-wait durability"). The backends in this
// package (memory, Redis, Cassandra) accept it but perform the same write for
// both modes: none of them waits for replica acknowledgement or reads the
// value back under SyncWait.
type DurabilityMode int

const (
	// BestEffort returns once the backend client's write call returns.
	BestEffort DurabilityMode = iota
	// SyncWait is accepted by every backend here and handled the same as
	// BestEffort.
	SyncWait
)

// Store is the durable log of in-flight and historical transaction records.
type Store interface {
	// Create persists a brand-new record in state CREATED.
	Create(ctx context.Context, rec *ctxn.TransactionRecord, mode DurabilityMode) error
	// Save persists the current state of an existing record.
	Save(ctx context.Context, rec *ctxn.TransactionRecord, mode DurabilityMode) error
	// Load retrieves a record by transaction id. The second return value is
	// false if no such record (active or failed) exists.
	Load(ctx context.Context, txID ctxn.UUID) (*ctxn.TransactionRecord, bool, error)
	// MarkTerminal moves a terminal record into its final resting place; for
	// FAILED records this also relocates it under the no-expiry manual
	// intervention key (spec.md §6).
	MarkTerminal(ctx context.Context, rec *ctxn.TransactionRecord, mode DurabilityMode) error
	// ListStalled returns records in a non-terminal state whose last update
	// is older than olderThan, the Recovery Worker's sweep target
	// (spec.md §4.5).
	ListStalled(ctx context.Context, olderThan time.Duration) ([]*ctxn.TransactionRecord, error)
	// ListFailed returns every record parked under the FAILED namespace for
	// manual inspection (spec.md §4.3).
	ListFailed(ctx context.Context) ([]*ctxn.TransactionRecord, error)
}
