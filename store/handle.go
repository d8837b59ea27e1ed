// Package store provides the per-datastore SQL handle the coordinator and
// compensator execute against. Grounded on the teacher's multi-backend
// registration pattern (cachefactory.go's type->factory registry) adapted
// from cache backends to named SQL datasources, and on lib/pq as the
// driver the rest of the example pack (jordigilh-kubernaut's go.mod) pairs
// with database/sql.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	_ "github.com/lib/pq"
)

// Handle wraps a single datastore's *sql.DB under the logical name the
// business callable used when it captured the operation (spec.md §3's
// "datasource" field), so the compensator can route an inverse statement to
// the right connection pool without knowing concrete driver details.
type Handle struct {
	Name string
	DB   *sql.DB
}

// ExecContext runs query against this handle's pool and returns the number
// of rows it affected. Used by the Compensator, which applies inverses after
// the per-store local transaction that captured the original operation has
// already been committed or rolled back, so it always runs autocommit.
func (h *Handle) ExecContext(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := h.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: exec on %s: %w", h.Name, err)
	}
	return res.RowsAffected()
}

// Begin opens an independent local transaction on this store, per spec.md
// §4.1 step 5, returned as a Tx so callers never reach for *sql.Tx directly.
func (h *Handle) Begin(ctx context.Context) (*Tx, error) {
	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin %s: %w", h.Name, err)
	}
	return &Tx{Name: h.Name, tx: tx}, nil
}

// Tx is one per-store local transaction the Coordinator opens before the
// business callable runs and commits (or rolls back) around it.
type Tx struct {
	Name string
	tx   *sql.Tx
}

// ExecContext runs query inside this local transaction.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: exec on %s (tx): %w", t.Name, err)
	}
	return res.RowsAffected()
}

// Commit commits the local transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("store: commit %s: %w", t.Name, err)
	}
	return nil
}

// Rollback rolls back the local transaction. Rolling back a transaction that
// already committed returns sql.ErrTxDone, which this treats as success, so
// callers can unconditionally roll back every transaction in a set without
// tracking which ones already committed.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("store: rollback %s: %w", t.Name, err)
	}
	return nil
}

// Registry maps a logical datasource name to its Handle, the routing table
// the coordinator and compensator consult.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Register opens a *sql.DB for (driverName, dsn) and binds it to name.
func Register(reg *Registry, name, driverName, dsn string) error {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return fmt.Errorf("store: open %s: %w", name, err)
	}
	reg.Put(name, &Handle{Name: name, DB: db})
	return nil
}

// Put binds an already-constructed Handle, used by tests to inject a
// sqlmock-backed *sql.DB.
func (r *Registry) Put(name string, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[name] = h
}

// Get returns the handle bound to name.
func (r *Registry) Get(name string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	if !ok {
		return nil, fmt.Errorf("store: no datasource registered for %q", name)
	}
	return h, nil
}

// Names returns every registered datasource name in deterministic
// (lexicographic) order, the iteration order spec.md §4.1 step 10 requires
// for the commit phase.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BeginAll opens one local transaction per registered store, in Names'
// deterministic order (spec.md §4.1 step 5: "Open an independent local
// transaction on every known store"). If any Begin fails, every transaction
// opened so far is rolled back before the error is returned.
func (r *Registry) BeginAll(ctx context.Context) (*TxSet, error) {
	names := r.Names()
	set := &TxSet{txs: make(map[string]*Tx, len(names)), order: names}
	for _, name := range names {
		h, err := r.Get(name)
		if err != nil {
			set.RollbackAll()
			return nil, err
		}
		tx, err := h.Begin(ctx)
		if err != nil {
			set.RollbackAll()
			return nil, err
		}
		set.txs[name] = tx
	}
	return set, nil
}
