package store

import (
	"context"
	"fmt"
)

type txSetKeyType struct{}

var txSetKey = txSetKeyType{}

// TxSet is the group of per-store local transactions a Coordinator opens
// before running the business callable (spec.md §4.1 step 5), bound into
// the callable's context so business code can reach the transaction for
// whichever store it is about to mutate via TxFor.
type TxSet struct {
	txs   map[string]*Tx
	order []string
}

// BindTxSet returns a new context carrying set, retrievable via TxFor.
func BindTxSet(ctx context.Context, set *TxSet) context.Context {
	return context.WithValue(ctx, txSetKey, set)
}

// TxFor returns the open local transaction for datasource name, bound to
// ctx by the Coordinator before the business callable ran.
func TxFor(ctx context.Context, name string) (*Tx, error) {
	set, ok := ctx.Value(txSetKey).(*TxSet)
	if !ok {
		return nil, fmt.Errorf("store: no transaction set bound to context")
	}
	tx, ok := set.txs[name]
	if !ok {
		return nil, fmt.Errorf("store: no local transaction open for datasource %q", name)
	}
	return tx, nil
}

// CommitAll commits every transaction in the set in deterministic order
// (spec.md §4.1 step 10), stopping at the first failure. committed lists the
// stores that committed successfully before the failure, if any — callers
// use its length to distinguish a first-commit failure (nothing yet
// committed) from a later one (spec.md §7 CommitError taxonomy).
func (s *TxSet) CommitAll() (committed []string, err error) {
	for _, name := range s.order {
		if err := s.txs[name].Commit(); err != nil {
			return committed, fmt.Errorf("store: commit %s: %w", name, err)
		}
		committed = append(committed, name)
	}
	return committed, nil
}

// RollbackAll rolls back every transaction in the set, best-effort. A
// transaction that already committed rolls back as a no-op (see Tx.Rollback),
// so this is safe to call unconditionally after a partial CommitAll.
func (s *TxSet) RollbackAll() {
	for _, name := range s.order {
		if tx := s.txs[name]; tx != nil {
			_ = tx.Rollback()
		}
	}
}
