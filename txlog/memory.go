package txlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sharedcode/ctxn"
)

// memoryStore is an in-process Store used by tests and the recovery worker's
// own test harness.
type memoryStore struct {
	mu       sync.Mutex
	active   map[ctxn.UUID]*ctxn.TransactionRecord
	terminal map[ctxn.UUID]*ctxn.TransactionRecord
	failed   map[ctxn.UUID]*ctxn.TransactionRecord
	updated  map[ctxn.UUID]time.Time
}

// NewMemoryStore returns a process-local Store.
func NewMemoryStore() Store {
	return &memoryStore{
		active:   make(map[ctxn.UUID]*ctxn.TransactionRecord),
		terminal: make(map[ctxn.UUID]*ctxn.TransactionRecord),
		failed:   make(map[ctxn.UUID]*ctxn.TransactionRecord),
		updated:  make(map[ctxn.UUID]time.Time),
	}
}

func (s *memoryStore) Create(ctx context.Context, rec *ctxn.TransactionRecord, mode DurabilityMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[rec.TxID]; ok {
		return fmt.Errorf("txlog: record %s already exists", rec.TxID)
	}
	s.active[rec.TxID] = rec.Clone()
	s.updated[rec.TxID] = ctxn.Now()
	return nil
}

func (s *memoryStore) Save(ctx context.Context, rec *ctxn.TransactionRecord, mode DurabilityMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[rec.TxID] = rec.Clone()
	s.updated[rec.TxID] = ctxn.Now()
	return nil
}

func (s *memoryStore) Load(ctx context.Context, txID ctxn.UUID) (*ctxn.TransactionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.active[txID]; ok {
		return r.Clone(), true, nil
	}
	if r, ok := s.terminal[txID]; ok {
		return r.Clone(), true, nil
	}
	if r, ok := s.failed[txID]; ok {
		return r.Clone(), true, nil
	}
	return nil, false, nil
}

func (s *memoryStore) MarkTerminal(ctx context.Context, rec *ctxn.TransactionRecord, mode DurabilityMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, rec.TxID)
	delete(s.updated, rec.TxID)
	clone := rec.Clone()
	if rec.State == ctxn.StateFailed {
		s.failed[rec.TxID] = clone
		return nil
	}
	s.terminal[rec.TxID] = clone
	return nil
}

func (s *memoryStore) ListStalled(ctx context.Context, olderThan time.Duration) ([]*ctxn.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := ctxn.Now().Add(-olderThan)
	var out []*ctxn.TransactionRecord
	for id, rec := range s.active {
		if s.updated[id].Before(cutoff) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (s *memoryStore) ListFailed(ctx context.Context) ([]*ctxn.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ctxn.TransactionRecord, 0, len(s.failed))
	for _, rec := range s.failed {
		out = append(out, rec.Clone())
	}
	return out, nil
}
