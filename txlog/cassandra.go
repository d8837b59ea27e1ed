package txlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/sharedcode/ctxn"
)

// cassandraStore is the high-volume Store backend for deployments that need
// a write-optimized, horizontally-scalable log. Grounded directly on the
// teacher's hour-bucketed table layout (in_red_ck/cassandra/transaction_log.go:
// t_by_hour indexes which hour buckets have live entries, t_log holds the
// payload), adapted here from B-tree commit-step logs to whole
// TransactionRecord snapshots.
type cassandraStore struct {
	session *gocql.Session
}

// NewCassandraStore returns a Store backed by session. Callers are expected
// to have already created the t_log and t_by_hour tables (see
// CreateSchemaCQL).
func NewCassandraStore(session *gocql.Session) Store {
	return &cassandraStore{session: session}
}

// CreateSchemaCQL is the DDL this backend expects, exposed so callers can
// run it once at provisioning time the way the teacher's store bootstrap
// does for its own B-tree tables.
const CreateSchemaCQL = `
CREATE TABLE IF NOT EXISTS t_log (
	id text PRIMARY KEY,
	state int,
	hour text,
	payload blob
);
CREATE TABLE IF NOT EXISTS t_by_hour (
	hour text,
	id text,
	failed boolean,
	PRIMARY KEY (hour, id)
);`

func hourBucket(t time.Time) string {
	return t.UTC().Format("2006010215")
}

func (s *cassandraStore) Create(ctx context.Context, rec *ctxn.TransactionRecord, mode DurabilityMode) error {
	return s.save(ctx, rec)
}

func (s *cassandraStore) Save(ctx context.Context, rec *ctxn.TransactionRecord, mode DurabilityMode) error {
	return s.save(ctx, rec)
}

func (s *cassandraStore) save(ctx context.Context, rec *ctxn.TransactionRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("txlog: marshal %s: %w", rec.TxID, err)
	}
	hour := hourBucket(ctxn.Now())
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO t_log (id, state, hour, payload) VALUES (?, ?, ?, ?)`,
		rec.TxID.String(), int(rec.State), hour, b)
	batch.Query(`INSERT INTO t_by_hour (hour, id, failed) VALUES (?, ?, ?)`,
		hour, rec.TxID.String(), rec.State == ctxn.StateFailed)
	if err := s.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("txlog: save %s: %w", rec.TxID, err)
	}
	return nil
}

func (s *cassandraStore) Load(ctx context.Context, txID ctxn.UUID) (*ctxn.TransactionRecord, bool, error) {
	var payload []byte
	err := s.session.Query(`SELECT payload FROM t_log WHERE id = ?`, txID.String()).
		WithContext(ctx).Scan(&payload)
	if err == gocql.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("txlog: load %s: %w", txID, err)
	}
	var rec ctxn.TransactionRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, false, fmt.Errorf("txlog: unmarshal %s: %w", txID, err)
	}
	return &rec, true, nil
}

func (s *cassandraStore) MarkTerminal(ctx context.Context, rec *ctxn.TransactionRecord, mode DurabilityMode) error {
	return s.save(ctx, rec)
}

// ListStalled scans the hour buckets between now and olderThan ago — the
// teacher's processExpiredTransactionLogs (in_red_ck/transaction_logger.go)
// performs the analogous scan over hourBeingProcessed on restart.
func (s *cassandraStore) ListStalled(ctx context.Context, olderThan time.Duration) ([]*ctxn.TransactionRecord, error) {
	cutoff := ctxn.Now().Add(-olderThan)
	var out []*ctxn.TransactionRecord
	for h := cutoff; !h.After(ctxn.Now()); h = h.Add(time.Hour) {
		recs, err := s.recordsInHour(ctx, hourBucket(h), false)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if !rec.State.IsTerminal() {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

func (s *cassandraStore) ListFailed(ctx context.Context) ([]*ctxn.TransactionRecord, error) {
	// Failed records have no expiry and must remain discoverable regardless
	// of hour; scan the last year of buckets, matching the unbounded
	// retention spec.md §7 requires for manual intervention.
	var out []*ctxn.TransactionRecord
	now := ctxn.Now()
	for h := now.Add(-365 * 24 * time.Hour); !h.After(now); h = h.Add(time.Hour) {
		recs, err := s.recordsInHour(ctx, hourBucket(h), true)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (s *cassandraStore) recordsInHour(ctx context.Context, hour string, failedOnly bool) ([]*ctxn.TransactionRecord, error) {
	q := `SELECT id, failed FROM t_by_hour WHERE hour = ?`
	iter := s.session.Query(q, hour).WithContext(ctx).Iter()
	var id string
	var failed bool
	var out []*ctxn.TransactionRecord
	for iter.Scan(&id, &failed) {
		if failedOnly && !failed {
			continue
		}
		txID, err := ctxn.ParseUUID(id)
		if err != nil {
			continue
		}
		rec, ok, err := s.Load(ctx, txID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("txlog: scan hour %s: %w", hour, err)
	}
	return out, nil
}
