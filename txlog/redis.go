package txlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sharedcode/ctxn"
)

// indexActive and indexFailed are sorted sets keyed by last-update unix nano,
// mirroring the teacher's hour-bucketed index table (in_red_ck/cassandra/
// transaction_log.go's t_by_hour) but collapsed to a single always-current
// index since this module has no hour-rotation requirement of its own.
const (
	indexActive = "txlog:index:active"
	indexFailed = "txlog:index:failed"
)

// redisStore is the default Store backend, used when no Cassandra endpoint
// is configured. Grounded on the teacher's redis-coordinated transaction
// logger (in_red_ck/transaction_logger.go) for its "log every state
// transition durably, replay on restart" shape.
type redisStore struct {
	conn *redis.Client
}

// NewRedisStore returns a Store backed by an already-connected client.
func NewRedisStore(conn *redis.Client) Store {
	return &redisStore{conn: conn}
}

func (s *redisStore) writeOpts(mode DurabilityMode) *redis.Client {
	// go-redis issues every command synchronously over its connection, so a
	// write returns once the server has replied. Both durability modes use
	// the same client and commands: SyncWait issues no WAIT and no read-back.
	return s.conn
}

func (s *redisStore) Create(ctx context.Context, rec *ctxn.TransactionRecord, mode DurabilityMode) error {
	return s.save(ctx, rec, mode)
}

func (s *redisStore) Save(ctx context.Context, rec *ctxn.TransactionRecord, mode DurabilityMode) error {
	return s.save(ctx, rec, mode)
}

func (s *redisStore) save(ctx context.Context, rec *ctxn.TransactionRecord, mode DurabilityMode) error {
	conn := s.writeOpts(mode)
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("txlog: marshal %s: %w", rec.TxID, err)
	}
	key := ctxn.TxLogKey(rec.TxID)
	if err := conn.Set(ctx, key, b, 0).Err(); err != nil {
		return fmt.Errorf("txlog: save %s: %w", rec.TxID, err)
	}
	return conn.ZAdd(ctx, indexActive, redis.Z{
		Score:  float64(ctxn.Now().UnixNano()),
		Member: rec.TxID.String(),
	}).Err()
}

func (s *redisStore) Load(ctx context.Context, txID ctxn.UUID) (*ctxn.TransactionRecord, bool, error) {
	for _, key := range []string{ctxn.TxLogKey(txID), ctxn.TxLogFailedKey(txID)} {
		b, err := s.conn.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("txlog: load %s: %w", txID, err)
		}
		var rec ctxn.TransactionRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, false, fmt.Errorf("txlog: unmarshal %s: %w", txID, err)
		}
		return &rec, true, nil
	}
	return nil, false, nil
}

// MarkTerminal relocates a record once it reaches a terminal state: FAILED
// records move to the no-expiry manual-intervention key and the failed
// index (spec.md §7); COMMITTED and ROLLED_BACK records are removed from
// the active index but keep their key under a bounded TTL so a trailing
// Load from a racing caller still succeeds.
func (s *redisStore) MarkTerminal(ctx context.Context, rec *ctxn.TransactionRecord, mode DurabilityMode) error {
	conn := s.writeOpts(mode)
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("txlog: marshal %s: %w", rec.TxID, err)
	}
	pipe := conn.TxPipeline()
	pipe.ZRem(ctx, indexActive, rec.TxID.String())
	pipe.Del(ctx, ctxn.TxLogKey(rec.TxID))
	if rec.State == ctxn.StateFailed {
		pipe.Set(ctx, ctxn.TxLogFailedKey(rec.TxID), b, 0)
		pipe.ZAdd(ctx, indexFailed, redis.Z{Score: float64(ctxn.Now().UnixNano()), Member: rec.TxID.String()})
	} else {
		pipe.Set(ctx, ctxn.TxLogKey(rec.TxID), b, 24*time.Hour)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("txlog: mark terminal %s: %w", rec.TxID, err)
	}
	return nil
}

func (s *redisStore) ListStalled(ctx context.Context, olderThan time.Duration) ([]*ctxn.TransactionRecord, error) {
	cutoff := ctxn.Now().Add(-olderThan).UnixNano()
	ids, err := s.conn.ZRangeByScore(ctx, indexActive, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("txlog: list stalled: %w", err)
	}
	return s.loadAll(ctx, ctxn.TxLogKey, ids)
}

func (s *redisStore) ListFailed(ctx context.Context) ([]*ctxn.TransactionRecord, error) {
	ids, err := s.conn.ZRange(ctx, indexFailed, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("txlog: list failed: %w", err)
	}
	return s.loadAll(ctx, ctxn.TxLogFailedKey, ids)
}

func (s *redisStore) loadAll(ctx context.Context, keyFn func(ctxn.UUID) string, ids []string) ([]*ctxn.TransactionRecord, error) {
	out := make([]*ctxn.TransactionRecord, 0, len(ids))
	for _, idStr := range ids {
		id, err := ctxn.ParseUUID(idStr)
		if err != nil {
			continue
		}
		b, err := s.conn.Get(ctx, keyFn(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var rec ctxn.TransactionRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, nil
}
