package cachekv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCache is the default L2 cache backend for the lock/idempotency/
// app-cache facades and the Recovery Worker's sweep lock.
// Grounded on the teacher's redis.client (redis/redis.go) and its lock
// operations (redis/locker.go).
type redisCache struct {
	conn    *redis.Client
	isOwner bool
}

// NewRedisCache dials addr and returns a CloseableCache backed by it.
func NewRedisCache(opts *redis.Options) (CloseableCache, error) {
	c := redis.NewClient(opts)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("cachekv: redis ping: %w", err)
	}
	return &redisCache{conn: c, isOwner: true}, nil
}

// NewRedisCacheFromClient wraps an already-connected client this package
// does not own the lifecycle of (Close becomes a no-op).
func NewRedisCacheFromClient(c *redis.Client) CloseableCache {
	return &redisCache{conn: c, isOwner: false}
}

func (r *redisCache) Close() error {
	if !r.isOwner {
		return nil
	}
	return r.conn.Close()
}

func isKeyNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}

func (r *redisCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	if expiration < 0 {
		return nil
	}
	return r.conn.Set(ctx, key, value, expiration).Err()
}

func (r *redisCache) Get(ctx context.Context, key string) (bool, string, error) {
	v, err := r.conn.Get(ctx, key).Result()
	if isKeyNotFound(err) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, v, nil
}

func (r *redisCache) GetEx(ctx context.Context, key string, expiration time.Duration) (bool, string, error) {
	v, err := r.conn.GetEx(ctx, key, expiration).Result()
	if isKeyNotFound(err) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, v, nil
}

func (r *redisCache) SetStruct(ctx context.Context, key string, value any, expiration time.Duration) error {
	if expiration < 0 {
		return nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.conn.Set(ctx, key, b, expiration).Err()
}

func (r *redisCache) GetStruct(ctx context.Context, key string, target any) (bool, error) {
	b, err := r.conn.Get(ctx, key).Bytes()
	if isKeyNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, target)
}

func (r *redisCache) GetStructEx(ctx context.Context, key string, target any, expiration time.Duration) (bool, error) {
	b, err := r.conn.GetEx(ctx, key, expiration).Bytes()
	if isKeyNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, target)
}

func (r *redisCache) Delete(ctx context.Context, keys ...string) (bool, error) {
	n, err := r.conn.Del(ctx, keys...).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *redisCache) Ping(ctx context.Context) error {
	return r.conn.Ping(ctx).Err()
}

func (r *redisCache) Clear(ctx context.Context) error {
	return r.conn.FlushDB(ctx).Err()
}

// Lock acquires every lockKey, or none, following the teacher's Get-then-Set-
// then-double-Get winner pattern (redis/locker.go Lock): a lock is contested
// by SetNX; the caller then re-reads the stored owner id to confirm it (and
// not a racing peer) actually won, since SetNX alone can't tell a winner from
// a retry of its own prior attempt after a timeout.
func (r *redisCache) Lock(ctx context.Context, duration time.Duration, lockKeys ...*LockKey) (bool, error) {
	allWon := true
	for _, lk := range lockKeys {
		ok, err := r.conn.SetNX(ctx, lk.Key, lk.LockID.String(), duration).Result()
		if err != nil {
			return false, err
		}
		if ok {
			lk.IsLockOwner = true
			continue
		}
		// Someone holds it (or held it); confirm whether it is us from a
		// previous attempt that still has time left.
		owner, err := r.conn.Get(ctx, lk.Key).Result()
		if err != nil && !isKeyNotFound(err) {
			return false, err
		}
		if owner == lk.LockID.String() {
			lk.IsLockOwner = true
			continue
		}
		lk.IsLockOwner = false
		allWon = false
	}
	if !allWon {
		_ = r.Unlock(ctx, lockKeys...)
	}
	return allWon, nil
}

func (r *redisCache) IsLocked(ctx context.Context, lockKeys ...*LockKey) (bool, error) {
	for _, lk := range lockKeys {
		v, err := r.conn.Get(ctx, lk.Key).Result()
		if isKeyNotFound(err) {
			continue
		}
		if err != nil {
			return false, err
		}
		if v != "" {
			return true, nil
		}
	}
	return false, nil
}

// Unlock deletes only the keys this client actually owns, mirroring
// redis/locker.go Unlock so one client can never clobber a peer's lock.
func (r *redisCache) Unlock(ctx context.Context, lockKeys ...*LockKey) error {
	var owned []string
	for _, lk := range lockKeys {
		if lk.IsLockOwner {
			owned = append(owned, lk.Key)
		}
	}
	if len(owned) == 0 {
		return nil
	}
	return r.conn.Del(ctx, owned...).Err()
}
