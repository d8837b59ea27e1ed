// Package cachekv provides the L2 cache abstraction shared by the
// transaction log store, the lock/idempotency/app-cache facades and the
// Recovery Worker's sweep lock. Grounded on the teacher's cache.Cache
// interface (SharedCode/sop/repository.go) and redis.client
// (SharedCode/sop/cache/redis.go, SharedCode/sop/redis/redis.go).
package cachekv

import (
	"context"
	"io"
	"time"

	"github.com/sharedcode/ctxn"
)

// Cache is the generic string-keyed, TTL-aware cache used throughout this
// module, with built-in distributed-locking primitives on top of it.
type Cache interface {
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	// Get's first return value signals whether the key was found.
	Get(ctx context.Context, key string) (bool, string, error)
	GetEx(ctx context.Context, key string, expiration time.Duration) (bool, string, error)

	SetStruct(ctx context.Context, key string, value any, expiration time.Duration) error
	GetStruct(ctx context.Context, key string, target any) (bool, error)
	GetStructEx(ctx context.Context, key string, target any, expiration time.Duration) (bool, error)

	Delete(ctx context.Context, keys ...string) (bool, error)
	Ping(ctx context.Context) error
	Clear(ctx context.Context) error

	// Lock attempts to acquire every lock key for duration; returns false if
	// any key is already held by someone else (teacher: redis/locker.go Lock).
	Lock(ctx context.Context, duration time.Duration, lockKeys ...*LockKey) (bool, error)
	IsLocked(ctx context.Context, lockKeys ...*LockKey) (bool, error)
	Unlock(ctx context.Context, lockKeys ...*LockKey) error
}

// CloseableCache is a Cache whose underlying connection the owner must close.
type CloseableCache interface {
	Cache
	io.Closer
}

// LockKey names a key this client owns (or wants to own) a lock on, mirroring
// sop.LockKey.
type LockKey struct {
	Key         string
	LockID      ctxn.UUID
	IsLockOwner bool
}

// NewLockKey builds a fresh, unclaimed LockKey whose stored key is name
// itself; callers pass an already-namespaced name (ctxn.LockName,
// ctxn.RecoveryScanLockKey) so lock keys stay distinct from ordinary cache
// entries.
func NewLockKey(name string) *LockKey {
	return &LockKey{Key: name, LockID: ctxn.NewUUID()}
}
