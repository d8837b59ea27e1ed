// Package facade provides the ancillary, best-effort services of spec.md
// §4.7: distributed locking, idempotency-key tracking, and a general
// application cache, all layered atop cachekv.Cache. Grounded on the
// teacher's Cache interface surface (repository.go) and its Redis lock
// implementation (redis/locker.go), generalized from B-tree item locks to
// business-level request locks and idempotency markers.
package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/sharedcode/ctxn"
	"github.com/sharedcode/ctxn/cachekv"
)

// Lock is the distributed request-level lock facade. Unlike the idempotency
// facade, a lock acquisition failure degrades to "proceed without the lock"
// rather than blocking the caller, per spec.md §4.7's graceful-degradation
// rule — callers that need a hard guarantee should treat an error returned by
// Acquire as fatal themselves.
type Lock struct {
	cache cachekv.Cache
}

// NewLock builds a Lock facade over cache.
func NewLock(cache cachekv.Cache) *Lock {
	return &Lock{cache: cache}
}

// Acquired is a held (or attempted) lock handle; Release is always safe to
// call even if acquisition failed or degraded.
type Acquired struct {
	key     *cachekv.LockKey
	cache   cachekv.Cache
	granted bool
}

// Acquire attempts to take name for duration. ok reports whether the lock
// was actually granted; err is non-nil only on a backend failure, in which
// case ok is false and the caller is expected to proceed without the lock
// per the graceful-degradation rule.
func (l *Lock) Acquire(ctx context.Context, name string, duration time.Duration) (*Acquired, bool, error) {
	key := cachekv.NewLockKey(ctxn.LockName(name))
	won, err := l.cache.Lock(ctx, duration, key)
	if err != nil {
		return &Acquired{key: key, cache: l.cache, granted: false}, false, fmt.Errorf("facade: lock %q: %w", name, err)
	}
	return &Acquired{key: key, cache: l.cache, granted: won}, won, nil
}

// Release gives the lock back up, if it was ever granted.
func (a *Acquired) Release(ctx context.Context) error {
	if a == nil || !a.granted {
		return nil
	}
	return a.cache.Unlock(ctx, a.key)
}

// Idempotency tracks opaque caller-supplied keys so a retried request is
// recognized and not re-applied (spec.md §4.7: the one facade that does NOT
// degrade gracefully — a backend failure here must surface to the caller,
// since silently allowing a duplicate request through is worse than
// rejecting it).
type Idempotency struct {
	cache cachekv.Cache
	ttl   time.Duration
}

// NewIdempotency builds an Idempotency facade whose markers expire after ttl.
func NewIdempotency(cache cachekv.Cache, ttl time.Duration) *Idempotency {
	return &Idempotency{cache: cache, ttl: ttl}
}

const (
	markerProcessing = "processing"
	markerCompleted  = "completed"
)

// Begin records key as in-flight. dup is true if key was already seen
// (processing or completed), in which case the caller must not re-apply the
// request.
func (i *Idempotency) Begin(ctx context.Context, key string) (dup bool, err error) {
	cacheKey := ctxn.IdempotencyKey(key)
	found, _, err := i.cache.Get(ctx, cacheKey)
	if err != nil {
		return false, fmt.Errorf("facade: idempotency lookup %q: %w", key, err)
	}
	if found {
		return true, nil
	}
	if err := i.cache.Set(ctx, cacheKey, markerProcessing, i.ttl); err != nil {
		return false, fmt.Errorf("facade: idempotency mark %q: %w", key, err)
	}
	return false, nil
}

// Complete marks key as finished so it keeps de-duplicating retries for the
// remainder of the TTL even after the original request has returned.
func (i *Idempotency) Complete(ctx context.Context, key string) error {
	if err := i.cache.Set(ctx, ctxn.IdempotencyKey(key), markerCompleted, i.ttl); err != nil {
		return fmt.Errorf("facade: idempotency complete %q: %w", key, err)
	}
	return nil
}

// Forget removes key's marker, used when the original request failed before
// doing anything worth de-duplicating against.
func (i *Idempotency) Forget(ctx context.Context, key string) error {
	_, err := i.cache.Delete(ctx, ctxn.IdempotencyKey(key))
	return err
}

// AppCache is a general-purpose, best-effort cache for host application
// data, namespaced separately from the transaction log and lock keys.
type AppCache struct {
	cache cachekv.Cache
}

// NewAppCache builds an AppCache facade over cache.
func NewAppCache(cache cachekv.Cache) *AppCache {
	return &AppCache{cache: cache}
}

// Get returns the cached struct for key, if present. A backend failure here
// is reported but never fatal to the caller; per spec.md §4.7 this facade
// degrades to a cache miss on error.
func (a *AppCache) Get(ctx context.Context, key string, target any) (hit bool) {
	ok, err := a.cache.GetStruct(ctx, ctxn.AppCacheKey(key), target)
	if err != nil {
		return false
	}
	return ok
}

// Set stores value under key for ttl. Errors are swallowed for the same
// degrade-gracefully reason as Get.
func (a *AppCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	_ = a.cache.SetStruct(ctx, ctxn.AppCacheKey(key), value, ttl)
}
