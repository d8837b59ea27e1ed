package cachekv

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// memoryCache is an in-process Cache used by tests; cmd/txcoordinator always
// connects to Redis and does not fall back to it.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	value   string
	expires time.Time
	hasTTL  bool
}

// NewMemoryCache returns a process-local CloseableCache backing store.
func NewMemoryCache() CloseableCache {
	return &memoryCache{entries: make(map[string]memEntry)}
}

func (m *memoryCache) Close() error { return nil }

func (m *memoryCache) expired(e memEntry) bool {
	return e.hasTTL && Now().After(e.expires)
}

// Now is overridable the same way ctxn.Now is, for deterministic TTL tests.
var Now = time.Now

func (m *memoryCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	if expiration < 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{value: value}
	if expiration > 0 {
		e.hasTTL = true
		e.expires = Now().Add(expiration)
	}
	m.entries[key] = e
	return nil
}

func (m *memoryCache) Get(ctx context.Context, key string) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || m.expired(e) {
		delete(m.entries, key)
		return false, "", nil
	}
	return true, e.value, nil
}

func (m *memoryCache) GetEx(ctx context.Context, key string, expiration time.Duration) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || m.expired(e) {
		delete(m.entries, key)
		return false, "", nil
	}
	if expiration > 0 {
		e.hasTTL = true
		e.expires = Now().Add(expiration)
		m.entries[key] = e
	}
	return true, e.value, nil
}

func (m *memoryCache) SetStruct(ctx context.Context, key string, value any, expiration time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return m.Set(ctx, key, string(b), expiration)
}

func (m *memoryCache) GetStruct(ctx context.Context, key string, target any) (bool, error) {
	ok, v, err := m.Get(ctx, key)
	if !ok || err != nil {
		return ok, err
	}
	return true, json.Unmarshal([]byte(v), target)
}

func (m *memoryCache) GetStructEx(ctx context.Context, key string, target any, expiration time.Duration) (bool, error) {
	ok, v, err := m.GetEx(ctx, key, expiration)
	if !ok || err != nil {
		return ok, err
	}
	return true, json.Unmarshal([]byte(v), target)
}

func (m *memoryCache) Delete(ctx context.Context, keys ...string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := false
	for _, k := range keys {
		if _, ok := m.entries[k]; ok {
			delete(m.entries, k)
			deleted = true
		}
	}
	return deleted, nil
}

func (m *memoryCache) Ping(ctx context.Context) error { return nil }

func (m *memoryCache) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memEntry)
	return nil
}

func (m *memoryCache) Lock(ctx context.Context, duration time.Duration, lockKeys ...*LockKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	allWon := true
	for _, lk := range lockKeys {
		e, held := m.entries[lk.Key]
		if held && !m.expired(e) && e.value != lk.LockID.String() {
			lk.IsLockOwner = false
			allWon = false
			continue
		}
		m.entries[lk.Key] = memEntry{value: lk.LockID.String(), hasTTL: true, expires: Now().Add(duration)}
		lk.IsLockOwner = true
	}
	if !allWon {
		for _, lk := range lockKeys {
			if lk.IsLockOwner {
				delete(m.entries, lk.Key)
				lk.IsLockOwner = false
			}
		}
	}
	return allWon, nil
}

func (m *memoryCache) IsLocked(ctx context.Context, lockKeys ...*LockKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lk := range lockKeys {
		if e, ok := m.entries[lk.Key]; ok && !m.expired(e) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryCache) Unlock(ctx context.Context, lockKeys ...*LockKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lk := range lockKeys {
		if lk.IsLockOwner {
			delete(m.entries, lk.Key)
		}
	}
	return nil
}
