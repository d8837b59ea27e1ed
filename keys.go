package ctxn

import "fmt"

// Reserved, prefix-separated key namespaces, per spec.md §6 "Persisted key layout".

// TxLogKey is the active/terminal-non-failed record key for txID.
func TxLogKey(txID UUID) string { return fmt.Sprintf("txlog:%s", txID) }

// TxLogFailedKey is the no-expiry manual-intervention key for txID.
func TxLogFailedKey(txID UUID) string { return fmt.Sprintf("txlog:failed:%s", txID) }

// IdempotencyKey is the idempotency marker key for an opaque caller key.
func IdempotencyKey(key string) string { return fmt.Sprintf("idemp:%s", key) }

// LockName is the distributed lock key for name.
func LockName(name string) string { return fmt.Sprintf("lock:%s", name) }

// AppCacheKey is the application-cache key for an opaque caller key.
func AppCacheKey(key string) string { return fmt.Sprintf("cache:%s", key) }

// RecoveryScanLockKey is the sweep-coordination lock name.
const RecoveryScanLockKey = "recovery:scan-lock"
