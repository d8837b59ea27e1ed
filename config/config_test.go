package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
redis:
  addr: redis-primary:6379
  db: 2
cassandra:
  enabled: true
  hosts: ["c1", "c2"]
  keyspace: ctxn
datastores:
  - name: orders-db
    driver: postgres
    dsn: postgres://localhost/orders
recovery:
  interval: 30s
  stallAfter: 10m
  maxInFlight: 4
  breakerMaxFailures: 5
  breakerOpenTimeout: 1m
  maxRollbackRetries: 3
  rollbackRetryBackoffMs: 1s
  maxRecoveryAttempts: 5
validation:
  riskExpressions:
    nativeSQL: hasNativeSQL
archive:
  enabled: true
  bucket: ctxn-failed
  prefix: failed/
`

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Redis.Addr != "redis-primary:6379" || c.Redis.DB != 2 {
		t.Fatalf("redis config = %+v", c.Redis)
	}
	if !c.Cassandra.Enabled || len(c.Cassandra.Hosts) != 2 {
		t.Fatalf("cassandra config = %+v", c.Cassandra)
	}
	if len(c.Datastores) != 1 || c.Datastores[0].Name != "orders-db" {
		t.Fatalf("datastores = %+v", c.Datastores)
	}
	if c.Recovery.Interval != 30*time.Second || c.Recovery.StallAfter != 10*time.Minute {
		t.Fatalf("recovery config = %+v", c.Recovery)
	}
	if c.Recovery.BreakerMaxFailures != 5 || c.Recovery.BreakerOpenTimeout != time.Minute {
		t.Fatalf("breaker config = %+v", c.Recovery)
	}
	if c.Recovery.MaxRollbackRetries != 3 || c.Recovery.RollbackRetryBackoff != time.Second {
		t.Fatalf("rollback retry config = %+v", c.Recovery)
	}
	if c.Recovery.MaxRecoveryAttempts != 5 {
		t.Fatalf("maxRecoveryAttempts = %d, want 5", c.Recovery.MaxRecoveryAttempts)
	}
	if c.Validation.RiskExpressions["nativeSQL"] != "hasNativeSQL" {
		t.Fatalf("validation config = %+v", c.Validation)
	}
	if !c.Archive.Enabled || c.Archive.Bucket != "ctxn-failed" {
		t.Fatalf("archive config = %+v", c.Archive)
	}
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestLoadReturnsErrorForInvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "redis:\n  addr: [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected a parse error for invalid YAML")
	}
}

func TestEnvOverridesTakePrecedenceOverFile(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	t.Setenv("CTXN_REDIS_ADDR", "redis-override:6380")
	t.Setenv("CTXN_REDIS_PASSWORD", "s3cr3t")
	t.Setenv("CTXN_REDIS_DB", "9")
	t.Setenv("CTXN_RECOVERY_INTERVAL", "1m")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Redis.Addr != "redis-override:6380" {
		t.Fatalf("Addr = %q, want override", c.Redis.Addr)
	}
	if c.Redis.Password != "s3cr3t" {
		t.Fatalf("Password = %q, want override", c.Redis.Password)
	}
	if c.Redis.DB != 9 {
		t.Fatalf("DB = %d, want 9", c.Redis.DB)
	}
	if c.Recovery.Interval != time.Minute {
		t.Fatalf("Interval = %v, want 1m", c.Recovery.Interval)
	}
}

func TestEnvOverrideIgnoresUnparsableValues(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	t.Setenv("CTXN_REDIS_DB", "not-a-number")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Redis.DB != 2 {
		t.Fatalf("DB = %d, want the file's original value of 2 when the override is unparsable", c.Redis.DB)
	}
}
