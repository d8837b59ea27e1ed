// Package config loads the module's configuration surface (spec.md §6) from
// YAML, with environment-variable overrides layered on top. Grounded on the
// teacher's Configuration/LoadConfiguration (config.go), generalized from a
// JSON file with two fields (RedisOptions, CassandraHosts) to this module's
// full backend/runtime surface, and switched to YAML — the format
// cuemby-warren's go.mod (gopkg.in/yaml.v3) uses for its own service
// configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full, host-supplied configuration surface.
type Config struct {
	Redis      RedisConfig      `yaml:"redis"`
	Cassandra  CassandraConfig  `yaml:"cassandra"`
	Datastores []DatastoreConfig `yaml:"datastores"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Validation ValidationConfig `yaml:"validation"`
	Archive    ArchiveConfig    `yaml:"archive"`
}

// RedisConfig configures the default cachekv backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CassandraConfig configures the optional high-volume txlog backend.
type CassandraConfig struct {
	Enabled bool     `yaml:"enabled"`
	Hosts   []string `yaml:"hosts"`
	Keyspace string  `yaml:"keyspace"`
}

// DatastoreConfig registers one named SQL datastore the compensator and
// schema probe can route operations to.
type DatastoreConfig struct {
	Name   string `yaml:"name"`
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RecoveryConfig tunes the sweep worker and the Compensator's own retry
// budget (spec.md §6's multiDb.* and recovery.* keys).
type RecoveryConfig struct {
	Interval           time.Duration `yaml:"interval"`
	StallAfter         time.Duration `yaml:"stallAfter"`
	MaxInFlight        int           `yaml:"maxInFlight"`
	LockDuration       time.Duration `yaml:"lockDuration"`
	BreakerMaxFailures uint32        `yaml:"breakerMaxFailures"`
	BreakerOpenTimeout time.Duration `yaml:"breakerOpenTimeout"`
	// MaxRollbackRetries and RollbackRetryBackoff configure the
	// Compensator's own per-operation retry budget (multiDb.maxRollbackRetries,
	// default 3 retries after the first attempt; multiDb.rollbackRetryBackoffMs,
	// a duration such as "1s", default 1s).
	MaxRollbackRetries   uint64        `yaml:"maxRollbackRetries"`
	RollbackRetryBackoff time.Duration `yaml:"rollbackRetryBackoffMs"`
	// MaxRecoveryAttempts bounds the Recovery Worker's sweep-level retryCount
	// before a stalled transaction is forced to FAILED (recovery.maxRecoveryAttempts,
	// default 5).
	MaxRecoveryAttempts int `yaml:"maxRecoveryAttempts"`
}

// ValidationConfig holds the CEL expression for every configurable risk flag.
type ValidationConfig struct {
	RiskExpressions map[string]string `yaml:"riskExpressions"`
	SchemaProbeCacheTTL time.Duration `yaml:"schemaProbeCacheTTL"`
}

// ArchiveConfig configures FAILED-record export to S3.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
}

// Load reads and parses filename, then applies environment overrides, the
// same two-step shape as the teacher's LoadConfiguration followed by its
// SOP_LOG_LEVEL env lookup in logger.go, generalized here to a full override
// pass instead of a single log-level knob.
func Load(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}
	// Defaults for keys the file omits; yaml.Unmarshal keeps them.
	c := Config{Recovery: RecoveryConfig{
		MaxRollbackRetries:   3,
		RollbackRetryBackoff: time.Second,
		MaxRecoveryAttempts:  5,
	}}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}
	applyEnvOverrides(&c)
	return &c, nil
}

// applyEnvOverrides lets deployment-specific secrets (addresses, passwords)
// come from the environment instead of being checked into the YAML file.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("CTXN_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("CTXN_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("CTXN_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = n
		}
	}
	if v := os.Getenv("CTXN_RECOVERY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Recovery.Interval = d
		}
	}
}
