package validator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SchemaProbe inspects information_schema to flag tables carrying triggers
// a compensating inverse could be unaware of (spec.md §4.6 "trigger
// suspected" risk flag), caching its findings by (datasource, table) so a
// hot validation path never repeats the same catalog query. Grounded on the
// pgx connection-pool idiom (jordigilh-kubernaut's go.mod pulls in
// jackc/pgx/v5 for exactly this kind of read-mostly catalog access).
type SchemaProbe struct {
	pools map[string]*pgxpool.Pool
	mu    sync.Mutex
	cache map[probeKey]probeResult
	ttl   time.Duration
}

type probeKey struct {
	datasource string
	table      string
}

type probeResult struct {
	hasTrigger bool
	checkedAt  time.Time
}

// NewSchemaProbe builds a probe over the given named connection pools.
func NewSchemaProbe(pools map[string]*pgxpool.Pool, cacheTTL time.Duration) *SchemaProbe {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &SchemaProbe{pools: pools, cache: make(map[probeKey]probeResult), ttl: cacheTTL}
}

// Check returns an error if table on datasource carries at least one
// trigger; Validate turns it into a TRIGGER_SUSPECTED issue at error level,
// which blocks the commit.
func (p *SchemaProbe) Check(datasource, table string) error {
	key := probeKey{datasource: datasource, table: table}

	p.mu.Lock()
	if res, ok := p.cache[key]; ok && time.Since(res.checkedAt) < p.ttl {
		p.mu.Unlock()
		if res.hasTrigger {
			return fmt.Errorf("table %s has one or more triggers; compensation may not fully reverse side effects", table)
		}
		return nil
	}
	p.mu.Unlock()

	pool, ok := p.pools[datasource]
	if !ok {
		return nil
	}

	var count int
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := pool.QueryRow(ctx,
		`SELECT count(*) FROM information_schema.triggers WHERE event_object_table = $1`,
		table,
	).Scan(&count)
	if err != nil {
		return nil
	}

	p.mu.Lock()
	p.cache[key] = probeResult{hasTrigger: count > 0, checkedAt: time.Now()}
	p.mu.Unlock()

	if count > 0 {
		return fmt.Errorf("table %s has one or more triggers; compensation may not fully reverse side effects", table)
	}
	return nil
}
