// Package breaker is the per-transaction circuit breaker guarding repeated
// compensation attempts (spec.md §4.4: Closed -> Open -> Half-Open -> Closed),
// keyed by txId so one transaction's failing compensation cannot trip the
// breaker for every other in-flight rollback. Grounded on the teacher's
// retry classification (retry.go ShouldRetry) generalized here to the
// circuit-breaker idiom via sony/gobreaker, the library the rest of the pack
// (jordigilh-kubernaut's go.mod) pairs with compensating-action retries.
package breaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sharedcode/ctxn"
)

// Registry hands out one gobreaker.CircuitBreaker per transaction id,
// created lazily on first use and retained for the life of the process so a
// transaction's compensation attempts across multiple Recovery Worker sweeps
// share the same trip state.
type Registry struct {
	mu       sync.Mutex
	breakers map[ctxn.UUID]*gobreaker.CircuitBreaker
	settings func(ctxn.UUID) gobreaker.Settings
}

// NewRegistry builds a Registry. maxFailures is the consecutive-failure
// count that trips a transaction's breaker open; openTimeout is how long it
// stays open before allowing a single half-open probe.
func NewRegistry(maxFailures uint32, openTimeout time.Duration) *Registry {
	return &Registry{
		breakers: make(map[ctxn.UUID]*gobreaker.CircuitBreaker),
		settings: func(txID ctxn.UUID) gobreaker.Settings {
			return gobreaker.Settings{
				Name:        "compensate:" + txID.String(),
				MaxRequests: 1,
				Timeout:     openTimeout,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= maxFailures
				},
			}
		},
	}
}

func (r *Registry) forTx(txID ctxn.UUID) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[txID]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(r.settings(txID))
	r.breakers[txID] = cb
	return cb
}

// Allow reports whether a compensation attempt for txID may proceed right
// now (its breaker is not open), without itself counting as an attempt. The
// Recovery Worker does not consult it; only the Coordinator runs
// compensation through this registry, via Execute.
func (r *Registry) Allow(txID ctxn.UUID) bool {
	return r.forTx(txID).State() != gobreaker.StateOpen
}

// Execute runs fn through txID's breaker, recording success/failure toward
// its trip threshold.
func (r *Registry) Execute(txID ctxn.UUID, fn func() error) error {
	_, err := r.forTx(txID).Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// State exposes the breaker's current state for observability surfaces.
func (r *Registry) State(txID ctxn.UUID) gobreaker.State {
	return r.forTx(txID).State()
}

// Forget discards txID's breaker, used once a transaction reaches a
// terminal state and will never be compensated again.
func (r *Registry) Forget(txID ctxn.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, txID)
}
