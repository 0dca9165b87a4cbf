package session

import (
	"sync"

	"github.com/tidewire/tidewire/internal/wire"
)

// Registry is the thread-safe mapping from correlation id to its pending
// accumulator. It is the sole synchronization point shared by all producer
// threads; each accumulator handles its own internal concurrency.
type Registry struct {
	mu      sync.Mutex
	pending map[wire.CorrelationID]*Accumulator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{mu: sync.Mutex{}, pending: make(map[wire.CorrelationID]*Accumulator)}
}

// Register stores the accumulator under its correlation id. The caller
// guarantees uniqueness; ids are minted per request.
func (r *Registry) Register(corr wire.CorrelationID, acc *Accumulator) {
	r.mu.Lock()
	r.pending[corr] = acc
	r.mu.Unlock()
}

// Lookup returns the accumulator registered for the correlation id.
func (r *Registry) Lookup(corr wire.CorrelationID) (*Accumulator, bool) {
	r.mu.Lock()
	acc, ok := r.pending[corr]
	r.mu.Unlock()
	return acc, ok
}

// Remove atomically removes and returns the accumulator so the caller can
// seal it. The remove-before-seal ordering guarantees at most one seal per
// correlation even when terminal messages are fragmented across events.
func (r *Registry) Remove(corr wire.CorrelationID) (*Accumulator, bool) {
	r.mu.Lock()
	acc, ok := r.pending[corr]
	if ok {
		delete(r.pending, corr)
	}
	r.mu.Unlock()
	return acc, ok
}

// Drain removes and returns every pending accumulator, used at shutdown to
// release blocked callers.
func (r *Registry) Drain() []*Accumulator {
	r.mu.Lock()
	accs := make([]*Accumulator, 0, len(r.pending))
	for corr, acc := range r.pending {
		accs = append(accs, acc)
		delete(r.pending, corr)
	}
	r.mu.Unlock()
	return accs
}

// Len returns the number of pending correlations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
