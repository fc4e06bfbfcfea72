// Package operations holds the demo operation providers the action service
// can run: fixed-latency simulations, JSON fetches against a public
// placeholder API, and a randomly failing operation. They exist to exercise
// the executor and are not production integrations.
package operations

import (
	"sort"
	"sync"

	"github.com/rhoffman0214/BobsComponents/internal/domain"
)

// Registry maps operation names to operations.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]domain.Operation
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]domain.Operation)}
}

// Register adds or replaces an operation. Safe to call concurrently.
func (r *Registry) Register(name string, op domain.Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[name] = op
}

// Get returns the operation registered under name.
// Returns UnknownOperationError if not registered.
func (r *Registry) Get(name string) (domain.Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[name]
	if !ok {
		return nil, &domain.UnknownOperationError{Name: name}
	}
	return op, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for n := range r.ops {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
