package executors

import (
	"sort"
	"sync"

	"github.com/flowlinehq/flowline/pkg/ports"
)

// Registry maps step type names to executors. Registration happens at
// startup; lookups happen concurrently from worker goroutines.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]ports.Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]ports.Executor)}
}

// Register adds an executor under its declared type. A later registration
// for the same type replaces the earlier one.
func (r *Registry) Register(executor ports.Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[executor.Type()] = executor
}

// Lookup resolves a step type to its executor.
func (r *Registry) Lookup(stepType string) (ports.Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	executor, ok := r.executors[stepType]
	return executor, ok
}

// Types returns the registered type names, sorted for stable output.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
