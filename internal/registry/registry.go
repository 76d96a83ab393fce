// Package registry maps runner type names to factories so pipelines can be
// assembled from configuration files.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/stageflow/stageflow/internal/runctx"
)

// Factory builds a runner from its stage-level configuration block.
type Factory func(config map[string]interface{}) (runctx.Runner, error)

// Registry holds the named runner factories. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for the runner type. Duplicate registration is an
// error.
func (r *Registry) Register(runnerType string, factory Factory) error {
	if runnerType == "" || factory == nil {
		return fmt.Errorf("runner registration requires a type name and factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[runnerType]; exists {
		return fmt.Errorf("runner type %q already registered", runnerType)
	}
	r.factories[runnerType] = factory
	return nil
}

// Build constructs a runner of the given type from its configuration.
func (r *Registry) Build(runnerType string, config map[string]interface{}) (runctx.Runner, error) {
	r.mu.RLock()
	factory, ok := r.factories[runnerType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown runner type %q", runnerType)
	}
	return factory(config)
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
