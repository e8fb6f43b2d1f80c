package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/teranos/bfhtw/am"
	"github.com/teranos/bfhtw/pipeline"
)

// Spec is what a factory needs to build one run of a named pipeline
type Spec struct {
	Name   string
	Config am.PipelineConfig // overrides already merged
	App    *am.Config        // the document the config came from
}

// Factory builds a ready-to-run pipeline for spec
type Factory func(ctx context.Context, deps *Deps, spec Spec) (*pipeline.Pipeline, error)

// Registry maps pipeline kinds to their factories.
// Thread-safe for concurrent registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds the factory for kind.
// Panics if kind is already registered.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		panic(fmt.Sprintf("pipeline factory already registered for kind: %s", kind))
	}
	r.factories[kind] = f
}

// Get returns the factory for kind
func (r *Registry) Get(kind string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[kind]
	return f, ok
}

// Kinds lists the registered kinds, sorted
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
