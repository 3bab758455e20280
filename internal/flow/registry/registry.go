// Package registry implements the process-global Node Registry (C1):
// a type-name to constructor mapping rebuilt atomically on reload,
// grounded on the teacher's pkg/registry.Registry tool lookup table.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/flowforge/internal/flow/exec"
)

// Constructor builds a fresh Node instance from its IR params.
type Constructor func(params map[string]any) (exec.Node, error)

// Registry maps node type names to constructors. It is safe for
// concurrent use; Reload swaps the whole table atomically so in-flight
// lookups never observe a half-updated registry.
type Registry struct {
	mu   sync.RWMutex
	ctor map[string]Constructor
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{ctor: make(map[string]Constructor)}
}

// Register adds a node type constructor, returning an error if
// typeName is already registered. Re-registering an existing name is
// only valid through Override, used by the reload path.
func (r *Registry) Register(typeName string, ctor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctor[typeName]; exists {
		return fmt.Errorf("registry: node type %q already registered", typeName)
	}
	r.ctor[typeName] = ctor
	return nil
}

// Override adds or replaces a node type constructor unconditionally,
// used only by a reload path that intentionally re-registers the
// current built-in/custom node set.
func (r *Registry) Override(typeName string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctor[typeName] = ctor
}

// Build looks up a type name and constructs a node from params.
func (r *Registry) Build(typeName string, params map[string]any) (exec.Node, error) {
	r.mu.RLock()
	ctor, ok := r.ctor[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown node type %q (known: %v)", typeName, r.KnownTypes())
	}
	return ctor(params)
}

// KnownTypes returns every registered type name, sorted.
func (r *Registry) KnownTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctor))
	for t := range r.ctor {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Reload atomically replaces the whole constructor table, used when
// the engine hot-reloads its built-in and custom node set.
func (r *Registry) Reload(table map[string]Constructor) {
	fresh := make(map[string]Constructor, len(table))
	for k, v := range table {
		fresh[k] = v
	}
	r.mu.Lock()
	r.ctor = fresh
	r.mu.Unlock()
}
