// Package registry is a reference phase.Factory implementation: a
// name-keyed map of constructors. The engine itself only ever consumes
// the phase.Factory interface; callers are free to supply their own
// factory instead of this one.
package registry

import (
	"fmt"
	"sync"

	"github.com/swarmguard/dagflow/internal/phase"
)

// Constructor builds a fresh, unnamed phase.Instance for one node.
type Constructor func() phase.Instance

// Registry is a concurrency-safe name -> Constructor map implementing
// phase.Factory.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register associates className with a constructor. A later call for
// the same name replaces the earlier one.
func (r *Registry) Register(className string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[className] = ctor
}

// HasRegistered reports whether className has a constructor.
func (r *Registry) HasRegistered(className string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[className]
	return ok
}

// Create builds a phase.Instance for fullName, which may carry a
// "(k:v,...)" parameter suffix the class lookup ignores. Panics if the
// class was never registered — callers are expected to validate every
// node's full name against HasRegistered during DAG build, via
// dag.Init, before Create is ever reached.
func (r *Registry) Create(fullName string) phase.Instance {
	className := phase.StripParams(fullName)
	r.mu.RLock()
	ctor, ok := r.ctors[className]
	r.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("registry: class not registered: %s", className))
	}
	return ctor()
}
