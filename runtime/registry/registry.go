// Package registry holds the unit definitions of one kind (workers or
// workflows) known to the process. A Registry is constructed once at startup,
// populated by explicit Register calls and injected into managers, services
// and the worker host. There is no package-level registry.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/modulith/orchestration/runtime/unit"
)

// ErrDuplicate indicates a unit name is already registered.
var ErrDuplicate = errors.New("unit already registered")

type (
	// Registry maps unit names to definitions for a single unit kind.
	// Registry is safe for concurrent use.
	Registry struct {
		kind unit.Kind

		mu   sync.RWMutex
		defs map[string]unit.Definition
	}

	// DuplicateError reports a second registration of the same unit name.
	DuplicateError struct {
		Kind unit.Kind
		Name string
	}
)

// New returns an empty registry for units of the given kind.
func New(kind unit.Kind) *Registry {
	return &Registry{
		kind: kind,
		defs: make(map[string]unit.Definition),
	}
}

// Error implements error.
func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s %q already registered", e.Kind, e.Name)
}

// Unwrap returns ErrDuplicate.
func (e *DuplicateError) Unwrap() error {
	return ErrDuplicate
}

// Kind returns the unit kind held by the registry.
func (r *Registry) Kind() unit.Kind {
	return r.kind
}

// Register validates impl and adds its definition. It returns a
// *unit.InvalidError when impl does not satisfy the contract of the registry
// kind and a *DuplicateError when the unit name is taken.
func (r *Registry) Register(impl any, opts ...unit.Option) (unit.Definition, error) {
	def, err := unit.Define(r.kind, impl, opts...)
	if err != nil {
		return unit.Definition{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Name]; ok {
		return unit.Definition{}, &DuplicateError{Kind: r.kind, Name: def.Name}
	}
	r.defs[def.Name] = def
	return def, nil
}

// MustRegister is like Register but panics on error. It is intended for
// process wiring where a bad registration is a programming error.
func (r *Registry) MustRegister(impl any, opts ...unit.Option) unit.Definition {
	def, err := r.Register(impl, opts...)
	if err != nil {
		panic(err)
	}
	return def
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (unit.Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// All returns a snapshot of the registered unit names and their priorities.
// The returned map is owned by the caller.
func (r *Registry) All() map[string]unit.Priority {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]unit.Priority, len(r.defs))
	for name, def := range r.defs {
		out[name] = def.Priority
	}
	return out
}

// Definitions returns all definitions sorted by name.
func (r *Registry) Definitions() []unit.Definition {
	r.mu.RLock()
	out := make([]unit.Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByPriority groups the definitions by priority. Priorities without units
// are absent from the result.
func (r *Registry) ByPriority() map[unit.Priority][]unit.Definition {
	out := make(map[unit.Priority][]unit.Definition)
	for _, def := range r.Definitions() {
		out[def.Priority] = append(out[def.Priority], def)
	}
	return out
}

// Len returns the number of registered units.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
