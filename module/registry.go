package module

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Factory constructs a module instance.
type Factory func(env *Env) (Module, error)

// Descriptor identifies a module implementation.
type Descriptor struct {
	ID  string
	New Factory
}

// Registry maps module identifiers to their implementations.
// Descriptors are immutable once registered.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*Descriptor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: map[string]*Descriptor{},
	}
}

// Register adds a module implementation under id.
func (r *Registry) Register(id string, factory Factory) error {
	if id == "" {
		return fmt.Errorf("empty module identifier")
	}
	if factory == nil {
		return fmt.Errorf("nil factory for module %s", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.descriptors[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateModule, id)
	}
	r.descriptors[id] = &Descriptor{ID: id, New: factory}

	return nil
}

// RegisterType registers a typed factory under the identifier derived from T's type name.
// It returns the derived identifier.
func RegisterType[T Module](r *Registry, factory func(env *Env) (T, error)) (string, error) {
	id := typeIdentifier(reflect.TypeOf((*T)(nil)).Elem())
	err := r.Register(id, func(env *Env) (Module, error) {
		return factory(env)
	})
	return id, err
}

// Resolve returns the descriptor registered under id.
func (r *Registry) Resolve(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[id]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// ListAll returns every registered descriptor ordered by identifier.
func (r *Registry) ListAll() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		list = append(list, *d)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})

	return list
}
