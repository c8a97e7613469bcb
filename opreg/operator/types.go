package operator

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a fresh value of a registered type. The value is usually an
// Operator but may be a Wrappable or anything else; the loader decides.
type Factory func() any

// TypeInfo describes one registered type.
type TypeInfo struct {
	Name string
	// Abstract and Interface mark names that exist but cannot be instantiated.
	Abstract  bool
	Interface bool
	New       Factory
}

// Instantiable reports whether the type can produce values.
func (ti TypeInfo) Instantiable() bool {
	return !ti.Abstract && !ti.Interface && ti.New != nil
}

// TypeRegistry maps fully qualified type names, such as
// "Operators.Generic.Convert.ToWavelength", to factories. Compiled operators
// register themselves from init functions.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]TypeInfo
}

// NewTypeRegistry returns an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[string]TypeInfo)}
}

var defaultTypes = NewTypeRegistry()

// DefaultTypes returns the process-wide registry that init-time Register calls
// populate.
func DefaultTypes() *TypeRegistry { return defaultTypes }

// Register adds a concrete type to the default registry. It panics on a
// duplicate name since that is a programming error at init time.
func Register(name string, f Factory) {
	if err := defaultTypes.Add(TypeInfo{Name: name, New: f}); err != nil {
		panic(err)
	}
}

// RegisterAbstract records a name that resolves but cannot be instantiated.
func RegisterAbstract(name string) {
	if err := defaultTypes.Add(TypeInfo{Name: name, Abstract: true}); err != nil {
		panic(err)
	}
}

// Add registers ti.
func (r *TypeRegistry) Add(ti TypeInfo) error {
	if ti.Name == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[ti.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateType, ti.Name)
	}
	r.types[ti.Name] = ti
	return nil
}

// Lookup returns the type registered under name.
func (r *TypeRegistry) Lookup(name string) (TypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ti, ok := r.types[name]
	return ti, ok
}

// Names returns all registered names in lexical order.
func (r *TypeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered types.
func (r *TypeRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}
