package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Registration errors.
var (
	ErrEmptyName         = errors.New("selector name is empty")
	ErrNilHandler        = errors.New("selector handler is nil")
	ErrDuplicateSelector = errors.New("selector already registered")
)

// OperationFunc executes a named operation.
type OperationFunc func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// AttributeFunc produces the current value of a named attribute.
type AttributeFunc func(ctx context.Context) (any, error)

// Registry maps selector names to handlers. Operation and attribute names
// share one namespace.
type Registry struct {
	operations map[string]OperationFunc
	attributes map[string]AttributeFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		operations: make(map[string]OperationFunc),
		attributes: make(map[string]AttributeFunc),
	}
}

// Operation registers an operation.
func (r *Registry) Operation(name string, fn OperationFunc) error {
	if err := r.checkName(name); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("%w: %s", ErrNilHandler, name)
	}
	r.operations[name] = fn
	return nil
}

// Attribute registers an attribute whose value is computed on each read.
func (r *Registry) Attribute(name string, fn AttributeFunc) error {
	if err := r.checkName(name); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("%w: %s", ErrNilHandler, name)
	}
	r.attributes[name] = fn
	return nil
}

// Value registers an attribute with a fixed value.
func (r *Registry) Value(name string, v any) error {
	return r.Attribute(name, func(context.Context) (any, error) {
		return v, nil
	})
}

func (r *Registry) checkName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if _, ok := r.operations[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSelector, name)
	}
	if _, ok := r.attributes[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSelector, name)
	}
	return nil
}

// Operations returns the registered operation names, sorted.
func (r *Registry) Operations() []string {
	return sortedKeys(r.operations)
}

// Attributes returns the registered attribute names, sorted.
func (r *Registry) Attributes() []string {
	return sortedKeys(r.attributes)
}

func (r *Registry) operation(name string) (OperationFunc, bool) {
	fn, ok := r.operations[name]
	return fn, ok
}

func (r *Registry) attribute(name string) (AttributeFunc, bool) {
	fn, ok := r.attributes[name]
	return fn, ok
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
