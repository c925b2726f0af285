package faults

// Registry maps wire kind names back to kinds.
type Registry struct {
	byName map[string]Kind
}

// NewRegistry creates a registry that recognises the given kinds.
func NewRegistry(kinds ...Kind) *Registry {
	r := &Registry{byName: make(map[string]Kind, len(kinds))}
	for _, k := range kinds {
		r.byName[k.String()] = k
	}
	return r
}

// DefaultRegistry recognises every defined kind.
func DefaultRegistry() *Registry {
	return NewRegistry(Kinds()...)
}

// Lookup returns the kind registered under name.
func (r *Registry) Lookup(name string) (Kind, bool) {
	k, ok := r.byName[name]
	return k, ok
}

// Reconstruct rebuilds a typed error from its wire form. Unregistered names
// become CommunicationError with the original arguments.
func (r *Registry) Reconstruct(name string, args []any) error {
	if args == nil {
		args = []any{}
	}
	k, ok := r.Lookup(name)
	if !ok {
		k = CommunicationError
	}
	return &Error{Kind: k, Args: args}
}
