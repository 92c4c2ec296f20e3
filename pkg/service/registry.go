package service

import (
	"github.com/hashicorp/go-hclog"
)

// Registration is one raw service record from the configuration
// files.  The "type" key selects the factory; everything else is
// passed to it untouched.
type Registration map[string]any

// Factory constructs a service instance from its configuration
// record.  Additional configuration values are factory-specific.
type Factory func(l hclog.Logger, conf Registration) (Service, error)

// TypeRegistry maps configuration type names to service factories.
// It is constructed explicitly at startup and handed to whatever
// needs to instantiate configured types, rather than living as hidden
// package state.
type TypeRegistry struct {
	l         hclog.Logger
	factories map[string]Factory
}

// NewTypeRegistry returns an empty registry.
func NewTypeRegistry(l hclog.Logger) *TypeRegistry {
	return &TypeRegistry{
		l:         l.Named("types"),
		factories: make(map[string]Factory),
	}
}

// Register stores the factory under the given type name.  Duplicate
// names are a configuration error, not a silent overwrite.
func (r *TypeRegistry) Register(name string, f Factory) error {
	if _, exists := r.factories[name]; exists {
		return ErrDuplicateType{Name: name}
	}
	r.factories[name] = f
	r.l.Info("Registered service type", "type", name)
	return nil
}

// Construct instantiates a service from its configuration record.
func (r *TypeRegistry) Construct(conf Registration) (Service, error) {
	name, _ := conf["type"].(string)
	f, ok := r.factories[name]
	if !ok {
		r.l.Error("Tried to construct unregistered service type", "type", name)
		return nil, ErrUnknownType{Name: name}
	}
	return f(r.l, conf)
}
