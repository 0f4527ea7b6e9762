package model

import (
	"fmt"
	"sort"
)

// State is the model-owned state of one item.
type State interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
	Clone() State
}

// Command is a model-specific write request, such as ObjectCommand.
type Command interface{}

// Model folds mutations into item state.
type Model interface {
	// Kind is the tag under which the model is registered.
	Kind() string

	// NewState returns the state of a freshly created item.
	NewState() State

	// Apply folds a mutation into state. It must be deterministic and must
	// not fail on a well-formed mutation; malformed payloads are ignored.
	Apply(state State, mutation *Mutation, meta Meta)

	// CreateMutation encodes a command into a mutation payload without
	// touching any state. item is nil when the command creates a new item.
	// The returned mutation carries ModelKind and Payload only.
	CreateMutation(item *Item, cmd Command) (*Mutation, error)
}

// UnknownModelError is returned when a mutation or a request names a model
// kind that is not registered.
type UnknownModelError struct {
	Kind string
}

// Error ...
func (e UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model kind %q", e.Kind)
}

// UnsupportedCommandError is returned by CreateMutation for a command of the
// wrong type.
type UnsupportedCommandError struct {
	Kind    string
	Command Command
}

// Error ...
func (e UnsupportedCommandError) Error() string {
	return fmt.Sprintf("model %q does not accept %T", e.Kind, e.Command)
}

// Registry is the static table of models.
type Registry struct {
	models map[string]Model
}

// NewRegistry builds a Registry from a fixed list of models. Registering two
// models with the same kind panics.
func NewRegistry(models ...Model) *Registry {
	r := &Registry{
		models: make(map[string]Model, len(models)),
	}
	for _, m := range models {
		if _, ok := r.models[m.Kind()]; ok {
			panic(fmt.Sprintf("model kind %q registered twice", m.Kind()))
		}
		r.models[m.Kind()] = m
	}
	return r
}

// DefaultRegistry registers the built-in models.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewObjectModel(),
		NewCounterModel(),
	)
}

// Get returns the model registered under kind.
func (r *Registry) Get(kind string) (Model, error) {
	m, ok := r.models[kind]
	if !ok {
		return nil, UnknownModelError{Kind: kind}
	}
	return m, nil
}

// Kinds returns the registered kinds in order.
func (r *Registry) Kinds() []string {
	res := make([]string, 0, len(r.models))
	for k := range r.models {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}
