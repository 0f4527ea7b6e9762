package model

import (
	"encoding/json"
	"sort"
)

// ObjectKind is the kind of ObjectModel.
const ObjectKind = "object"

// ObjectCommand sets and removes properties of an object item. Set values
// must be JSON encodable.
type ObjectCommand struct {
	Set    map[string]interface{} `json:"set,omitempty"`
	Unset  []string               `json:"unset,omitempty"`
	Delete bool                   `json:"delete,omitempty"`
}

type objectProperty struct {
	Value   interface{} `json:"value,omitempty"`
	Removed bool        `json:"removed,omitempty"`
	Stamp   Stamp       `json:"stamp"`
}

// ObjectState is a last-writer-wins map of properties. Each property keeps the
// Stamp of the write that produced it, and a write only wins over a property
// with a lower Stamp. Removed properties are kept as tombstones for the same
// reason.
type ObjectState struct {
	Properties map[string]objectProperty `json:"properties"`
	Deleted    bool                      `json:"deleted,omitempty"`
}

func newObjectState() *ObjectState {
	return &ObjectState{
		Properties: make(map[string]objectProperty),
	}
}

// Get returns the value of a property.
func (s *ObjectState) Get(key string) (interface{}, bool) {
	p, ok := s.Properties[key]
	if !ok || p.Removed {
		return nil, false
	}
	return p.Value, true
}

// GetString is a shortcut for string properties.
func (s *ObjectState) GetString(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

// Keys returns the live property names, sorted.
func (s *ObjectState) Keys() []string {
	res := []string{}
	for k, p := range s.Properties {
		if !p.Removed {
			res = append(res, k)
		}
	}
	sort.Strings(res)
	return res
}

// Values returns the live properties.
func (s *ObjectState) Values() map[string]interface{} {
	res := make(map[string]interface{}, len(s.Properties))
	for k, p := range s.Properties {
		if !p.Removed {
			res[k] = p.Value
		}
	}
	return res
}

// Marshal implements State
func (s *ObjectState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal implements State
func (s *ObjectState) Unmarshal(data []byte) error {
	if err := json.Unmarshal(data, s); err != nil {
		return err
	}
	if s.Properties == nil {
		s.Properties = make(map[string]objectProperty)
	}
	return nil
}

// Clone implements State
func (s *ObjectState) Clone() State {
	res := &ObjectState{
		Properties: make(map[string]objectProperty, len(s.Properties)),
		Deleted:    s.Deleted,
	}
	for k, p := range s.Properties {
		res.Properties[k] = p
	}
	return res
}

func (s *ObjectState) write(key string, p objectProperty) {
	if cur, ok := s.Properties[key]; ok && !cur.Stamp.Less(p.Stamp) {
		return
	}
	s.Properties[key] = p
}

// ObjectModel implements Model for ObjectState.
type ObjectModel struct{}

// NewObjectModel ...
func NewObjectModel() *ObjectModel {
	return &ObjectModel{}
}

// Kind implements Model
func (m *ObjectModel) Kind() string {
	return ObjectKind
}

// NewState implements Model
func (m *ObjectModel) NewState() State {
	return newObjectState()
}

// Apply implements Model
func (m *ObjectModel) Apply(state State, mutation *Mutation, meta Meta) {
	s, ok := state.(*ObjectState)
	if !ok {
		return
	}

	var cmd ObjectCommand
	if len(mutation.Payload) > 0 {
		if err := json.Unmarshal(mutation.Payload, &cmd); err != nil {
			return
		}
	}

	stamp := StampOf(meta)

	for k, v := range cmd.Set {
		s.write(k, objectProperty{Value: v, Stamp: stamp})
	}
	for _, k := range cmd.Unset {
		s.write(k, objectProperty{Removed: true, Stamp: stamp})
	}

	// Deletion is sticky: there is no command to undo it, so the flag
	// converges regardless of order.
	if cmd.Delete {
		s.Deleted = true
	}
}

// CreateMutation implements Model. It accepts ObjectCommand and *ObjectCommand.
func (m *ObjectModel) CreateMutation(item *Item, cmd Command) (*Mutation, error) {
	var oc ObjectCommand
	switch c := cmd.(type) {
	case ObjectCommand:
		oc = c
	case *ObjectCommand:
		if c != nil {
			oc = *c
		}
	case nil:
	default:
		return nil, UnsupportedCommandError{Kind: ObjectKind, Command: cmd}
	}

	payload, err := json.Marshal(oc)
	if err != nil {
		return nil, err
	}

	return &Mutation{
		ModelKind: ObjectKind,
		Payload:   payload,
	}, nil
}
