package model

import (
	"encoding/json"
)

// CounterKind is the kind of CounterModel.
const CounterKind = "counter"

// CounterCommand adds Delta to a counter.
type CounterCommand struct {
	Delta int64 `json:"delta"`
}

// CounterState ...
type CounterState struct {
	Value int64 `json:"value"`
}

// Marshal implements State
func (s *CounterState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal implements State
func (s *CounterState) Unmarshal(data []byte) error {
	return json.Unmarshal(data, s)
}

// Clone implements State
func (s *CounterState) Clone() State {
	return &CounterState{Value: s.Value}
}

// CounterModel is an additive counter. Additions commute, so the value does not
// depend on dispatch order.
type CounterModel struct{}

// NewCounterModel ...
func NewCounterModel() *CounterModel {
	return &CounterModel{}
}

// Kind implements Model
func (m *CounterModel) Kind() string {
	return CounterKind
}

// NewState implements Model
func (m *CounterModel) NewState() State {
	return &CounterState{}
}

// Apply implements Model
func (m *CounterModel) Apply(state State, mutation *Mutation, meta Meta) {
	s, ok := state.(*CounterState)
	if !ok || len(mutation.Payload) == 0 {
		return
	}
	var cmd CounterCommand
	if err := json.Unmarshal(mutation.Payload, &cmd); err != nil {
		return
	}
	s.Value += cmd.Delta
}

// CreateMutation implements Model
func (m *CounterModel) CreateMutation(item *Item, cmd Command) (*Mutation, error) {
	var cc CounterCommand
	switch c := cmd.(type) {
	case CounterCommand:
		cc = c
	case *CounterCommand:
		if c != nil {
			cc = *c
		}
	case nil:
	default:
		return nil, UnsupportedCommandError{Kind: CounterKind, Command: cmd}
	}

	payload, err := json.Marshal(cc)
	if err != nil {
		return nil, err
	}

	return &Mutation{
		ModelKind: CounterKind,
		Payload:   payload,
	}, nil
}
