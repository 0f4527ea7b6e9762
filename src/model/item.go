package model

// Item is a mutable object reconstituted from the mutations of a party.
type Item struct {
	ID        string
	Type      string
	ModelKind string
	Parent    string
	State     State
}

// Object returns the state of an object item, or nil for other kinds.
func (i *Item) Object() *ObjectState {
	s, _ := i.State.(*ObjectState)
	return s
}

// Counter returns the state of a counter item, or nil for other kinds.
func (i *Item) Counter() *CounterState {
	s, _ := i.State.(*CounterState)
	return s
}

func (i *Item) clone() *Item {
	return &Item{
		ID:        i.ID,
		Type:      i.Type,
		ModelKind: i.ModelKind,
		Parent:    i.Parent,
		State:     i.State.Clone(),
	}
}

// Filter selects items in a ResultSet. Empty fields match everything.
type Filter struct {
	Type   string
	Parent string
}

// Match ...
func (f Filter) Match(item *Item) bool {
	if f.Type != "" && f.Type != item.Type {
		return false
	}
	if f.Parent != "" && f.Parent != item.Parent {
		return false
	}
	return true
}

// ItemSnapshot is the serialized form of an Item.
type ItemSnapshot struct {
	ID        string `json:"id"`
	Type      string `json:"type,omitempty"`
	ModelKind string `json:"model"`
	Parent    string `json:"parent,omitempty"`
	State     []byte `json:"state"`
}
