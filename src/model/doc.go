// Package model defines how items are reconstituted from mutations.
//
// A Model is a deterministic reducer for one kind of item state. Models are
// registered once, at startup, in a Registry keyed by their Kind; there is no
// runtime discovery. The ItemManager of a party owns the items and routes each
// dispatched Mutation to the Model named in it.
//
// Local writes never touch item state directly. CreateMutation only encodes a
// command; the state changes when the resulting Mutation comes back through
// the party's inbound pipeline, so every writer observes its own write exactly
// once.
//
// Two models are provided: ObjectModel, a last-writer-wins property map, and
// CounterModel, an additive counter.
package model
