package model

import (
	"github.com/mosaicnetworks/echo/src/timeframe"
)

// Mutation is the data-plane payload of a feed message.
type Mutation struct {
	ItemID    string `json:"itemId"`
	ModelKind string `json:"model"`
	ItemType  string `json:"itemType,omitempty"`
	Parent    string `json:"parent,omitempty"`
	Genesis   bool   `json:"genesis,omitempty"`
	Payload   []byte `json:"payload,omitempty"`
}

// Meta locates a dispatched Mutation in the party's merged stream.
type Meta struct {
	FeedKey   string
	Seq       int
	Timeframe timeframe.Timeframe
}

// Stamp orders concurrent writes. Stamps are compared by causal depth first,
// then feed key, then sequence number, so that every peer picks the same
// winner regardless of the order in which it received the writes.
type Stamp struct {
	Depth int    `json:"depth"`
	Feed  string `json:"feed"`
	Seq   int    `json:"seq"`
}

// StampOf returns the Stamp of a dispatched mutation.
func StampOf(meta Meta) Stamp {
	return Stamp{
		Depth: meta.Timeframe.Depth(),
		Feed:  meta.FeedKey,
		Seq:   meta.Seq,
	}
}

// Less ...
func (s Stamp) Less(o Stamp) bool {
	if s.Depth != o.Depth {
		return s.Depth < o.Depth
	}
	if s.Feed != o.Feed {
		return s.Feed < o.Feed
	}
	return s.Seq < o.Seq
}
