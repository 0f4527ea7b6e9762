// Package timeframe implements the vector clock used to order party feeds.
//
// A Timeframe maps a feed key to the highest sequence number dispatched from
// that feed. Feeds that are absent have seen nothing, which is represented by
// -1 so that the first message of a feed, at sequence 0, is the next one due.
package timeframe

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mosaicnetworks/echo/src/common"
	"golang.org/x/exp/maps"
)

// None is the position of a feed that has not dispatched any message.
const None = -1

// Timeframe is a vector timestamp over feed sequence numbers.
type Timeframe map[string]int

// New returns an empty Timeframe.
func New() Timeframe {
	return make(Timeframe)
}

// Get returns the sequence number recorded for feed, or None.
func (t Timeframe) Get(feed string) int {
	if seq, ok := t[feed]; ok {
		return seq
	}
	return None
}

// Set records seq for feed. Positions never move backwards; a lower seq is
// ignored.
func (t Timeframe) Set(feed string, seq int) {
	if seq > t.Get(feed) {
		t[feed] = seq
	}
}

// Copy returns an independent copy.
func (t Timeframe) Copy() Timeframe {
	res := make(Timeframe, len(t))
	for k, v := range t {
		res[k] = v
	}
	return res
}

// Merge sets t to the elementwise maximum of t and other.
func (t Timeframe) Merge(other Timeframe) {
	for k, v := range other {
		t.Set(k, v)
	}
}

// Dominates returns true if t has seen everything other has seen, ie. every
// feed position in other is less than or equal to the same feed's position in
// t.
func (t Timeframe) Dominates(other Timeframe) bool {
	for k, v := range other {
		if t.Get(k) < v {
			return false
		}
	}
	return true
}

// Equals returns true if t and other dominate each other.
func (t Timeframe) Equals(other Timeframe) bool {
	return t.Dominates(other) && other.Dominates(t)
}

// Keys returns the feed keys in lexicographic order. This is also the
// tie-break order used when several feeds have a message ready.
func (t Timeframe) Keys() []string {
	keys := maps.Keys(t)
	sort.Strings(keys)
	return keys
}

// Depth is the number of messages covered by the Timeframe. A message whose
// prior Timeframe causally follows another message's has a strictly greater
// Depth.
func (t Timeframe) Depth() int {
	depth := 0
	for _, v := range t {
		if v > None {
			depth += v + 1
		}
	}
	return depth
}

// Missing returns, for every feed where other is ahead of t, the position in t
// from which other has more messages. It is what a peer at t still needs from
// a peer at other.
func (t Timeframe) Missing(other Timeframe) Timeframe {
	res := New()
	for k, v := range other {
		if mine := t.Get(k); mine < v {
			res[k] = mine
		}
	}
	return res
}

// String renders the Timeframe in key order with abbreviated feed keys.
func (t Timeframe) String() string {
	parts := make([]string, 0, len(t))
	for _, k := range t.Keys() {
		parts = append(parts, fmt.Sprintf("%s:%d", common.ShortKey(k), t[k]))
	}
	return "[" + strings.Join(parts, " ") + "]"
}
