// Package snapshot persists the state of open parties so that they can be
// reopened without replaying their feeds from the start.
package snapshot

import (
	"github.com/mosaicnetworks/echo/src/credentials"
	"github.com/mosaicnetworks/echo/src/model"
	"github.com/mosaicnetworks/echo/src/timeframe"
)

// Snapshot is the state of a party at Timeframe: the result of dispatching
// exactly the messages covered by Timeframe.
type Snapshot struct {
	PartyKey   string                    `json:"partyKey"`
	Timeframe  timeframe.Timeframe       `json:"timeframe"`
	PartyState credentials.StateSnapshot `json:"partyState"`
	Items      []model.ItemSnapshot      `json:"items"`
}
