package party

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mosaicnetworks/echo/src/storage"
)

const metadataPrefix = "party_"

func metadataKey(partyKey string) []byte {
	return []byte(metadataPrefix + partyKey)
}

// Metadata is the persisted record of a party known to the local instance.
type Metadata struct {
	PartyKey       string `json:"partyKey"`
	GenesisFeedKey string `json:"genesisFeedKey"`

	// the local device's feeds in the party
	ControlFeedKey string `json:"controlFeedKey"`
	DataFeedKey    string `json:"dataFeedKey"`

	// Closed is set when the party was closed explicitly, and is not reopened
	// by Manager.Open.
	Closed bool `json:"closed"`

	Created time.Time `json:"created"`
}

func saveMetadata(store storage.Store, m Metadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return store.Set(metadataKey(m.PartyKey), data)
}

func loadMetadata(store storage.Store) ([]Metadata, error) {
	var res []Metadata

	err := store.Scan([]byte(metadataPrefix), func(key, value []byte) error {
		var m Metadata
		if err := json.Unmarshal(value, &m); err != nil {
			return err
		}
		if m.PartyKey != strings.TrimPrefix(string(key), metadataPrefix) {
			return nil
		}
		res = append(res, m)
		return nil
	})

	return res, err
}
