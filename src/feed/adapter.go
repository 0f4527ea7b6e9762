package feed

import (
	"bytes"
	"sort"
	"sync"

	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/crypto/keys"
	"github.com/mosaicnetworks/echo/src/storage"
	"github.com/mosaicnetworks/echo/src/timeframe"
	"github.com/sirupsen/logrus"
)

// Adapter gives access to the feeds of every party held in one store.
type Adapter struct {
	sync.Mutex

	store  storage.Store
	signer keys.Signer
	feeds  map[string]*Feed

	// fired after every append or insert
	trigger *cm.Trigger

	logger *logrus.Entry
}

// NewAdapter ...
func NewAdapter(store storage.Store, signer keys.Signer, logger *logrus.Entry) *Adapter {
	return &Adapter{
		store:   store,
		signer:  signer,
		feeds:   make(map[string]*Feed),
		trigger: cm.NewTrigger(),
		logger:  logger,
	}
}

// OpenFeed returns the feed feedKey of party partyKey, creating it if it does
// not exist.
func (a *Adapter) OpenFeed(partyKey, feedKey string) (*Feed, error) {
	a.Lock()
	defer a.Unlock()

	id := partyKey + "/" + feedKey
	if f, ok := a.feeds[id]; ok {
		return f, nil
	}

	logger := a.logger.WithFields(logrus.Fields{
		"party": cm.ShortKey(partyKey),
		"feed":  cm.ShortKey(feedKey),
	})

	f, err := newFeed(partyKey, feedKey, a.store, a.signer, a.written, logger)
	if err != nil {
		return nil, err
	}
	a.feeds[id] = f

	logger.WithField("len", f.length).Debug("Feed opened")

	return f, nil
}

func (a *Adapter) written(*Message) {
	a.trigger.Fire()
}

// Listen registers fn to be called after every write to any feed. It returns
// a function that unregisters fn.
func (a *Adapter) Listen(fn func()) func() {
	return a.trigger.Listen(fn)
}

// Insert stores a message received from another peer. The message must be
// signed by its feed key and must be the next one in its feed. It returns false,
// without error, when the message is already stored.
func (a *Adapter) Insert(msg *Message) (bool, error) {
	if err := msg.Verify(); err != nil {
		return false, err
	}

	f, err := a.OpenFeed(msg.Body.PartyKey, msg.Body.FeedKey)
	if err != nil {
		return false, err
	}

	return f.insert(msg)
}

// PartyFeeds returns the keys of the feeds stored for a party, sorted.
func (a *Adapter) PartyFeeds(partyKey string) ([]string, error) {
	prefix := indexPrefix(partyKey)
	res := []string{}

	err := a.store.Scan(prefix, func(key, value []byte) error {
		res = append(res, string(bytes.TrimPrefix(key, prefix)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(res)
	return res, nil
}

// Known returns the highest stored sequence number of every feed of a party.
// Empty feeds are omitted.
func (a *Adapter) Known(partyKey string) (timeframe.Timeframe, error) {
	keys, err := a.PartyFeeds(partyKey)
	if err != nil {
		return nil, err
	}

	res := timeframe.New()
	for _, k := range keys {
		f, err := a.OpenFeed(partyKey, k)
		if err != nil {
			return nil, err
		}
		if l := f.Length(); l > 0 {
			res.Set(k, l-1)
		}
	}
	return res, nil
}

// Clear deletes every feed.
func (a *Adapter) Clear() error {
	a.Lock()
	defer a.Unlock()

	a.feeds = make(map[string]*Feed)
	return a.store.Clear()
}

// Close closes the underlying store.
func (a *Adapter) Close() error {
	return a.store.Close()
}
