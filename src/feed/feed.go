package feed

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/crypto/keys"
	"github.com/mosaicnetworks/echo/src/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var (
	appendedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "echo_feed_appended_messages_total",
		Help: "Number of messages appended to local feeds",
	})

	insertedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "echo_feed_inserted_messages_total",
		Help: "Number of replicated messages inserted into feeds",
	})
)

func indexKey(partyKey, feedKey string) []byte {
	return []byte(fmt.Sprintf("feeds/%s/%s", partyKey, feedKey))
}

func indexPrefix(partyKey string) []byte {
	return []byte(fmt.Sprintf("feeds/%s/", partyKey))
}

func messageKey(partyKey, feedKey string, seq int) []byte {
	return []byte(fmt.Sprintf("msg/%s/%s/%010d", partyKey, feedKey, seq))
}

// Feed is one append-only log of a party.
type Feed struct {
	sync.Mutex

	partyKey string
	key      string
	length   int

	store  storage.Store
	signer keys.Signer

	// closed and replaced after every write
	notify chan struct{}

	onWrite func(*Message)

	logger *logrus.Entry
}

func newFeed(partyKey, feedKey string, store storage.Store, signer keys.Signer, onWrite func(*Message), logger *logrus.Entry) (*Feed, error) {
	f := &Feed{
		partyKey: partyKey,
		key:      feedKey,
		store:    store,
		signer:   signer,
		notify:   make(chan struct{}),
		onWrite:  onWrite,
		logger:   logger,
	}

	v, err := store.Get(indexKey(partyKey, feedKey))
	switch {
	case err == nil:
		if f.length, err = strconv.Atoi(string(v)); err != nil {
			return nil, err
		}
	case cm.IsStore(err, cm.KeyNotFound):
		if err := store.Set(indexKey(partyKey, feedKey), []byte("0")); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	return f, nil
}

// Key returns the feed's public key.
func (f *Feed) Key() string {
	return f.key
}

// PartyKey ...
func (f *Feed) PartyKey() string {
	return f.partyKey
}

// Length returns the number of messages in the feed.
func (f *Feed) Length() int {
	f.Lock()
	defer f.Unlock()
	return f.length
}

// Append numbers, signs and stores msg as the next message of the feed. The
// signer must hold the feed's private key.
func (f *Feed) Append(msg *Message) (*Message, error) {
	f.Lock()

	msg.Body.PartyKey = f.partyKey
	msg.Body.FeedKey = f.key
	msg.Body.Seq = f.length

	if err := msg.Sign(f.signer); err != nil {
		f.Unlock()
		return nil, err
	}

	if err := f.write(msg); err != nil {
		f.Unlock()
		return nil, err
	}

	f.Unlock()

	appendedMessages.Inc()
	f.written(msg)

	return msg, nil
}

// insert stores a replicated message. It reports false for a message that is
// already present.
func (f *Feed) insert(msg *Message) (bool, error) {
	f.Lock()

	seq := msg.Body.Seq
	switch {
	case seq < f.length:
		f.Unlock()
		return false, nil
	case seq > f.length:
		f.Unlock()
		return false, cm.NewStoreErr("Feed", cm.SkippedIndex, strconv.Itoa(seq))
	}

	if err := f.write(msg); err != nil {
		f.Unlock()
		return false, err
	}

	f.Unlock()

	insertedMessages.Inc()
	f.written(msg)

	return true, nil
}

func (f *Feed) written(msg *Message) {
	if f.onWrite != nil {
		f.onWrite(msg)
	}
}

// write must be called with the lock held.
func (f *Feed) write(msg *Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return err
	}

	err = f.store.SetBatch([]storage.Entry{
		{Key: messageKey(f.partyKey, f.key, msg.Body.Seq), Value: data},
		{Key: indexKey(f.partyKey, f.key), Value: []byte(strconv.Itoa(msg.Body.Seq + 1))},
	})
	if err != nil {
		return err
	}

	f.length = msg.Body.Seq + 1
	close(f.notify)
	f.notify = make(chan struct{})

	return nil
}

// Get returns the message at seq.
func (f *Feed) Get(seq int) (*Message, error) {
	data, err := f.store.Get(messageKey(f.partyKey, f.key, seq))
	if err != nil {
		return nil, err
	}
	msg := new(Message)
	if err := msg.Unmarshal(data); err != nil {
		return nil, err
	}
	return msg, nil
}

// Range returns the messages in [from, to). to is capped at the feed's length.
func (f *Feed) Range(from, to int) ([]*Message, error) {
	if from < 0 {
		from = 0
	}
	if l := f.Length(); to > l {
		to = l
	}

	res := []*Message{}
	for seq := from; seq < to; seq++ {
		msg, err := f.Get(seq)
		if err != nil {
			return nil, err
		}
		res = append(res, msg)
	}
	return res, nil
}

func (f *Feed) wait() (int, <-chan struct{}) {
	f.Lock()
	defer f.Unlock()
	return f.length, f.notify
}

// ReadFrom streams the feed's messages in order, starting at seq from, and
// keeps streaming new messages as they are written. The channel is closed
// when ctx is done or a read fails.
func (f *Feed) ReadFrom(ctx context.Context, from int) <-chan *Message {
	out := make(chan *Message)

	go func() {
		defer close(out)

		next := from
		for {
			length, notify := f.wait()

			for ; next < length; next++ {
				msg, err := f.Get(next)
				if err != nil {
					f.logger.WithError(err).WithField("seq", next).Error("Reading feed")
					return
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
