package feed

import (
	"context"
	"io/ioutil"
	"os"
	"testing"
	"time"

	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/keyring"
	"github.com/mosaicnetworks/echo/src/model"
	"github.com/mosaicnetworks/echo/src/storage"
	"github.com/mosaicnetworks/echo/src/timeframe"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	kr      *keyring.Keyring
	adapter *Adapter
	party   string
	feed    string
}

func newFixture(t *testing.T, store storage.Store) *fixture {
	kr := keyring.NewKeyring(storage.NewInmemStore("keys"), cm.NewTestEntry(t, "keyring"))

	party, err := kr.CreateKey(keyring.PartyKey)
	require.NoError(t, err)
	feed, err := kr.CreateKey(keyring.FeedKey)
	require.NoError(t, err)

	return &fixture{
		kr:      kr,
		adapter: NewAdapter(store, kr, cm.NewTestEntry(t, "feed")),
		party:   party.PublicKey,
		feed:    feed.PublicKey,
	}
}

func mutation(id string) *model.Mutation {
	return &model.Mutation{ItemID: id, ModelKind: model.ObjectKind, Genesis: true}
}

func appendN(t *testing.T, f *Feed, n int) []*Message {
	res := []*Message{}
	for i := 0; i < n; i++ {
		tf := timeframe.Timeframe{f.Key(): f.Length() - 1}
		msg, err := f.Append(NewMutationMessage(mutation("item"), tf))
		require.NoError(t, err)
		res = append(res, msg)
	}
	return res
}

func TestAppendAndGet(t *testing.T) {
	fx := newFixture(t, storage.NewInmemStore("feeds"))

	f, err := fx.adapter.OpenFeed(fx.party, fx.feed)
	require.NoError(t, err)

	msgs := appendN(t, f, 3)
	assert.Equal(t, 3, f.Length())

	for i, m := range msgs {
		assert.Equal(t, i, m.Body.Seq)
		assert.Equal(t, fx.party, m.Body.PartyKey)
		require.NoError(t, m.Verify())

		stored, err := f.Get(i)
		require.NoError(t, err)
		require.NoError(t, stored.Verify())
		assert.Equal(t, m.Signature, stored.Signature)
	}

	rng, err := f.Range(1, 10)
	require.NoError(t, err)
	require.Len(t, rng, 2)
	assert.Equal(t, 1, rng[0].Body.Seq)

	_, err = f.Get(3)
	assert.True(t, cm.IsStore(err, cm.KeyNotFound))
}

func TestReadFrom(t *testing.T) {
	fx := newFixture(t, storage.NewInmemStore("feeds"))

	f, err := fx.adapter.OpenFeed(fx.party, fx.feed)
	require.NoError(t, err)
	appendN(t, f, 2)

	ctx, cancel := context.WithCancel(context.Background())
	stream := f.ReadFrom(ctx, 1)

	appendN(t, f, 2)

	for want := 1; want < 4; want++ {
		select {
		case msg := <-stream:
			assert.Equal(t, want, msg.Body.Seq)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for message %d", want)
		}
	}

	cancel()
	select {
	case _, ok := <-stream:
		assert.False(t, ok, "stream should be closed")
	case <-time.After(time.Second):
		t.Fatal("stream not closed after cancel")
	}
}

func TestReadFromLogsReadErrors(t *testing.T) {
	store := storage.NewInmemStore("feeds")
	fx := newFixture(t, store)

	logger, hook := logtest.NewNullLogger()
	adapter := NewAdapter(store, fx.kr, logger.WithField("prefix", "feed"))

	f, err := adapter.OpenFeed(fx.party, fx.feed)
	require.NoError(t, err)
	appendN(t, f, 3)

	require.NoError(t, store.Delete(messageKey(fx.party, fx.feed, 1)))

	stream := f.ReadFrom(context.Background(), 0)

	var seqs []int
	for msg := range stream {
		seqs = append(seqs, msg.Body.Seq)
	}
	assert.Equal(t, []int{0}, seqs)

	var logged *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			logged = e
		}
	}
	require.NotNil(t, logged, "read error not logged")
	assert.Equal(t, "Reading feed", logged.Message)
	assert.Equal(t, 1, logged.Data["seq"])
}

func TestInsert(t *testing.T) {
	src := newFixture(t, storage.NewInmemStore("feeds"))
	f, err := src.adapter.OpenFeed(src.party, src.feed)
	require.NoError(t, err)
	msgs := appendN(t, f, 3)

	// the receiving peer has no keys for this feed
	dst := newFixture(t, storage.NewInmemStore("feeds"))

	ok, err := dst.adapter.Insert(msgs[0])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dst.adapter.Insert(msgs[0])
	require.NoError(t, err)
	assert.False(t, ok, "duplicate should be a no-op")

	_, err = dst.adapter.Insert(msgs[2])
	assert.True(t, cm.IsStore(err, cm.SkippedIndex))

	tampered := *msgs[1]
	tampered.Body.Seq = 1
	tampered.Body.Timeframe = timeframe.Timeframe{"0XFORGED": 7}
	_, err = dst.adapter.Insert(&tampered)
	assert.True(t, cm.IsIntegrity(err))

	ok, err = dst.adapter.Insert(msgs[1])
	require.NoError(t, err)
	assert.True(t, ok)

	known, err := dst.adapter.Known(src.party)
	require.NoError(t, err)
	assert.Equal(t, timeframe.Timeframe{src.feed: 1}, known)

	feeds, err := dst.adapter.PartyFeeds(src.party)
	require.NoError(t, err)
	assert.Equal(t, []string{src.feed}, feeds)
}

func TestListen(t *testing.T) {
	fx := newFixture(t, storage.NewInmemStore("feeds"))
	f, err := fx.adapter.OpenFeed(fx.party, fx.feed)
	require.NoError(t, err)

	calls := 0
	stop := fx.adapter.Listen(func() {
		// listeners may read feeds
		fx.adapter.Known(fx.party)
		calls++
	})

	appendN(t, f, 2)
	stop()
	appendN(t, f, 1)

	assert.Equal(t, 2, calls)
}

func TestBadgerPersistence(t *testing.T) {
	os.Mkdir("test_data", os.ModeDir|0777)
	dir, err := ioutil.TempDir("test_data", "feeds")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	logger := cm.NewTestLogger(t, logrus.WarnLevel).WithField("prefix", "badger")

	store, err := storage.NewBadgerStore("feeds", dir, logger)
	require.NoError(t, err)

	fx := newFixture(t, store)
	f, err := fx.adapter.OpenFeed(fx.party, fx.feed)
	require.NoError(t, err)
	msgs := appendN(t, f, 5)
	require.NoError(t, fx.adapter.Close())

	store, err = storage.NewBadgerStore("feeds", dir, logger)
	require.NoError(t, err)
	adapter := NewAdapter(store, fx.kr, cm.NewTestEntry(t, "feed"))
	defer adapter.Close()

	f, err = adapter.OpenFeed(fx.party, fx.feed)
	require.NoError(t, err)
	assert.Equal(t, 5, f.Length())

	last, err := f.Get(4)
	require.NoError(t, err)
	assert.Equal(t, msgs[4].Signature, last.Signature)
	require.NoError(t, last.Verify())

	require.NoError(t, adapter.Clear())
	feeds, err := adapter.PartyFeeds(fx.party)
	require.NoError(t, err)
	assert.Empty(t, feeds)
}
