package pipeline

import (
	"context"
	"testing"
	"time"

	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/credentials"
	"github.com/mosaicnetworks/echo/src/feed"
	"github.com/mosaicnetworks/echo/src/keyring"
	"github.com/mosaicnetworks/echo/src/model"
	"github.com/mosaicnetworks/echo/src/snapshot"
	"github.com/mosaicnetworks/echo/src/storage"
	"github.com/mosaicnetworks/echo/src/timeframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

type peer struct {
	t        *testing.T
	name     string
	kr       *keyring.Keyring
	adapter  *feed.Adapter
	identity string
	control  string
	data     string
	pipeline *Pipeline
}

func newPeer(t *testing.T, name string) *peer {
	kr := keyring.NewKeyring(storage.NewInmemStore("keys"), cm.NewTestEntry(t, name))

	create := func(kt keyring.KeyType) string {
		rec, err := kr.CreateKey(kt)
		require.NoError(t, err)
		return rec.PublicKey
	}

	return &peer{
		t:        t,
		name:     name,
		kr:       kr,
		adapter:  feed.NewAdapter(storage.NewInmemStore("feeds"), kr, cm.NewTestEntry(t, name)),
		identity: create(keyring.IdentityKey),
		control:  create(keyring.FeedKey),
		data:     create(keyring.FeedKey),
	}
}

func (p *peer) start(partyKey, genesis string, snap *snapshot.Snapshot, snapshots *snapshot.Store) *Pipeline {
	pl, err := New(Config{
		PartyKey:         partyKey,
		GenesisFeedKey:   genesis,
		Adapter:          p.adapter,
		Registry:         model.DefaultRegistry(),
		Snapshots:        snapshots,
		SnapshotInterval: 3,
		Snapshot:         snap,
		Logger:           cm.NewTestEntry(p.t, p.name),
	})
	require.NoError(p.t, err)

	control, err := p.adapter.OpenFeed(partyKey, p.control)
	require.NoError(p.t, err)
	data, err := p.adapter.OpenFeed(partyKey, p.data)
	require.NoError(p.t, err)
	pl.SetWriteFeeds(control, data)

	require.NoError(p.t, pl.Start(context.Background()))
	p.t.Cleanup(pl.Stop)

	p.pipeline = pl
	return pl
}

func (p *peer) writeCredential(signer string, a credentials.Assertion) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	c, err := credentials.CreateCredential(p.kr, signer, a)
	require.NoError(p.t, err)
	id, err := p.pipeline.WriteCredential(ctx, c)
	require.NoError(p.t, err)
	require.NoError(p.t, p.pipeline.WaitForMessage(ctx, id.FeedKey, id.Seq))
}

// createParty makes p the creator of a new party, using its control feed as
// the genesis feed.
func createParty(t *testing.T, p *peer, snapshots *snapshot.Store) string {
	rec, err := p.kr.CreateKey(keyring.PartyKey)
	require.NoError(t, err)
	party := rec.PublicKey

	p.start(party, p.control, nil, snapshots)
	p.writeCredential(party, credentials.NewPartyGenesis(party, p.control))
	p.writeCredential(party, credentials.NewPartyMember(party, p.identity, credentials.Admin))
	p.writeCredential(party, credentials.NewAdmittedFeed(party, p.data, "", p.identity, credentials.Data))

	require.True(t, p.pipeline.State().CanWrite(p.data))
	return party
}

// admit has admin write the credentials of guest, and starts guest's
// pipeline.
func admit(t *testing.T, admin, guest *peer, party string) {
	genesis := admin.pipeline.State().GenesisFeed()
	guest.start(party, genesis, nil, nil)

	admin.writeCredential(admin.identity, credentials.NewPartyMember(party, guest.identity, credentials.Writer))
	admin.writeCredential(admin.identity, credentials.NewAdmittedFeed(party, guest.control, "", guest.identity, credentials.Control))
	admin.writeCredential(admin.identity, credentials.NewAdmittedFeed(party, guest.data, "", guest.identity, credentials.Data))

	replicate(t, admin.adapter, guest.adapter, party)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, guest.pipeline.WaitFor(ctx, func() bool {
		return guest.pipeline.State().CanWrite(guest.data)
	}))
}

// replicate copies every message that dst is missing from src.
func replicate(t *testing.T, src, dst *feed.Adapter, party string) {
	keys, err := src.PartyFeeds(party)
	require.NoError(t, err)

	for _, k := range keys {
		replicateFeed(t, src, dst, party, k)
	}
}

func replicateFeed(t *testing.T, src, dst *feed.Adapter, party, feedKey string) {
	from, err := src.OpenFeed(party, feedKey)
	require.NoError(t, err)
	to, err := dst.OpenFeed(party, feedKey)
	require.NoError(t, err)

	msgs, err := from.Range(to.Length(), from.Length())
	require.NoError(t, err)
	for _, m := range msgs {
		_, err := dst.Insert(m)
		require.NoError(t, err)
	}
}

func waitKnown(t *testing.T, p *peer, party string) {
	known, err := p.adapter.Known(party)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, p.pipeline.WaitForTimeframe(ctx, known))
}

func TestCreateAndWrite(t *testing.T) {
	a := newPeer(t, "a")
	party := createParty(t, a, nil)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	items := a.pipeline.Items()
	note, err := items.CreateItem(ctx, "note", model.ObjectKind, "", model.ObjectCommand{Set: map[string]interface{}{"title": "hello"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", note.Object().GetString("title"))

	tf := a.pipeline.Timeframe()
	assert.Equal(t, 2, tf.Get(a.control))
	assert.Equal(t, 0, tf.Get(a.data))

	members := a.pipeline.State().Members()
	require.Len(t, members, 1)
	assert.Equal(t, a.identity, members[0].IdentityKey)
	assert.Equal(t, party, a.pipeline.State().PartyKey())
}

func TestConvergence(t *testing.T) {
	a, b := newPeer(t, "a"), newPeer(t, "b")
	party := createParty(t, a, nil)
	admit(t, a, b, party)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	note, err := a.pipeline.Items().CreateItem(ctx, "note", model.ObjectKind, "", nil)
	require.NoError(t, err)
	votes, err := a.pipeline.Items().CreateItem(ctx, "votes", model.CounterKind, note.ID, nil)
	require.NoError(t, err)

	replicate(t, a.adapter, b.adapter, party)
	waitKnown(t, b, party)

	// concurrent writes, no replication in between
	for i := 0; i < 3; i++ {
		_, err = a.pipeline.Items().UpdateItem(ctx, note.ID, model.ObjectCommand{Set: map[string]interface{}{"title": "from a"}})
		require.NoError(t, err)
		_, err = a.pipeline.Items().UpdateItem(ctx, votes.ID, model.CounterCommand{Delta: 1})
		require.NoError(t, err)
	}
	_, err = b.pipeline.Items().UpdateItem(ctx, note.ID, model.ObjectCommand{Set: map[string]interface{}{"title": "from b", "body": "b"}})
	require.NoError(t, err)
	_, err = b.pipeline.Items().UpdateItem(ctx, votes.ID, model.CounterCommand{Delta: 10})
	require.NoError(t, err)

	replicate(t, a.adapter, b.adapter, party)
	replicate(t, b.adapter, a.adapter, party)
	waitKnown(t, a, party)
	waitKnown(t, b, party)

	assert.Equal(t, a.pipeline.Timeframe(), b.pipeline.Timeframe())

	for _, id := range []string{note.ID, votes.ID} {
		ia, err := a.pipeline.Items().GetItem(id)
		require.NoError(t, err)
		ib, err := b.pipeline.Items().GetItem(id)
		require.NoError(t, err)
		assert.Equal(t, ia, ib)
	}

	v, err := a.pipeline.Items().GetItem(votes.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(13), v.Counter().Value)

	n, err := b.pipeline.Items().GetItem(note.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", n.Object().GetString("body"))
}

func TestDuplicatesAndOrdering(t *testing.T) {
	a, b := newPeer(t, "a"), newPeer(t, "b")
	party := createParty(t, a, nil)
	admit(t, a, b, party)

	sub := b.pipeline.Subscribe()
	defer sub.Cancel()
	last := b.pipeline.Timeframe()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	note, err := a.pipeline.Items().CreateItem(ctx, "note", model.ObjectKind, "", nil)
	require.NoError(t, err)
	_, err = a.pipeline.Items().UpdateItem(ctx, note.ID, model.ObjectCommand{Set: map[string]interface{}{"n": "1"}})
	require.NoError(t, err)

	// every data message is delivered twice
	data, err := a.adapter.OpenFeed(party, a.data)
	require.NoError(t, err)
	msgs, err := data.Range(0, data.Length())
	require.NoError(t, err)

	replicate(t, a.adapter, b.adapter, party)
	for _, m := range msgs {
		ok, err := b.adapter.Insert(m)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	waitKnown(t, b, party)

	seen := map[string]int{}
	count := 0
	for count < len(msgs) {
		select {
		case m := <-sub.C():
			key := m.Body.FeedKey
			prev, ok := seen[key]
			if ok {
				assert.Equal(t, prev+1, m.Body.Seq, "feed order")
			}
			seen[key] = m.Body.Seq
			assert.True(t, last.Dominates(m.Body.Timeframe), "dispatched before its prior timeframe")
			last.Set(key, m.Body.Seq)
			if key == a.data {
				count++
			}
		case <-time.After(testTimeout):
			t.Fatal("timeout waiting for dispatched messages")
		}
	}

	item, err := b.pipeline.Items().GetItem(note.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", item.Object().GetString("n"))
}

func TestCausalBuffering(t *testing.T) {
	a, b, c := newPeer(t, "a"), newPeer(t, "b"), newPeer(t, "c")
	party := createParty(t, a, nil)
	admit(t, a, b, party)
	admit(t, a, c, party)
	replicate(t, a.adapter, b.adapter, party)
	waitKnown(t, b, party)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	note, err := a.pipeline.Items().CreateItem(ctx, "note", model.ObjectKind, "", nil)
	require.NoError(t, err)
	replicate(t, a.adapter, b.adapter, party)
	waitKnown(t, b, party)

	// b's update depends on a's genesis mutation
	_, err = b.pipeline.Items().UpdateItem(ctx, note.ID, model.ObjectCommand{Set: map[string]interface{}{"by": "b"}})
	require.NoError(t, err)

	// c gets b's update first
	replicateFeed(t, b.adapter, c.adapter, party, b.data)
	bData, err := c.adapter.OpenFeed(party, b.data)
	require.NoError(t, err)
	require.Equal(t, 1, bData.Length())

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer shortCancel()
	err = c.pipeline.WaitForMessage(shortCtx, b.data, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "b's update must wait for a's item")

	replicate(t, a.adapter, c.adapter, party)
	waitKnown(t, c, party)

	item, err := c.pipeline.Items().GetItem(note.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", item.Object().GetString("by"))
}

func TestMutationWithoutAdmission(t *testing.T) {
	a := newPeer(t, "a")
	party := createParty(t, a, nil)

	// a stranger's feed is never read
	stranger := newPeer(t, "stranger")
	stranger.start(party, a.control, nil, nil)
	replicate(t, a.adapter, stranger.adapter, party)
	waitKnown(t, stranger, party)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := stranger.pipeline.Items().CreateItem(ctx, "note", model.ObjectKind, "", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	replicate(t, stranger.adapter, a.adapter, party)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, a.pipeline.Items().Len())
	assert.Equal(t, timeframe.None, a.pipeline.Timeframe().Get(stranger.data))
}

func TestSnapshotReplay(t *testing.T) {
	snapshots := snapshot.NewStore(storage.NewInmemStore("snapshots"), cm.NewTestEntry(t, "snapshot"))
	defer snapshots.Close()

	a := newPeer(t, "a")
	party := createParty(t, a, snapshots)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	items := a.pipeline.Items()
	note, err := items.CreateItem(ctx, "note", model.ObjectKind, "", model.ObjectCommand{Set: map[string]interface{}{"title": "v0"}})
	require.NoError(t, err)
	for i := 1; i <= 4; i++ {
		_, err = items.UpdateItem(ctx, note.ID, model.CounterCommand{Delta: 1})
		assert.Error(t, err, "object items do not take counter commands")
		_, err = items.UpdateItem(ctx, note.ID, model.ObjectCommand{Set: map[string]interface{}{"title": i}})
		require.NoError(t, err)
	}

	// 3 credentials and 5 mutations, a snapshot every 3 messages
	snap, err := snapshots.Load(party)
	require.NoError(t, err)
	assert.Equal(t, 6, snap.Timeframe.Depth())

	// more writes after the snapshot
	_, err = items.CreateItem(ctx, "votes", model.CounterKind, note.ID, model.CounterCommand{Delta: 2})
	require.NoError(t, err)

	replayed := newPeer(t, "replayed")
	replayed.adapter = a.adapter
	fromSnapshot := replayed.start(party, a.control, snap, nil)

	scratch := newPeer(t, "scratch")
	scratch.adapter = a.adapter
	fromScratch := scratch.start(party, a.control, nil, nil)

	waitKnown(t, replayed, party)
	waitKnown(t, scratch, party)

	want, err := fromScratch.Items().Snapshot()
	require.NoError(t, err)
	got, err := fromSnapshot.Items().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, fromScratch.State().Snapshot(), fromSnapshot.State().Snapshot())
	assert.Equal(t, fromScratch.Timeframe(), fromSnapshot.Timeframe())

	want2, err := items.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, want2, got)
}

func TestStoppedPipeline(t *testing.T) {
	a := newPeer(t, "a")
	createParty(t, a, nil)

	a.pipeline.Stop()
	a.pipeline.Stop()

	ctx := context.Background()
	_, err := a.pipeline.Items().CreateItem(ctx, "note", model.ObjectKind, "", nil)
	assert.ErrorIs(t, err, ErrStopped)

	err = a.pipeline.WaitForMessage(ctx, a.data, 10)
	assert.ErrorIs(t, err, ErrStopped)

	assert.True(t, cm.IsPrecondition(a.pipeline.Start(ctx)))
}

func TestSubscribeDuringStop(t *testing.T) {
	a := newPeer(t, "a")
	createParty(t, a, nil)

	const n = 20
	subs := make(chan *Subscription, n)
	start := make(chan struct{})

	for i := 0; i < n; i++ {
		go func() {
			<-start
			subs <- a.pipeline.Subscribe()
		}()
	}

	close(start)
	a.pipeline.Stop()

	// every subscription ends, whether it was taken before or after Stop
	for i := 0; i < n; i++ {
		s := <-subs
		select {
		case _, ok := <-s.C():
			assert.False(t, ok)
		case <-time.After(testTimeout):
			t.Fatal("subscription not closed after Stop")
		}
	}

	a.pipeline.subMu.Lock()
	defer a.pipeline.subMu.Unlock()
	assert.Empty(t, a.pipeline.subscribers)
}
