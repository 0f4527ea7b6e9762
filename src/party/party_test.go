package party

import (
	"context"
	"sync"
	"testing"
	"time"

	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/credentials"
	"github.com/mosaicnetworks/echo/src/feed"
	"github.com/mosaicnetworks/echo/src/invitation"
	"github.com/mosaicnetworks/echo/src/keyring"
	"github.com/mosaicnetworks/echo/src/model"
	"github.com/mosaicnetworks/echo/src/net/swarm"
	"github.com/mosaicnetworks/echo/src/snapshot"
	"github.com/mosaicnetworks/echo/src/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

// testNetwork copies the feeds of tracked parties between all its
// replicators.
type testNetwork struct {
	sync.Mutex
	replicators []*testReplicator
	paused      bool
	done        chan struct{}
}

func newTestNetwork(t *testing.T) *testNetwork {
	n := &testNetwork{done: make(chan struct{})}
	go n.run()
	t.Cleanup(func() { close(n.done) })
	return n
}

func (n *testNetwork) run() {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.sync()
		case <-n.done:
			return
		}
	}
}

// pause stops or resumes copying feeds.
func (n *testNetwork) pause(paused bool) {
	n.Lock()
	defer n.Unlock()
	n.paused = paused
}

// sync holds the lock throughout, so that pause waits for a round in
// progress.
func (n *testNetwork) sync() {
	n.Lock()
	defer n.Unlock()

	if n.paused {
		return
	}
	reps := n.replicators

	for _, src := range reps {
		for _, dst := range reps {
			if src == dst {
				continue
			}
			for _, party := range src.tracked() {
				copyFeeds(src.adapter, dst.adapter, party)
			}
		}
	}
}

func copyFeeds(src, dst *feed.Adapter, party string) {
	keys, err := src.PartyFeeds(party)
	if err != nil {
		return
	}
	for _, k := range keys {
		from, err := src.OpenFeed(party, k)
		if err != nil {
			return
		}
		to, err := dst.OpenFeed(party, k)
		if err != nil {
			return
		}
		msgs, err := from.Range(to.Length(), from.Length())
		if err != nil {
			continue
		}
		for _, m := range msgs {
			if _, err := dst.Insert(m); err != nil {
				break
			}
		}
	}
}

type testReplicator struct {
	sync.Mutex
	address string
	adapter *feed.Adapter
	peers   []string
	parties map[string]bool
}

// replicator returns a new replicator, replacing any previous one with the
// same address.
func (n *testNetwork) replicator(address string, adapter *feed.Adapter) *testReplicator {
	r := &testReplicator{
		address: address,
		adapter: adapter,
		parties: make(map[string]bool),
	}

	n.Lock()
	defer n.Unlock()

	for i, old := range n.replicators {
		if old.address == address {
			n.replicators[i] = r
			return r
		}
	}
	n.replicators = append(n.replicators, r)
	return r
}

func (r *testReplicator) Address() string { return r.address }

func (r *testReplicator) AddPeer(address string) {
	r.Lock()
	defer r.Unlock()
	r.peers = append(r.peers, address)
}

func (r *testReplicator) Peers() []string {
	r.Lock()
	defer r.Unlock()
	return append([]string(nil), r.peers...)
}

func (r *testReplicator) Track(partyKey string) {
	r.Lock()
	defer r.Unlock()
	r.parties[partyKey] = true
}

func (r *testReplicator) Untrack(partyKey string) {
	r.Lock()
	defer r.Unlock()
	delete(r.parties, partyKey)
}

func (r *testReplicator) tracked() []string {
	r.Lock()
	defer r.Unlock()
	res := make([]string, 0, len(r.parties))
	for k := range r.parties {
		res = append(res, k)
	}
	return res
}

// instance holds the stores of one peer, so that managers can be recreated
// over them.
type instance struct {
	t          *testing.T
	name       string
	keys       storage.Store
	feeds      storage.Store
	metadata   storage.Store
	snapshots  *snapshot.Store
	hub        *swarm.InmemHub
	network    *testNetwork
	replicator *testReplicator
	identity   *keyring.IdentityManager
}

func newInstance(t *testing.T, name string, hub *swarm.InmemHub, network *testNetwork) *instance {
	in := &instance{
		t:         t,
		name:      name,
		keys:      storage.NewInmemStore("keys"),
		feeds:     storage.NewInmemStore("feeds"),
		metadata:  storage.NewInmemStore("metadata"),
		snapshots: snapshot.NewStore(storage.NewInmemStore("snapshots"), cm.NewTestEntry(t, name)),
		hub:       hub,
		network:   network,
	}

	kr := keyring.NewKeyring(in.keys, cm.NewTestEntry(t, name))
	in.identity = keyring.NewIdentityManager(kr, cm.NewTestEntry(t, name))
	require.NoError(t, in.identity.CreateIdentity())

	return in
}

// manager builds a new manager over the instance's stores.
func (in *instance) manager() *Manager {
	kr := keyring.NewKeyring(in.keys, cm.NewTestEntry(in.t, in.name))
	require.NoError(in.t, kr.Load())
	identity := keyring.NewIdentityManager(kr, cm.NewTestEntry(in.t, in.name))

	adapter := feed.NewAdapter(in.feeds, kr, cm.NewTestEntry(in.t, in.name))
	in.replicator = in.network.replicator(in.name, adapter)

	m := NewManager(Config{
		Identity:          identity,
		Adapter:           adapter,
		Registry:          model.DefaultRegistry(),
		Metadata:          in.metadata,
		Snapshots:         in.snapshots,
		SnapshotInterval:  5,
		Network:           in.hub.Network(),
		InvitationTimeout: testTimeout,
		Replicator:        in.replicator,
		Logger:            cm.NewTestEntry(in.t, in.name),
	})

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(in.t, m.Open(ctx))

	in.t.Cleanup(func() { m.Close(context.Background()) })

	return m
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

func TestCreateParty(t *testing.T) {
	alice := newInstance(t, "alice", swarm.NewInmemHub(), newTestNetwork(t))
	m := alice.manager()
	ctx := testContext(t)

	p, err := m.CreateParty(ctx)
	require.NoError(t, err)

	assert.Equal(t, Open, p.State())
	assert.True(t, p.IsMember(alice.identity.IdentityKey()))

	members := p.Members()
	require.Len(t, members, 1)
	assert.Equal(t, credentials.Admin, members[0].Role)

	feeds := p.Feeds()
	require.Len(t, feeds, 2)

	meta := p.Metadata()
	assert.Equal(t, meta.GenesisFeedKey, meta.ControlFeedKey)
	assert.True(t, p.Pipeline().State().CanWrite(meta.DataFeedKey))

	got, err := m.GetParty(p.Key())
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = m.GetParty("unknown")
	assert.Equal(t, ErrPartyNotFound, err)

	stored, err := loadMetadata(alice.metadata)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, p.Key(), stored[0].PartyKey)
}

func TestJoinParty(t *testing.T) {
	hub, network := swarm.NewInmemHub(), newTestNetwork(t)
	alice := newInstance(t, "alice", hub, network)
	bob := newInstance(t, "bob", hub, network)
	am, bm := alice.manager(), bob.manager()
	ctx := testContext(t)

	ap, err := am.CreateParty(ctx)
	require.NoError(t, err)

	greeter, err := ap.CreateInvitation(ctx, invitation.Options{Type: invitation.Interactive})
	require.NoError(t, err)

	token, err := greeter.Descriptor().Encode()
	require.NoError(t, err)
	d, err := invitation.Decode(token)
	require.NoError(t, err)

	secret := greeter.Descriptor().Secret
	bp, err := bm.JoinParty(ctx, d, func(ctx context.Context, attempt int) (string, error) {
		return secret, nil
	})
	require.NoError(t, err)
	require.NoError(t, greeter.Wait(ctx))

	assert.Equal(t, ap.Key(), bp.Key())
	assert.Equal(t, Open, bp.State())
	assert.True(t, bp.IsMember(bob.identity.IdentityKey()))
	assert.True(t, ap.IsMember(bob.identity.IdentityKey()))

	assert.Equal(t, []string{"alice"}, bob.replicator.Peers())
	assert.Equal(t, []string{"bob"}, alice.replicator.Peers())

	// bob writes, alice reads
	note, err := bp.Items().CreateItem(ctx, "note", model.ObjectKind, "", model.ObjectCommand{
		Set: map[string]interface{}{"title": "from bob"},
	})
	require.NoError(t, err)

	require.NoError(t, ap.Pipeline().WaitFor(ctx, func() bool {
		_, err := ap.Items().GetItem(note.ID)
		return err == nil
	}))
	item, err := ap.Items().GetItem(note.ID)
	require.NoError(t, err)
	assert.Equal(t, "from bob", item.Object().GetString("title"))

	// bob is a writer and cannot invite
	_, err = bp.CreateInvitation(ctx, invitation.Options{Type: invitation.Interactive})
	assert.True(t, cm.IsPrecondition(err), "got %v", err)
}

func TestJoinWrongSecret(t *testing.T) {
	hub, network := swarm.NewInmemHub(), newTestNetwork(t)
	alice := newInstance(t, "alice", hub, network)
	bob := newInstance(t, "bob", hub, network)
	am, bm := alice.manager(), bob.manager()
	ctx := testContext(t)

	ap, err := am.CreateParty(ctx)
	require.NoError(t, err)

	greeter, err := ap.CreateInvitation(ctx, invitation.Options{Type: invitation.Interactive, Secret: "123456"})
	require.NoError(t, err)

	_, err = bm.JoinParty(ctx, greeter.Descriptor(), func(ctx context.Context, attempt int) (string, error) {
		return "654321", nil
	})
	assert.ErrorIs(t, err, invitation.ErrInvalidSecret)

	assert.Len(t, ap.Members(), 1)
	assert.Empty(t, bm.Parties())
	assert.Equal(t, invitation.GreeterConnected, greeter.State())
}

func TestJoinAdmissionPending(t *testing.T) {
	hub, network := swarm.NewInmemHub(), newTestNetwork(t)
	alice := newInstance(t, "alice", hub, network)
	bob := newInstance(t, "bob", hub, network)
	am, bm := alice.manager(), bob.manager()
	ctx := testContext(t)

	ap, err := am.CreateParty(ctx)
	require.NoError(t, err)

	greeter, err := ap.CreateInvitation(ctx, invitation.Options{Type: invitation.Interactive})
	require.NoError(t, err)
	secret := greeter.Descriptor().Secret

	// alice writes the admission but bob never receives it
	network.pause(true)

	joinCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	bp, err := bm.JoinParty(joinCtx, greeter.Descriptor(), func(ctx context.Context, attempt int) (string, error) {
		return secret, nil
	})
	require.True(t, IsAdmissionPending(err), "got %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, bp)
	assert.False(t, bp.Admitted())

	assert.True(t, ap.IsMember(bob.identity.IdentityKey()))

	got, err := bm.GetParty(ap.Key())
	require.NoError(t, err)
	assert.Equal(t, bp, got)

	stored, err := loadMetadata(bob.metadata)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, ap.Key(), stored[0].PartyKey)

	// the admission completes after a restart, once replication resumes
	require.NoError(t, bm.Close(ctx))
	bm2 := bob.manager()

	rp, err := bm2.GetParty(ap.Key())
	require.NoError(t, err)
	assert.Equal(t, Open, rp.State())

	network.pause(false)

	require.NoError(t, rp.WaitForAdmission(ctx, rp.Metadata().DataFeedKey))
	assert.True(t, rp.Admitted())
	assert.True(t, rp.IsMember(bob.identity.IdentityKey()))

	note, err := rp.Items().CreateItem(ctx, "note", model.ObjectKind, "", model.ObjectCommand{
		Set: map[string]interface{}{"title": "late"},
	})
	require.NoError(t, err)

	require.NoError(t, ap.Pipeline().WaitFor(ctx, func() bool {
		_, err := ap.Items().GetItem(note.ID)
		return err == nil
	}))
}

func TestReopen(t *testing.T) {
	alice := newInstance(t, "alice", swarm.NewInmemHub(), newTestNetwork(t))
	m := alice.manager()
	ctx := testContext(t)

	p1, err := m.CreateParty(ctx)
	require.NoError(t, err)
	p2, err := m.CreateParty(ctx)
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 7; i++ {
		item, err := p1.Items().CreateItem(ctx, "task", model.CounterKind, "", model.CounterCommand{Delta: int64(i)})
		require.NoError(t, err)
		ids = append(ids, item.ID)
	}

	_, err = m.CloseParty(p2.Key())
	require.NoError(t, err)
	assert.Equal(t, Closed, p2.State())

	require.NoError(t, m.Close(ctx))
	assert.Equal(t, Closed, p1.State())

	m2 := alice.manager()

	r1, err := m2.GetParty(p1.Key())
	require.NoError(t, err)
	assert.Equal(t, Open, r1.State())
	assert.Equal(t, len(ids), r1.Items().Len())
	for i, id := range ids {
		item, err := r1.Items().GetItem(id)
		require.NoError(t, err)
		assert.Equal(t, int64(i), item.Counter().Value)
	}

	// explicitly closed parties stay closed
	r2, err := m2.GetParty(p2.Key())
	require.NoError(t, err)
	assert.Equal(t, Closed, r2.State())

	_, err = m2.OpenParty(ctx, p2.Key())
	require.NoError(t, err)
	assert.Equal(t, Open, r2.State())
	assert.Len(t, r2.Members(), 1)

	open := m2.QueryParties(Filter{OpenOnly: true}).Value()
	assert.Len(t, open, 2)
}

func TestQueryParties(t *testing.T) {
	alice := newInstance(t, "alice", swarm.NewInmemHub(), newTestNetwork(t))
	m := alice.manager()
	ctx := testContext(t)

	sub := m.QueryParties(Filter{}).Subscribe()
	defer sub.Cancel()

	p, err := m.CreateParty(ctx)
	require.NoError(t, err)

	for {
		select {
		case parties := <-sub.C():
			if len(parties) == 1 {
				assert.Equal(t, p.Key(), parties[0].Key())
				return
			}
		case <-ctx.Done():
			t.Fatal("no update")
		}
	}
}

func TestClosedManager(t *testing.T) {
	alice := newInstance(t, "alice", swarm.NewInmemHub(), newTestNetwork(t))
	m := alice.manager()
	ctx := testContext(t)

	p, err := m.CreateParty(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx))
	require.NoError(t, m.Close(ctx))

	_, err = m.CreateParty(ctx)
	assert.True(t, cm.IsPrecondition(err))

	_, err = m.OpenParty(ctx, p.Key())
	assert.True(t, cm.IsPrecondition(err))

	assert.True(t, cm.IsPrecondition(m.Open(ctx)))

	_, err = p.CreateInvitation(ctx, invitation.Options{Type: invitation.Interactive})
	assert.True(t, cm.IsPrecondition(err))
}
