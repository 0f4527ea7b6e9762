package echo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mosaicnetworks/echo/src/config"
	"github.com/mosaicnetworks/echo/src/crypto/keys"
	"github.com/mosaicnetworks/echo/src/invitation"
	"github.com/mosaicnetworks/echo/src/keyring"
	"github.com/mosaicnetworks/echo/src/model"
	"github.com/mosaicnetworks/echo/src/net"
	"github.com/mosaicnetworks/echo/src/net/swarm"
	"github.com/mosaicnetworks/echo/src/party"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 10 * time.Second

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

type testInstance struct {
	echo  *Echo
	trans *net.InmemTransport
}

// newTestEcho builds an in-memory instance with a fresh identity, attached to
// the shared rendezvous hub.
func newTestEcho(t *testing.T, moniker string, hub *swarm.InmemHub) *testInstance {
	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.Moniker = moniker

	_, trans := net.NewInmemTransport("")

	e := NewEcho(conf)
	e.Network = hub.Network()
	e.Transport = trans

	require.NoError(t, e.Init())
	require.NoError(t, e.CreateIdentity())
	require.NoError(t, e.Open(testContext(t)))

	t.Cleanup(func() { e.Close(context.Background()) })

	return &testInstance{echo: e, trans: trans}
}

func connect(is ...*testInstance) {
	for _, a := range is {
		for _, b := range is {
			if a != b {
				a.trans.Connect(b.trans.LocalAddr(), b.trans)
			}
		}
	}
}

func invite(t *testing.T, p *party.Party, secret string) (*invitation.Greeter, string) {
	greeter, err := p.CreateInvitation(testContext(t), invitation.Options{
		Type:   invitation.Interactive,
		Secret: secret,
	})
	require.NoError(t, err)

	token, err := greeter.Descriptor().Encode()
	require.NoError(t, err)

	return greeter, token
}

func secretProvider(secret string) invitation.SecretProvider {
	return func(ctx context.Context, attempt int) (string, error) {
		return secret, nil
	}
}

func TestTwoPeerNote(t *testing.T) {
	hub := swarm.NewInmemHub()
	alice := newTestEcho(t, "alice", hub)
	bob := newTestEcho(t, "bob", hub)
	connect(alice, bob)
	ctx := testContext(t)

	ap, err := alice.echo.CreateParty(ctx)
	require.NoError(t, err)

	greeter, token := invite(t, ap, "123456")

	bp, err := bob.echo.JoinParty(ctx, token, secretProvider("123456"))
	require.NoError(t, err)
	require.NoError(t, greeter.Wait(ctx))

	assert.Equal(t, ap.Key(), bp.Key())
	assert.True(t, ap.IsMember(bob.echo.Identity.IdentityKey()))

	note, err := bp.Items().CreateItem(ctx, "note", model.ObjectKind, "", model.ObjectCommand{
		Set: map[string]interface{}{"title": "hello"},
	})
	require.NoError(t, err)

	require.NoError(t, ap.Pipeline().WaitFor(ctx, func() bool {
		_, err := ap.Items().GetItem(note.ID)
		return err == nil
	}))

	item, err := ap.Items().GetItem(note.ID)
	require.NoError(t, err)
	assert.Equal(t, "note", item.Type)
	assert.Equal(t, "hello", item.Object().GetString("title"))

	notes := ap.Items().Items(model.Filter{Type: "note"}).Value()
	assert.Len(t, notes, 1)

	// the invitation handshake introduced bob's replicator to alice's
	assert.Contains(t, bob.echo.Node.PeerAddrs(), alice.echo.Node.Address())

	assert.Equal(t, "1", alice.echo.Stats()["parties"])
	assert.Len(t, bob.echo.QueryParties(party.Filter{OpenOnly: true}).Value(), 1)
}

func TestJoinWrongSecret(t *testing.T) {
	hub := swarm.NewInmemHub()
	alice := newTestEcho(t, "alice", hub)
	bob := newTestEcho(t, "bob", hub)
	connect(alice, bob)
	ctx := testContext(t)

	ap, err := alice.echo.CreateParty(ctx)
	require.NoError(t, err)

	_, token := invite(t, ap, "123456")

	_, err = bob.echo.JoinParty(ctx, token, secretProvider("000000"))
	assert.ErrorIs(t, err, invitation.ErrInvalidSecret)

	assert.Len(t, ap.Members(), 1)
	assert.Empty(t, bob.echo.QueryParties(party.Filter{}).Value())
}

func TestJoinInvalidToken(t *testing.T) {
	bob := newTestEcho(t, "bob", swarm.NewInmemHub())

	_, err := bob.echo.JoinParty(testContext(t), "not-a-token", secretProvider("123456"))
	assert.Error(t, err)
	assert.Empty(t, bob.echo.Parties.Parties())
}

func TestReset(t *testing.T) {
	alice := newTestEcho(t, "alice", swarm.NewInmemHub())
	ctx := testContext(t)

	p, err := alice.echo.CreateParty(ctx)
	require.NoError(t, err)
	_, err = p.Items().CreateItem(ctx, "note", model.ObjectKind, "", model.ObjectCommand{
		Set: map[string]interface{}{"title": "gone"},
	})
	require.NoError(t, err)

	alice.echo.Reset(ctx)

	assert.False(t, alice.echo.Identity.HasIdentity())
	assert.Empty(t, alice.echo.Keyring.FindKeys(keyring.PartyKey))
	assert.Equal(t, party.Closed, p.State())

	_, err = alice.echo.CreateParty(ctx)
	assert.Error(t, err)

	// closing after a reset is a no-op
	assert.NoError(t, alice.echo.Close(ctx))
}

func TestKeygen(t *testing.T) {
	keyfile := filepath.Join(t.TempDir(), "priv_key")

	priv, err := Keygen(keyfile)
	require.NoError(t, err)

	read, err := keys.NewSimpleKeyfile(keyfile).ReadKey()
	require.NoError(t, err)
	assert.Equal(t, keys.PrivateKeyHex(priv), keys.PrivateKeyHex(read))

	_, err = Keygen(keyfile)
	assert.Error(t, err)
}

func TestPersistentReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := testContext(t)
	hub := swarm.NewInmemHub()

	newPersistent := func() *Echo {
		conf := config.NewTestConfig(t, logrus.DebugLevel)
		conf.SetDataDir(dir)
		conf.Store = true

		_, trans := net.NewInmemTransport("")

		e := NewEcho(conf)
		e.Network = hub.Network()
		e.Transport = trans
		require.NoError(t, e.Init())
		return e
	}

	first := newPersistent()
	require.True(t, first.Identity.HasIdentity())
	identity := first.Identity.IdentityKey()

	require.NoError(t, first.Open(ctx))

	p, err := first.CreateParty(ctx)
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 7; i++ {
		item, err := p.Items().CreateItem(ctx, "note", model.ObjectKind, "", model.ObjectCommand{
			Set: map[string]interface{}{"n": float64(i)},
		})
		require.NoError(t, err)
		ids = append(ids, item.ID)
	}

	require.NoError(t, first.Close(ctx))

	// same identity from the key file, same parties from the stores
	second := newPersistent()
	t.Cleanup(func() { second.Close(context.Background()) })

	assert.Equal(t, identity, second.Identity.IdentityKey())

	require.NoError(t, second.Open(ctx))

	reopened, err := second.GetParty(p.Key())
	require.NoError(t, err)
	assert.Equal(t, party.Open, reopened.State())

	require.NoError(t, reopened.Pipeline().WaitFor(ctx, func() bool {
		return reopened.Items().Len() == len(ids)
	}))
	for _, id := range ids {
		_, err := reopened.Items().GetItem(id)
		assert.NoError(t, err)
	}
}
