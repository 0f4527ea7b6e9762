package credentials

import (
	"testing"

	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/keyring"
	"github.com/mosaicnetworks/echo/src/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	kr       *keyring.Keyring
	party    string
	genesis  string
	identity string
	device   string
	data     string
}

func newFixture(t *testing.T) *fixture {
	kr := keyring.NewKeyring(storage.NewInmemStore("keys"), cm.NewTestEntry(t, "keyring"))

	create := func(kt keyring.KeyType) string {
		rec, err := kr.CreateKey(kt)
		require.NoError(t, err)
		return rec.PublicKey
	}

	return &fixture{
		kr:       kr,
		party:    create(keyring.PartyKey),
		genesis:  create(keyring.FeedKey),
		identity: create(keyring.IdentityKey),
		device:   create(keyring.DeviceKey),
		data:     create(keyring.FeedKey),
	}
}

func (f *fixture) credential(t *testing.T, signer string, a Assertion) *Credential {
	c, err := CreateCredential(f.kr, signer, a)
	require.NoError(t, err)
	return c
}

func TestCredentialVerify(t *testing.T) {
	f := newFixture(t)

	c := f.credential(t, f.party, NewPartyGenesis(f.party, f.genesis))
	require.NoError(t, c.Verify())

	c.Assertion.FeedKey = f.data
	assert.True(t, cm.IsIntegrity(c.Verify()), "tampered assertion should not verify")

	_, err := CreateCredential(f.kr, f.party, Assertion{Kind: PartyMember, PartyKey: f.party})
	assert.True(t, cm.IsIntegrity(err), "member without identity should not validate")
}

func TestPartyStateAdmission(t *testing.T) {
	f := newFixture(t)
	s := NewPartyState(f.party)

	// nothing is accepted before genesis
	_, err := s.Process(f.credential(t, f.party, NewPartyMember(f.party, f.identity, Admin)), f.genesis)
	assert.True(t, cm.IsIntegrity(err))

	ch, err := s.Process(f.credential(t, f.party, NewPartyGenesis(f.party, f.genesis)), f.genesis)
	require.NoError(t, err)
	require.NotNil(t, ch.Feed)
	assert.Equal(t, f.genesis, s.GenesisFeed())

	ch, err = s.Process(f.credential(t, f.party, NewPartyMember(f.party, f.identity, Admin)), f.genesis)
	require.NoError(t, err)
	require.NotNil(t, ch.Member)
	assert.True(t, s.IsMember(f.identity))

	// a member admits its own data feed
	ch, err = s.Process(f.credential(t, f.identity, NewAdmittedFeed(f.party, f.data, f.device, f.identity, Data)), f.genesis)
	require.NoError(t, err)
	require.NotNil(t, ch.Feed)
	assert.True(t, s.IsFeedAdmitted(f.data))
	assert.True(t, s.CanWrite(f.data))
	assert.False(t, s.CanWrite(f.genesis), "control feeds carry no mutations")

	// repeats are no-ops
	ch, err = s.Process(f.credential(t, f.party, NewPartyMember(f.party, f.identity, Writer)), f.genesis)
	require.NoError(t, err)
	assert.Nil(t, ch.Member)
	m, _ := s.Member(f.identity)
	assert.Equal(t, Admin, m.Role)

	assert.Len(t, s.Members(), 1)
	assert.Len(t, s.Feeds(), 2)
}

func TestPartyStateRejections(t *testing.T) {
	f := newFixture(t)
	s := NewPartyState(f.party)

	// genesis must be signed by the party key
	_, err := s.Process(f.credential(t, f.identity, NewPartyGenesis(f.party, f.genesis)), f.genesis)
	assert.True(t, cm.IsIntegrity(err))

	// and written on its own feed
	_, err = s.Process(f.credential(t, f.party, NewPartyGenesis(f.party, f.genesis)), f.data)
	assert.True(t, cm.IsIntegrity(err))

	_, err = s.Process(f.credential(t, f.party, NewPartyGenesis(f.party, f.genesis)), f.genesis)
	require.NoError(t, err)

	// a non member cannot admit members
	outsider, _ := f.kr.CreateKey(keyring.IdentityKey)
	_, err = s.Process(f.credential(t, outsider.PublicKey, NewPartyMember(f.party, outsider.PublicKey, Admin)), f.genesis)
	assert.True(t, cm.IsIntegrity(err))
	assert.False(t, s.IsMember(outsider.PublicKey))

	// feeds of non members are rejected
	_, err = s.Process(f.credential(t, f.party, NewAdmittedFeed(f.party, f.data, f.device, f.identity, Data)), f.genesis)
	assert.True(t, cm.IsIntegrity(err))

	// a writer cannot admit other people's feeds
	_, err = s.Process(f.credential(t, f.party, NewPartyMember(f.party, f.identity, Writer)), f.genesis)
	require.NoError(t, err)
	_, err = s.Process(f.credential(t, f.party, NewPartyMember(f.party, outsider.PublicKey, Writer)), f.genesis)
	require.NoError(t, err)
	_, err = s.Process(f.credential(t, f.identity, NewAdmittedFeed(f.party, f.data, f.device, outsider.PublicKey, Data)), f.genesis)
	assert.True(t, cm.IsIntegrity(err))

	// credentials of another party are rejected
	other := NewPartyState(f.identity)
	_, err = other.Process(f.credential(t, f.party, NewPartyGenesis(f.party, f.genesis)), f.genesis)
	assert.True(t, cm.IsIntegrity(err))
}

func TestPartyStateSnapshot(t *testing.T) {
	f := newFixture(t)
	s := NewPartyState(f.party)

	s.Process(f.credential(t, f.party, NewPartyGenesis(f.party, f.genesis)), f.genesis)
	s.Process(f.credential(t, f.party, NewPartyMember(f.party, f.identity, Admin)), f.genesis)
	s.Process(f.credential(t, f.party, NewAdmittedFeed(f.party, f.data, f.device, f.identity, Data)), f.genesis)

	snap := s.Snapshot()

	raw, err := cm.MarshalCanonical(snap)
	require.NoError(t, err)

	var decoded StateSnapshot
	require.NoError(t, cm.UnmarshalCanonical(raw, &decoded))

	r := NewPartyState(f.party)
	require.NoError(t, r.Restore(decoded))

	assert.Equal(t, s.Members(), r.Members())
	assert.Equal(t, s.Feeds(), r.Feeds())
	assert.Equal(t, f.genesis, r.GenesisFeed())

	assert.Error(t, NewPartyState(f.data).Restore(decoded))
}
