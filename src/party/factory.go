package party

import (
	"context"
	"errors"
	"time"

	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/credentials"
	"github.com/mosaicnetworks/echo/src/feed"
	"github.com/mosaicnetworks/echo/src/keyring"
	"github.com/mosaicnetworks/echo/src/model"
	"github.com/mosaicnetworks/echo/src/net/swarm"
	"github.com/mosaicnetworks/echo/src/pipeline"
	"github.com/mosaicnetworks/echo/src/snapshot"
	"github.com/mosaicnetworks/echo/src/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var openParties = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "echo_open_parties",
	Help: "Number of parties with a running pipeline",
})

// Replicator exchanges the feeds of tracked parties with known peers.
type Replicator interface {
	// Address is the address other peers can reach the local replicator at.
	Address() string
	AddPeer(address string)
	Track(partyKey string)
	Untrack(partyKey string)
}

// Config of a Factory and its Manager.
type Config struct {
	Identity *keyring.IdentityManager
	Adapter  *feed.Adapter
	Registry *model.Registry

	// Metadata persists the record of every party.
	Metadata storage.Store

	// Snapshots is optional.
	Snapshots        *snapshot.Store
	SnapshotInterval int

	// Network is the rendezvous network of invitations.
	Network           swarm.Network
	InvitationTimeout time.Duration

	// Replicator is optional.
	Replicator Replicator

	Logger *logrus.Entry
}

// Factory builds parties.
type Factory struct {
	conf     Config
	identity *keyring.IdentityManager
	keyring  *keyring.Keyring
	logger   *logrus.Entry
}

// NewFactory ...
func NewFactory(conf Config) *Factory {
	return &Factory{
		conf:     conf,
		identity: conf.Identity,
		keyring:  conf.Identity.Keyring(),
		logger:   conf.Logger,
	}
}

// CreateParty generates the keys of a new party, opens it, and writes the
// genesis credential, the admission of the local identity as admin, and the
// admission of the local data feed. The party key only signs these
// credentials.
func (f *Factory) CreateParty(ctx context.Context) (*Party, error) {
	identity := f.identity.IdentityKey()
	if identity == "" {
		return nil, cm.NewPreconditionErr("CreateParty", "no identity")
	}

	partyKey, err := f.keyring.CreateKey(keyring.PartyKey)
	if err != nil {
		return nil, err
	}
	control, err := f.keyring.CreateKey(keyring.FeedKey)
	if err != nil {
		return nil, err
	}
	data, err := f.keyring.CreateKey(keyring.FeedKey)
	if err != nil {
		return nil, err
	}

	meta := Metadata{
		PartyKey:       partyKey.PublicKey,
		GenesisFeedKey: control.PublicKey,
		ControlFeedKey: control.PublicKey,
		DataFeedKey:    data.PublicKey,
		Created:        time.Now().UTC(),
	}

	p := f.ConstructParty(meta, nil)
	if err := p.Open(ctx); err != nil {
		return nil, err
	}

	pl := p.Pipeline()
	party := meta.PartyKey

	genesis := []credentials.Assertion{
		credentials.NewPartyGenesis(party, meta.GenesisFeedKey),
		credentials.NewPartyMember(party, identity, credentials.Admin),
		credentials.NewAdmittedFeed(party, meta.DataFeedKey, f.identity.DeviceKey(), identity, credentials.Data),
	}

	for _, a := range genesis {
		if err := f.writeCredential(ctx, pl, party, a); err != nil {
			p.Close()
			return nil, err
		}
	}

	p.logger.Info("Created party")

	return p, nil
}

// ConstructParty returns a closed Party for existing metadata. If snap is not
// nil, the first Open starts from it rather than from the stored snapshot.
func (f *Factory) ConstructParty(meta Metadata, snap *snapshot.Snapshot) *Party {
	return &Party{
		factory: f,
		meta:    meta,
		initial: snap,
		logger:  f.logger.WithField("party", cm.ShortKey(meta.PartyKey)),
	}
}

func (f *Factory) newPipeline(meta Metadata, snap *snapshot.Snapshot) (*pipeline.Pipeline, error) {
	if snap == nil && f.conf.Snapshots != nil {
		var err error
		snap, err = f.conf.Snapshots.Load(meta.PartyKey)
		if errors.Is(err, snapshot.ErrNotFound) {
			snap = nil
		} else if err != nil {
			return nil, err
		}
	}

	pl, err := pipeline.New(pipeline.Config{
		PartyKey:         meta.PartyKey,
		GenesisFeedKey:   meta.GenesisFeedKey,
		Adapter:          f.conf.Adapter,
		Registry:         f.conf.Registry,
		Snapshots:        f.conf.Snapshots,
		SnapshotInterval: f.conf.SnapshotInterval,
		Snapshot:         snap,
		Logger:           f.logger.WithField("party", cm.ShortKey(meta.PartyKey)),
	})
	if err != nil {
		return nil, err
	}

	control, err := f.conf.Adapter.OpenFeed(meta.PartyKey, meta.ControlFeedKey)
	if err != nil {
		return nil, err
	}
	data, err := f.conf.Adapter.OpenFeed(meta.PartyKey, meta.DataFeedKey)
	if err != nil {
		return nil, err
	}
	pl.SetWriteFeeds(control, data)

	return pl, nil
}

// writeCredential signs a with signerKey, appends it to the local control
// feed and waits for it to be dispatched.
func (f *Factory) writeCredential(ctx context.Context, pl *pipeline.Pipeline, signerKey string, a credentials.Assertion) error {
	c, err := credentials.CreateCredential(f.keyring, signerKey, a)
	if err != nil {
		return err
	}

	id, err := pl.WriteCredential(ctx, c)
	if err != nil {
		return err
	}

	return pl.WaitForMessage(ctx, id.FeedKey, id.Seq)
}

func (f *Factory) address() string {
	if f.conf.Replicator == nil {
		return ""
	}
	return f.conf.Replicator.Address()
}

func (f *Factory) addPeer(address string) {
	if f.conf.Replicator != nil && address != "" && address != f.address() {
		f.conf.Replicator.AddPeer(address)
	}
}

func (f *Factory) track(partyKey string) {
	if f.conf.Replicator != nil {
		f.conf.Replicator.Track(partyKey)
	}
}

func (f *Factory) untrack(partyKey string) {
	if f.conf.Replicator != nil {
		f.conf.Replicator.Untrack(partyKey)
	}
}
