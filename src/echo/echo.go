package echo

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/config"
	"github.com/mosaicnetworks/echo/src/crypto/keys"
	"github.com/mosaicnetworks/echo/src/feed"
	"github.com/mosaicnetworks/echo/src/invitation"
	"github.com/mosaicnetworks/echo/src/keyring"
	"github.com/mosaicnetworks/echo/src/model"
	"github.com/mosaicnetworks/echo/src/net"
	"github.com/mosaicnetworks/echo/src/net/signal/wamp"
	"github.com/mosaicnetworks/echo/src/net/swarm"
	"github.com/mosaicnetworks/echo/src/node"
	"github.com/mosaicnetworks/echo/src/party"
	"github.com/mosaicnetworks/echo/src/peers"
	"github.com/mosaicnetworks/echo/src/service"
	"github.com/mosaicnetworks/echo/src/snapshot"
	"github.com/mosaicnetworks/echo/src/storage"
	"github.com/sirupsen/logrus"
)

// Echo is a database instance. Network and Transport may be set before Init,
// in which case they are used instead of the ones described by Config.
type Echo struct {
	Config *config.Config

	Keyring   *keyring.Keyring
	Identity  *keyring.IdentityManager
	Adapter   *feed.Adapter
	Snapshots *snapshot.Store
	Parties   *party.Manager
	Network   swarm.Network
	Transport net.Transport
	PeerStore *peers.JSONPeerSet
	Node      *node.Node
	Service   *service.Service

	keyStore  storage.Store
	metaStore storage.Store

	// set when Network was built by Init
	ownNetwork bool

	closed bool

	logger *logrus.Entry
}

// NewEcho ...
func NewEcho(conf *config.Config) *Echo {
	return &Echo{
		Config: conf,
		logger: conf.Logger(),
	}
}

func (e *Echo) openStore(name string) (storage.Store, error) {
	if !e.Config.Store {
		e.logger.WithField("store", name).Debug("created new in-mem store")
		return storage.NewInmemStore(name), nil
	}

	path := e.Config.StoreDir(name)

	e.logger.WithField("path", path).Debug("Attempting to load or create database")

	return storage.NewBadgerStore(name, path, e.logger.WithField("prefix", "storage"))
}

func (e *Echo) initKeys() error {
	store, err := e.openStore("keys")
	if err != nil {
		return err
	}
	e.keyStore = store

	e.Keyring = keyring.NewKeyring(store, e.logger.WithField("prefix", "keyring"))
	if err := e.Keyring.Load(); err != nil {
		return err
	}

	e.Identity = keyring.NewIdentityManager(e.Keyring, e.logger.WithField("prefix", "identity"))

	return nil
}

// initIdentity imports the identity from the key file when the keyring does
// not hold one yet. A persistent instance without a key file gets a new one.
func (e *Echo) initIdentity() error {
	if e.Identity.HasIdentity() {
		return nil
	}

	keyfile := keys.NewSimpleKeyfile(e.Config.Keyfile())

	if _, err := keyfile.ReadKey(); err != nil {
		if !e.Config.Store {
			e.logger.Debug("No identity yet")
			return nil
		}

		e.logger.WithError(err).Warn("Cannot read private key from file")

		priv, err := Keygen(e.Config.Keyfile())
		if err != nil {
			e.logger.WithError(err).Error("Cannot generate a new private key")
			return err
		}

		e.logger.WithField("public_key", keys.PublicKeyHex(&priv.PublicKey)).Info("Created a new key")
	}

	if err := e.Identity.ImportIdentity(keyfile); err != nil {
		return err
	}

	e.logger.WithField("identity", common.ShortKey(e.Identity.IdentityKey())).Debug("Imported identity")

	return nil
}

func (e *Echo) initFeeds() error {
	store, err := e.openStore("feeds")
	if err != nil {
		return err
	}

	e.Adapter = feed.NewAdapter(store, e.Keyring, e.logger.WithField("prefix", "feed"))

	return nil
}

func (e *Echo) initSnapshots() error {
	if !e.Config.Snapshots {
		return nil
	}

	store, err := e.openStore("snapshots")
	if err != nil {
		return err
	}

	e.Snapshots = snapshot.NewStore(store, e.logger.WithField("prefix", "snapshot"))

	return nil
}

func (e *Echo) signalConfig() wamp.ConnectConfig {
	return wamp.ConnectConfig{
		URL:                e.Config.SignalAddr,
		Realm:              e.Config.SignalRealm,
		CAFile:             e.Config.CertFile(),
		InsecureSkipVerify: e.Config.SignalSkipVerify,
		ResponseTimeout:    e.Config.TCPTimeout,
	}
}

func (e *Echo) initNetwork() error {
	if e.Network != nil {
		return nil
	}

	network, err := swarm.NewWampNetwork(
		context.Background(),
		e.signalConfig(),
		e.logger.WithField("prefix", "swarm"),
	)
	if err != nil {
		return fmt.Errorf("connecting to rendezvous server %s: %w", e.Config.SignalAddr, err)
	}

	e.Network = network
	e.ownNetwork = true

	return nil
}

func (e *Echo) initTransport() error {
	if e.Transport != nil {
		return nil
	}

	logger := e.logger.WithField("prefix", "net")

	if e.Config.WebRTC {
		// the device key is stable across restarts, so it doubles as the
		// signaling address
		id := e.Identity.DeviceKey()
		if id == "" {
			id = uuid.New().String()
		}

		signal, err := wamp.NewClient(e.signalConfig(), id, logger)
		if err != nil {
			return err
		}

		trans, err := net.NewWebRTCTransport(
			signal,
			e.Config.ICEServers(),
			e.Config.MaxPool,
			e.Config.TCPTimeout,
			e.Config.JoinTimeout,
			logger,
		)
		if err != nil {
			return err
		}

		e.Transport = trans

		return nil
	}

	trans, err := net.NewTCPTransport(
		e.Config.BindAddr,
		e.Config.AdvertiseAddr,
		e.Config.MaxPool,
		e.Config.TCPTimeout,
		e.Config.JoinTimeout,
		logger,
	)
	if err != nil {
		return err
	}

	e.Transport = trans

	return nil
}

func (e *Echo) initNode() error {
	var peerSet *peers.PeerSet

	if e.Config.Store {
		e.PeerStore = peers.NewJSONPeerSet(e.Config.DataDir)

		ps, err := e.PeerStore.PeerSet()
		if err != nil {
			return err
		}
		peerSet = ps

		e.logger.WithField("peers", peerSet.Len()).Debug("Loaded peers")
	}

	conf := node.NewConfig(
		e.Config.HeartbeatTimeout,
		e.Config.SlowHeartbeatTimeout,
		e.Config.JoinTimeout,
		e.Config.SyncLimit,
		e.Config.Moniker,
		e.logger.WithField("prefix", "node"),
	)

	e.Node = node.NewNode(conf, e.Adapter, e.Transport, peerSet, e.PeerStore)

	return nil
}

func (e *Echo) initParties() error {
	store, err := e.openStore("metadata")
	if err != nil {
		return err
	}
	e.metaStore = store

	e.Parties = party.NewManager(party.Config{
		Identity:          e.Identity,
		Adapter:           e.Adapter,
		Registry:          model.DefaultRegistry(),
		Metadata:          store,
		Snapshots:         e.Snapshots,
		SnapshotInterval:  e.Config.SnapshotInterval,
		Network:           e.Network,
		InvitationTimeout: e.Config.InvitationTimeout,
		Replicator:        e.Node,
		Logger:            e.logger.WithField("prefix", "party"),
	})

	return nil
}

func (e *Echo) initService() error {
	if !e.Config.NoService && e.Config.ServiceAddr != "" {
		e.Service = service.NewService(
			e.Config.ServiceAddr,
			e.Node,
			e.Parties,
			e.logger.WithField("prefix", "service"),
		)
	}
	return nil
}

// Init builds every component. Nothing runs until Open.
func (e *Echo) Init() error {
	if err := e.initKeys(); err != nil {
		return err
	}

	if err := e.initIdentity(); err != nil {
		return err
	}

	if err := e.initFeeds(); err != nil {
		return err
	}

	if err := e.initSnapshots(); err != nil {
		return err
	}

	if err := e.initNetwork(); err != nil {
		return err
	}

	if err := e.initTransport(); err != nil {
		return err
	}

	if err := e.initNode(); err != nil {
		return err
	}

	if err := e.initParties(); err != nil {
		return err
	}

	if err := e.initService(); err != nil {
		return err
	}

	return nil
}

// Open starts replication, reopens the known parties and starts the service.
func (e *Echo) Open(ctx context.Context) error {
	if err := e.Node.Init(); err != nil {
		return fmt.Errorf("failed to initialize node: %w", err)
	}

	e.Node.RunAsync(true)

	if err := e.Parties.Open(ctx); err != nil {
		return err
	}

	if e.Service != nil {
		go e.Service.Serve()
	}

	e.logger.WithFields(logrus.Fields{
		"address": e.Node.Address(),
		"parties": len(e.Parties.Parties()),
	}).Info("ECHO open")

	return nil
}

// CreateIdentity generates the local identity.
func (e *Echo) CreateIdentity() error {
	return e.Identity.CreateIdentity()
}

// ImportIdentity installs an existing identity key.
func (e *Echo) ImportIdentity(key *ecdsa.PrivateKey) error {
	return e.Identity.ImportIdentity(keys.NewInmemKeyfile(key))
}

// CreateParty ...
func (e *Echo) CreateParty(ctx context.Context) (*party.Party, error) {
	return e.Parties.CreateParty(ctx)
}

// JoinParty decodes an invitation token and joins the party it refers to.
// secrets may be nil for offline invitations. When the admission has not been
// replicated in time, the party is returned with a party.AdmissionPendingError.
func (e *Echo) JoinParty(ctx context.Context, token string, secrets invitation.SecretProvider) (*party.Party, error) {
	d, err := invitation.Decode(token)
	if err != nil {
		return nil, err
	}
	return e.Parties.JoinParty(ctx, d, secrets)
}

// GetParty ...
func (e *Echo) GetParty(partyKey string) (*party.Party, error) {
	return e.Parties.GetParty(partyKey)
}

// QueryParties ...
func (e *Echo) QueryParties(filter party.Filter) *common.ResultSet[*party.Party] {
	return e.Parties.QueryParties(filter)
}

// stop closes the parties and stops replication. The stores stay open.
func (e *Echo) stop(ctx context.Context) error {
	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if e.Service != nil {
		keep(e.Service.Shutdown(ctx))
	}

	keep(e.Parties.Close(ctx))

	// Shutdown closes the transport
	e.Node.Shutdown()

	if e.ownNetwork {
		keep(e.Network.Close())
	}

	return firstErr
}

func (e *Echo) closeStores() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if e.Snapshots != nil {
		keep(e.Snapshots.Close())
	}
	keep(e.metaStore.Close())
	keep(e.Adapter.Close())
	keep(e.keyStore.Close())

	return firstErr
}

// Close stops the instance and closes its stores. The instance cannot be
// reopened.
func (e *Echo) Close(ctx context.Context) error {
	if e.closed {
		return nil
	}

	err := e.stop(ctx)
	if cerr := e.closeStores(); err == nil {
		err = cerr
	}

	e.logger.Info("ECHO closed")

	return err
}

// Reset stops the instance and deletes feeds, keys, snapshots and party
// metadata, in that order. Failures are logged and skipped.
func (e *Echo) Reset(ctx context.Context) {
	if err := e.stop(ctx); err != nil {
		e.logger.WithError(err).Warn("Stopping before reset")
	}

	if err := e.Adapter.Clear(); err != nil {
		e.logger.WithError(err).Error("Clearing feeds")
	}

	if err := e.Keyring.Clear(); err != nil {
		e.logger.WithError(err).Error("Clearing keys")
	}
	e.Identity.Reset()

	if e.Snapshots != nil {
		if err := e.Snapshots.Clear(); err != nil {
			e.logger.WithError(err).Error("Clearing snapshots")
		}
	}

	if err := e.metaStore.Clear(); err != nil {
		e.logger.WithError(err).Error("Clearing party metadata")
	}

	if err := e.closeStores(); err != nil {
		e.logger.WithError(err).Error("Closing stores")
	}

	e.logger.Info("ECHO reset")
}

// Stats returns the replication statistics with the number of parties.
func (e *Echo) Stats() map[string]string {
	stats := e.Node.GetStats()
	stats["parties"] = fmt.Sprint(len(e.Parties.Parties()))
	return stats
}

// Keygen generates a new identity key and writes it to keyfile. It fails if a
// key already lives there.
func Keygen(keyfile string) (*ecdsa.PrivateKey, error) {
	simpleKeyfile := keys.NewSimpleKeyfile(keyfile)

	if _, err := simpleKeyfile.ReadKey(); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", keyfile)
	}

	priv, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := simpleKeyfile.WriteKey(priv); err != nil {
		return nil, err
	}

	return priv, nil
}
