package party

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/crypto/keys"
	"github.com/mosaicnetworks/echo/src/invitation"
	"github.com/mosaicnetworks/echo/src/keyring"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/sync/errgroup"
)

// ErrPartyNotFound ...
var ErrPartyNotFound = errors.New("party not found")

// AdmissionPendingError is returned by JoinParty when the invitation was
// claimed but the admission credentials did not reach the local peer in time.
// The party is known and stays open; its admission completes when the
// credentials are replicated, including after OpenParty or a restart.
type AdmissionPendingError struct {
	PartyKey string
	Err      error
}

// Error ...
func (e *AdmissionPendingError) Error() string {
	return fmt.Sprintf("party %s: admission pending: %v", cm.ShortKey(e.PartyKey), e.Err)
}

// Unwrap ...
func (e *AdmissionPendingError) Unwrap() error {
	return e.Err
}

// IsAdmissionPending reports whether err, or any error it wraps, is an
// AdmissionPendingError.
func IsAdmissionPending(err error) bool {
	var e *AdmissionPendingError
	return errors.As(err, &e)
}

// Filter selects parties in QueryParties.
type Filter struct {
	// OpenOnly excludes parties that are not Open.
	OpenOnly bool
}

// Match ...
func (f Filter) Match(p *Party) bool {
	return !f.OpenOnly || p.State() == Open
}

// Manager keeps track of the parties of the local instance.
type Manager struct {
	factory *Factory
	conf    Config

	// serializes Open, Close and the party operations
	opMu sync.Mutex

	mu      sync.RWMutex
	parties map[string]*Party
	opened  bool
	closed  bool

	trigger *cm.Trigger

	logger *logrus.Entry
}

// NewManager ...
func NewManager(conf Config) *Manager {
	return &Manager{
		factory: NewFactory(conf),
		conf:    conf,
		parties: make(map[string]*Party),
		trigger: cm.NewTrigger(),
		logger:  conf.Logger,
	}
}

// Factory ...
func (m *Manager) Factory() *Factory {
	return m.factory
}

func (m *Manager) checkOpen(op string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return cm.NewPreconditionErr(op, "party manager closed")
	}
	if !m.opened {
		return cm.NewPreconditionErr(op, "party manager not open")
	}
	return nil
}

// Open loads the metadata of known parties and reopens those that were not
// closed explicitly. Opening an open manager is a no-op.
func (m *Manager) Open(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	closed, opened := m.closed, m.opened
	m.mu.RUnlock()

	if closed {
		return cm.NewPreconditionErr("Open", "party manager closed")
	}
	if opened {
		return nil
	}

	metas, err := loadMetadata(m.conf.Metadata)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, meta := range metas {
		p := m.add(meta)
		if meta.Closed {
			continue
		}
		g.Go(func() error {
			return p.Open(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		m.closeAll()
		m.mu.Lock()
		m.parties = make(map[string]*Party)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.opened = true
	m.mu.Unlock()

	m.logger.WithField("parties", len(m.parties)).Debug("Party manager open")

	return nil
}

func (m *Manager) add(meta Metadata) *Party {
	p := m.factory.ConstructParty(meta, nil)
	m.register(p)
	return p
}

func (m *Manager) register(p *Party) {
	p.onChange = m.trigger.Fire

	m.mu.Lock()
	m.parties[p.Key()] = p
	m.mu.Unlock()

	m.trigger.Fire()
}

// Close closes every party. The manager cannot be used afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.closeAll()
}

func (m *Manager) closeAll() error {
	var g errgroup.Group
	for _, p := range m.Parties() {
		g.Go(p.Close)
	}
	return g.Wait()
}

// CreateParty creates a party and persists its metadata.
func (m *Manager) CreateParty(ctx context.Context) (*Party, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.checkOpen("CreateParty"); err != nil {
		return nil, err
	}

	p, err := m.factory.CreateParty(ctx)
	if err != nil {
		return nil, err
	}

	if err := saveMetadata(m.conf.Metadata, p.meta); err != nil {
		p.Close()
		return nil, err
	}

	m.register(p)

	return p, nil
}

// JoinParty claims an invitation, then opens the party and waits until the
// local data feed is admitted. secrets may be nil for offline invitations.
//
// Once the invitation is claimed the inviter has admitted the local identity,
// so the party is recorded before waiting. If the wait fails, an
// AdmissionPendingError is returned along with the party.
func (m *Manager) JoinParty(ctx context.Context, d *invitation.Descriptor, secrets invitation.SecretProvider) (*Party, error) {
	if err := m.checkOpen("JoinParty"); err != nil {
		return nil, err
	}

	if !m.factory.identity.HasIdentity() {
		return nil, cm.NewPreconditionErr("JoinParty", "no identity")
	}

	claimer := invitation.NewClaimer(
		m.conf.Network,
		&guest{factory: m.factory},
		m.conf.InvitationTimeout,
		m.logger.WithField("component", "claimer"),
	)

	res, err := claimer.Claim(ctx, d, secrets)
	if err != nil {
		return nil, err
	}

	meta := Metadata{
		PartyKey:       res.Offer.PartyKey,
		GenesisFeedKey: res.Offer.GenesisFeedKey,
		ControlFeedKey: res.ControlFeedKey,
		DataFeedKey:    res.DataFeedKey,
		Created:        time.Now().UTC(),
	}

	p, err := m.addJoined(ctx, meta, res.Offer.PeerAddress)
	if err != nil {
		return p, err
	}

	if err := p.WaitForAdmission(ctx, meta.DataFeedKey); err != nil {
		p.logger.WithError(err).Warn("Admission pending")
		return p, &AdmissionPendingError{PartyKey: meta.PartyKey, Err: err}
	}

	p.logger.Info("Joined party")

	return p, nil
}

// addJoined persists, registers and opens a claimed party. The party is
// returned with an AdmissionPendingError when it is known but did not open.
func (m *Manager) addJoined(ctx context.Context, meta Metadata, peer string) (*Party, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.checkOpen("JoinParty"); err != nil {
		return nil, err
	}

	if _, err := m.GetParty(meta.PartyKey); err == nil {
		return nil, cm.NewPreconditionErr("JoinParty", "party already known")
	}

	if err := saveMetadata(m.conf.Metadata, meta); err != nil {
		return nil, err
	}

	p := m.add(meta)

	m.factory.addPeer(peer)

	// the admission credentials reach the local pipeline through
	// replication
	if err := p.Open(ctx); err != nil {
		return p, &AdmissionPendingError{PartyKey: meta.PartyKey, Err: err}
	}

	return p, nil
}

// OpenParty opens a known party and clears its closed flag.
func (m *Manager) OpenParty(ctx context.Context, partyKey string) (*Party, error) {
	return m.setClosed(partyKey, false, func(p *Party) error {
		return p.Open(ctx)
	})
}

// CloseParty closes a party. It stays closed after a restart.
func (m *Manager) CloseParty(partyKey string) (*Party, error) {
	return m.setClosed(partyKey, true, func(p *Party) error {
		return p.Close()
	})
}

func (m *Manager) setClosed(partyKey string, closed bool, op func(*Party) error) (*Party, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.checkOpen("party"); err != nil {
		return nil, err
	}

	p, err := m.GetParty(partyKey)
	if err != nil {
		return nil, err
	}

	if err := op(p); err != nil {
		return nil, err
	}

	p.mu.Lock()
	changed := p.meta.Closed != closed
	p.meta.Closed = closed
	meta := p.meta
	p.mu.Unlock()

	if changed {
		if err := saveMetadata(m.conf.Metadata, meta); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// GetParty ...
func (m *Manager) GetParty(partyKey string) (*Party, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.parties[partyKey]; ok {
		return p, nil
	}
	return nil, ErrPartyNotFound
}

// Parties returns the known parties ordered by key.
func (m *Manager) Parties() []*Party {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ks := maps.Keys(m.parties)
	sort.Strings(ks)

	res := make([]*Party, 0, len(ks))
	for _, k := range ks {
		res = append(res, m.parties[k])
	}
	return res
}

// QueryParties returns a live set of the parties matching filter. It is
// updated when a party is added, opened or closed.
func (m *Manager) QueryParties(filter Filter) *cm.ResultSet[*Party] {
	return cm.NewResultSet(m.trigger, func() []*Party {
		var res []*Party
		for _, p := range m.Parties() {
			if filter.Match(p) {
				res = append(res, p)
			}
		}
		return res
	})
}

// guest provisions the local side of an invitation.
type guest struct {
	factory *Factory
}

func (g *guest) IdentityKey() string {
	return g.factory.identity.IdentityKey()
}

func (g *guest) DeviceKey() string {
	return g.factory.identity.DeviceKey()
}

func (g *guest) Signer() keys.Signer {
	return g.factory.keyring
}

func (g *guest) Address() string {
	return g.factory.address()
}

func (g *guest) ProvisionFeeds(partyKey string) (string, string, error) {
	control, err := g.factory.keyring.CreateKey(keyring.FeedKey)
	if err != nil {
		return "", "", err
	}
	data, err := g.factory.keyring.CreateKey(keyring.FeedKey)
	if err != nil {
		return "", "", err
	}

	g.factory.logger.WithFields(logrus.Fields{
		"party":   cm.ShortKey(partyKey),
		"control": cm.ShortKey(control.PublicKey),
		"data":    cm.ShortKey(data.PublicKey),
	}).Debug("Provisioned feeds")

	return control.PublicKey, data.PublicKey, nil
}
