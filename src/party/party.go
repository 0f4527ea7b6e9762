package party

import (
	"context"
	"errors"
	"sync"

	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/credentials"
	"github.com/mosaicnetworks/echo/src/invitation"
	"github.com/mosaicnetworks/echo/src/model"
	"github.com/mosaicnetworks/echo/src/pipeline"
	"github.com/mosaicnetworks/echo/src/snapshot"
	"github.com/sirupsen/logrus"
)

// State of a Party.
type State uint32

const (
	// Closed ...
	Closed State = iota
	// Opening ...
	Opening
	// Open ...
	Open
	// Closing ...
	Closing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Opening:
		return "Opening"
	case Open:
		return "Open"
	case Closing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// Party is one party known to the local instance.
type Party struct {
	factory *Factory
	meta    Metadata

	// snapshot to start from on the first Open, instead of the stored one
	initial *snapshot.Snapshot

	// serializes Open and Close
	opMu sync.Mutex

	mu       sync.RWMutex
	state    State
	pipeline *pipeline.Pipeline

	onChange func()

	logger *logrus.Entry
}

// Key ...
func (p *Party) Key() string {
	return p.meta.PartyKey
}

// Metadata ...
func (p *Party) Metadata() Metadata {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.meta
}

// State ...
func (p *Party) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Party) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()

	p.logger.WithField("state", s).Debug("Party state")

	if p.onChange != nil {
		p.onChange()
	}
}

// Pipeline returns the pipeline of the open party, or nil.
func (p *Party) Pipeline() *pipeline.Pipeline {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state != Open {
		return nil
	}
	return p.pipeline
}

func (p *Party) openPipeline() (*pipeline.Pipeline, error) {
	if pl := p.Pipeline(); pl != nil {
		return pl, nil
	}
	return nil, cm.NewPreconditionErr("party", "party is not open")
}

// Items returns the item manager of the party. It is nil until the party has
// been opened once.
func (p *Party) Items() *model.ItemManager {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.pipeline == nil {
		return nil
	}
	return p.pipeline.Items()
}

func (p *Party) partyState() *credentials.PartyState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.pipeline == nil {
		return nil
	}
	return p.pipeline.State()
}

// Members ...
func (p *Party) Members() []credentials.Member {
	if s := p.partyState(); s != nil {
		return s.Members()
	}
	return nil
}

// Feeds ...
func (p *Party) Feeds() []credentials.FeedInfo {
	if s := p.partyState(); s != nil {
		return s.Feeds()
	}
	return nil
}

// IsMember ...
func (p *Party) IsMember(identityKey string) bool {
	if s := p.partyState(); s != nil {
		return s.IsMember(identityKey)
	}
	return false
}

// Admitted reports whether the local data feed is admitted, ie. whether local
// writes are dispatched.
func (p *Party) Admitted() bool {
	if s := p.partyState(); s != nil {
		return s.IsFeedAdmitted(p.meta.DataFeedKey)
	}
	return false
}

// Open starts the party's pipeline, from the latest snapshot if there is one.
// Opening an open party is a no-op.
func (p *Party) Open(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	if p.State() == Open {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.setState(Opening)

	pl, err := p.factory.newPipeline(p.meta, p.takeInitial())
	if err == nil {
		// the pipeline outlives the caller's context
		err = pl.Start(context.Background())
	}
	if err != nil {
		p.setState(Closed)
		return err
	}

	p.mu.Lock()
	p.pipeline = pl
	p.mu.Unlock()

	p.factory.track(p.meta.PartyKey)
	openParties.Inc()

	p.setState(Open)

	return nil
}

func (p *Party) takeInitial() *snapshot.Snapshot {
	snap := p.initial
	p.initial = nil
	return snap
}

// Close stops the pipeline. A final snapshot is saved if snapshots are
// enabled.
func (p *Party) Close() error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	if p.State() != Open {
		return nil
	}

	p.setState(Closing)

	p.factory.untrack(p.meta.PartyKey)

	p.mu.RLock()
	pl := p.pipeline
	p.mu.RUnlock()
	pl.Stop()

	openParties.Dec()
	p.setState(Closed)

	return nil
}

// CreateInvitation issues an invitation into the party and starts serving it.
// The invitation ends when ctx is done, when it times out, or once an invitee
// has been admitted. Only admins can invite.
func (p *Party) CreateInvitation(ctx context.Context, opts invitation.Options) (*invitation.Greeter, error) {
	pl, err := p.openPipeline()
	if err != nil {
		return nil, err
	}

	self, ok := pl.State().Member(p.factory.identity.IdentityKey())
	if !ok || self.Role != credentials.Admin {
		return nil, cm.NewPreconditionErr("invite", "only admins can invite")
	}

	if opts.Timeout == 0 {
		opts.Timeout = p.factory.conf.InvitationTimeout
	}

	g, err := invitation.NewGreeter(
		p.factory.conf.Network,
		p,
		opts,
		p.logger.WithField("component", "greeter"),
	)
	if err != nil {
		return nil, err
	}

	if err := g.Start(ctx); err != nil {
		return nil, err
	}

	return g, nil
}

// Offer implements invitation.Host.
func (p *Party) Offer() invitation.Offer {
	return invitation.Offer{
		PartyKey:       p.meta.PartyKey,
		GenesisFeedKey: p.meta.GenesisFeedKey,
		PeerAddress:    p.factory.address(),
	}
}

// Admit implements invitation.Host. It writes the member and feed
// credentials of the invitee, each awaited in turn.
func (p *Party) Admit(ctx context.Context, a invitation.Admission) error {
	pl, err := p.openPipeline()
	if err != nil {
		return err
	}

	signer := p.factory.identity.IdentityKey()
	party := p.meta.PartyKey

	assertions := []credentials.Assertion{
		credentials.NewPartyMember(party, a.IdentityKey, credentials.Writer),
		credentials.NewAdmittedFeed(party, a.ControlFeedKey, a.DeviceKey, a.IdentityKey, credentials.Control),
		credentials.NewAdmittedFeed(party, a.DataFeedKey, a.DeviceKey, a.IdentityKey, credentials.Data),
	}

	for _, as := range assertions {
		if err := p.factory.writeCredential(ctx, pl, signer, as); err != nil {
			return err
		}
	}

	p.logger.WithField("identity", cm.ShortKey(a.IdentityKey)).Info("Admitted member")

	if a.Address != "" {
		p.factory.addPeer(a.Address)
	}

	return nil
}

// WaitForAdmission blocks until the feed is admitted into the party.
func (p *Party) WaitForAdmission(ctx context.Context, feedKey string) error {
	pl, err := p.openPipeline()
	if err != nil {
		return err
	}

	err = pl.WaitFor(ctx, func() bool {
		return pl.State().IsFeedAdmitted(feedKey)
	})
	if errors.Is(err, pipeline.ErrStopped) {
		return cm.NewPreconditionErr("party", "party closed while waiting for admission")
	}
	return err
}
