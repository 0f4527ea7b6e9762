package invitation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/crypto/keys"
	"github.com/mosaicnetworks/echo/src/net/swarm"
	"github.com/sirupsen/logrus"
)

// ClaimerState is the state of an invitation on the invitee's side.
type ClaimerState uint32

const (
	// ClaimerIssued ...
	ClaimerIssued ClaimerState = iota
	// ClaimerConnected means the inviter answered the introduction.
	ClaimerConnected
	// ClaimerAccepted means the invitee knows the party and is asking to be
	// admitted.
	ClaimerAccepted
	// ClaimerAdmitted means the inviter wrote the admission credentials.
	ClaimerAdmitted
	// ClaimerFailed ...
	ClaimerFailed
)

func (s ClaimerState) String() string {
	switch s {
	case ClaimerIssued:
		return "Issued"
	case ClaimerConnected:
		return "Connected"
	case ClaimerAccepted:
		return "Accepted"
	case ClaimerAdmitted:
		return "Admitted"
	case ClaimerFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// SecretProvider is asked for the shared secret of an interactive invitation.
// attempt starts at 1.
type SecretProvider func(ctx context.Context, attempt int) (string, error)

// Guest is the local identity claiming an invitation.
type Guest interface {
	IdentityKey() string
	DeviceKey() string

	// Signer signs the nonce of offline invitations with the identity key.
	Signer() keys.Signer

	// ProvisionFeeds creates the local control and data feeds of the party.
	ProvisionFeeds(partyKey string) (control, data string, err error)

	// Address is the replication address given to the inviter. It may be
	// empty.
	Address() string
}

// Result of a successful claim.
type Result struct {
	Offer          Offer
	ControlFeedKey string
	DataFeedKey    string
}

// Claimer runs the invitee's side of a handshake.
type Claimer struct {
	sync.Mutex

	network swarm.Network
	guest   Guest
	timeout time.Duration
	state   ClaimerState

	logger *logrus.Entry
}

// NewClaimer ...
func NewClaimer(network swarm.Network, guest Guest, timeout time.Duration, logger *logrus.Entry) *Claimer {
	return &Claimer{
		network: network,
		guest:   guest,
		timeout: timeout,
		logger:  logger,
	}
}

// State ...
func (c *Claimer) State() ClaimerState {
	c.Lock()
	defer c.Unlock()
	return c.state
}

func (c *Claimer) setState(s ClaimerState) {
	c.Lock()
	c.state = s
	c.Unlock()
	c.logger.WithField("state", s).Debug("Claimer state")
}

// Claim runs the handshake for descriptor. For interactive invitations, the
// secret is taken from secrets, at most MaxSecretAttempts times. Exceeding the
// claimer's timeout fails with ErrInvitationTimeout.
func (c *Claimer) Claim(ctx context.Context, descriptor *Descriptor, secrets SecretProvider) (*Result, error) {
	res, err := c.claim(ctx, descriptor, secrets)
	if err != nil {
		c.setState(ClaimerFailed)
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrInvitationTimeout
		}
		return nil, err
	}
	c.setState(ClaimerAdmitted)
	return res, nil
}

func (c *Claimer) claim(ctx context.Context, d *Descriptor, secrets SecretProvider) (*Result, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	logger := c.logger.WithField("swarm", d.SwarmKey)

	var intro introduceResponse
	err := c.call(ctx, d, methodIntroduce, introduceRequest{Invitation: d.Invitation}, &intro)
	if err != nil {
		return nil, err
	}
	c.setState(ClaimerConnected)

	if err := c.authenticate(ctx, d, intro.Session, secrets); err != nil {
		return nil, err
	}

	var offer Offer
	if err := c.call(ctx, d, methodAccept, acceptRequest{Session: intro.Session}, &offer); err != nil {
		return nil, err
	}
	if offer.PartyKey == "" || offer.GenesisFeedKey == "" {
		return nil, cm.NewIntegrityErr("invitation", "incomplete party offer")
	}
	c.setState(ClaimerAccepted)

	logger.WithField("party", cm.ShortKey(offer.PartyKey)).Debug("Invitation accepted")

	control, data, err := c.guest.ProvisionFeeds(offer.PartyKey)
	if err != nil {
		return nil, err
	}

	req := admitRequest{
		Session: intro.Session,
		Admission: Admission{
			IdentityKey:    c.guest.IdentityKey(),
			DeviceKey:      c.guest.DeviceKey(),
			ControlFeedKey: control,
			DataFeedKey:    data,
			Address:        c.guest.Address(),
		},
	}
	if err := c.call(ctx, d, methodAdmit, req, nil); err != nil {
		return nil, err
	}

	return &Result{
		Offer:          offer,
		ControlFeedKey: control,
		DataFeedKey:    data,
	}, nil
}

func (c *Claimer) authenticate(ctx context.Context, d *Descriptor, session string, secrets SecretProvider) error {
	if d.Type == Offline {
		sig, err := c.guest.Signer().Sign(c.guest.IdentityKey(), []byte(d.Invitation))
		if err != nil {
			return err
		}
		req := authenticateRequest{Session: session, Signature: sig}
		return c.call(ctx, d, methodAuthenticate, req, nil)
	}

	if secrets == nil {
		return cm.NewPreconditionErr("claim", "interactive invitation without secret provider")
	}

	var err error
	for attempt := 1; attempt <= MaxSecretAttempts; attempt++ {
		var secret string
		secret, err = secrets(ctx, attempt)
		if err != nil {
			return err
		}

		err = c.call(ctx, d, methodAuthenticate, authenticateRequest{Session: session, Secret: secret}, nil)
		if err == nil || !isRetryable(err) {
			return err
		}

		c.logger.WithField("attempt", attempt).Debug("Invalid secret")
	}
	return err
}

func (c *Claimer) call(ctx context.Context, d *Descriptor, method string, req, resp interface{}) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	data, err := c.network.Call(ctx, d.SwarmKey, method, payload)
	if err != nil {
		return err
	}

	return decodeResponse(data, resp)
}
