package invitation

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/crypto"
	"github.com/mosaicnetworks/echo/src/crypto/keys"
	"github.com/mosaicnetworks/echo/src/net/swarm"
	"github.com/sirupsen/logrus"
)

// GreeterState is the state of an invitation on the inviter's side.
type GreeterState uint32

const (
	// GreeterIssued ...
	GreeterIssued GreeterState = iota
	// GreeterConnected means an invitee has introduced itself.
	GreeterConnected
	// GreeterAuthenticated means an invitee has passed authentication.
	GreeterAuthenticated
	// GreeterAdmitted means the admission credentials have been written.
	GreeterAdmitted
	// GreeterCancelled ...
	GreeterCancelled
	// GreeterTimeout ...
	GreeterTimeout
	// GreeterFailed means writing the admission credentials failed.
	GreeterFailed
)

func (s GreeterState) String() string {
	switch s {
	case GreeterIssued:
		return "Issued"
	case GreeterConnected:
		return "Connected"
	case GreeterAuthenticated:
		return "Authenticated"
	case GreeterAdmitted:
		return "Admitted"
	case GreeterCancelled:
		return "Cancelled"
	case GreeterTimeout:
		return "Timeout"
	case GreeterFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Host is the party an invitation admits into.
type Host interface {
	// Offer returns the party details handed to an authenticated invitee.
	Offer() Offer

	// IsMember reports whether identityKey already belongs to the party.
	IsMember(identityKey string) bool

	// Admit writes the credentials admitting the invitee, in order, waiting
	// for each to be dispatched.
	Admit(ctx context.Context, admission Admission) error
}

// Options of a new invitation.
type Options struct {
	Type Type

	// IdentityKey binds an Offline invitation.
	IdentityKey string

	// Secret of an Interactive invitation. A random code is generated when
	// empty.
	Secret string

	// Timeout of the whole handshake.
	Timeout time.Duration
}

type session struct {
	id            string
	attempts      int
	authenticated bool
}

// Greeter serves one invitation.
type Greeter struct {
	sync.Mutex

	network    swarm.Network
	host       Host
	descriptor *Descriptor
	timeout    time.Duration

	state     GreeterState
	sessions  map[string]*session
	admitting bool
	err       error
	done      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	logger *logrus.Entry
}

// NewGreeter creates the descriptor of a new invitation. The invitation is not
// served until Start.
func NewGreeter(network swarm.Network, host Host, opts Options, logger *logrus.Entry) (*Greeter, error) {
	secret := opts.Secret
	if opts.Type == Interactive && secret == "" {
		var err error
		if secret, err = generateSecret(); err != nil {
			return nil, err
		}
	}

	descriptor, err := NewDescriptor(opts.Type, opts.IdentityKey, secret)
	if err != nil {
		return nil, err
	}

	return &Greeter{
		network:    network,
		host:       host,
		descriptor: descriptor,
		timeout:    opts.Timeout,
		sessions:   make(map[string]*session),
		done:       make(chan struct{}),
		logger:     logger.WithField("swarm", descriptor.SwarmKey),
	}, nil
}

// generateSecret returns a 6 digit code.
func generateSecret() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Descriptor returns the invitation's descriptor, including its secret.
func (g *Greeter) Descriptor() *Descriptor {
	return g.descriptor
}

// State ...
func (g *Greeter) State() GreeterState {
	g.Lock()
	defer g.Unlock()
	return g.state
}

// Start joins the swarm and serves the handshake until the invitation is used,
// cancelled, or times out.
func (g *Greeter) Start(ctx context.Context) error {
	g.Lock()
	if g.timeout > 0 {
		g.ctx, g.cancel = context.WithTimeout(ctx, g.timeout)
	} else {
		g.ctx, g.cancel = context.WithCancel(ctx)
	}
	g.Unlock()

	if err := g.network.Join(g.descriptor.SwarmKey, g.handle); err != nil {
		g.cancel()
		return err
	}

	go func() {
		<-g.ctx.Done()
		if errors.Is(g.ctx.Err(), context.DeadlineExceeded) {
			g.finish(GreeterTimeout, ErrInvitationTimeout)
		} else {
			g.finish(GreeterCancelled, ErrCancelled)
		}
	}()

	g.logger.WithField("type", g.descriptor.Type).Debug("Invitation issued")

	return nil
}

// Wait blocks until the invitee is admitted, or the invitation ends
// otherwise.
func (g *Greeter) Wait(ctx context.Context) error {
	select {
	case <-g.done:
		g.Lock()
		defer g.Unlock()
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel ends the invitation. It fails once credentials are being written.
func (g *Greeter) Cancel() error {
	g.Lock()
	admitting := g.admitting
	g.Unlock()

	if admitting {
		return ErrAdmissionStarted
	}

	g.finish(GreeterCancelled, ErrCancelled)
	return nil
}

// finish moves to a terminal state and leaves the swarm.
func (g *Greeter) finish(state GreeterState, err error) {
	if g.complete(state, err) {
		g.leave()
	}
}

// complete moves to a terminal state, unless one was reached already or an
// admission is in progress. It reports whether the state changed.
func (g *Greeter) complete(state GreeterState, err error) bool {
	g.Lock()
	defer g.Unlock()

	select {
	case <-g.done:
		return false
	default:
	}
	if g.admitting && state != GreeterAdmitted && state != GreeterFailed {
		return false
	}

	g.state = state
	g.err = err
	close(g.done)
	if g.cancel != nil {
		g.cancel()
	}

	g.logger.WithField("state", state).Debug("Invitation finished")

	return true
}

func (g *Greeter) leave() {
	if err := g.network.Leave(g.descriptor.SwarmKey); err != nil {
		g.logger.WithError(err).Warn("Leaving swarm")
	}
}

func (g *Greeter) handle(ctx context.Context, method string, payload []byte) ([]byte, error) {
	var (
		resp interface{}
		err  error
	)

	switch method {
	case methodIntroduce:
		var req introduceRequest
		if err = json.Unmarshal(payload, &req); err == nil {
			resp, err = g.introduce(req)
		}
	case methodAuthenticate:
		var req authenticateRequest
		if err = json.Unmarshal(payload, &req); err == nil {
			resp, err = g.authenticate(req)
		}
	case methodAccept:
		var req acceptRequest
		if err = json.Unmarshal(payload, &req); err == nil {
			resp, err = g.accept(req)
		}
	case methodAdmit:
		var req admitRequest
		if err = json.Unmarshal(payload, &req); err == nil {
			resp, err = g.admit(req)
		}
	default:
		err = fmt.Errorf("unknown method %q", method)
	}

	if err != nil {
		g.logger.WithError(err).WithField("method", method).Debug("Handshake error")
	}

	return encodeResponse(resp, err)
}

// ended must be called with the lock held.
func (g *Greeter) ended() error {
	select {
	case <-g.done:
		if g.state == GreeterAdmitted {
			return ErrAlreadyAdmitted
		}
		return g.err
	default:
	}
	if g.admitting {
		return ErrAlreadyAdmitted
	}
	return nil
}

func (g *Greeter) introduce(req introduceRequest) (*introduceResponse, error) {
	g.Lock()
	defer g.Unlock()

	if err := g.ended(); err != nil {
		// multiple connections on a used invitation
		return nil, err
	}

	if req.Invitation != g.descriptor.Invitation {
		return nil, InvalidInvitationError{Reason: "nonce mismatch"}
	}

	s := &session{id: uuid.NewString()}
	g.sessions[s.id] = s

	if g.state < GreeterConnected {
		g.state = GreeterConnected
	}

	g.logger.WithField("session", s.id).Debug("Invitee introduced")

	return &introduceResponse{Session: s.id, Type: g.descriptor.Type}, nil
}

func (g *Greeter) session(id string) (*session, error) {
	if err := g.ended(); err != nil {
		return nil, err
	}
	s, ok := g.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}

func (g *Greeter) authenticate(req authenticateRequest) (*authenticateResponse, error) {
	g.Lock()
	defer g.Unlock()

	s, err := g.session(req.Session)
	if err != nil {
		return nil, err
	}

	if s.authenticated {
		return &authenticateResponse{Remaining: MaxSecretAttempts - s.attempts}, nil
	}

	if s.attempts >= MaxSecretAttempts {
		return nil, ErrTooManyAttempts
	}
	s.attempts++

	var ok bool
	switch g.descriptor.Type {
	case Interactive:
		ok = crypto.EqualMAC([]byte(req.Secret), []byte(g.descriptor.Secret))
	case Offline:
		ok = keys.VerifyPayload(g.descriptor.IdentityKey, []byte(g.descriptor.Invitation), req.Signature)
	}

	if !ok {
		g.logger.WithFields(logrus.Fields{
			"session":  s.id,
			"attempts": s.attempts,
		}).Debug("Authentication failed")
		return nil, ErrInvalidSecret
	}

	s.authenticated = true
	if g.state < GreeterAuthenticated {
		g.state = GreeterAuthenticated
	}

	return &authenticateResponse{Remaining: MaxSecretAttempts - s.attempts}, nil
}

func (g *Greeter) accept(req acceptRequest) (*Offer, error) {
	g.Lock()
	defer g.Unlock()

	s, err := g.session(req.Session)
	if err != nil {
		return nil, err
	}
	if !s.authenticated {
		return nil, ErrNotAuthenticated
	}

	offer := g.host.Offer()
	return &offer, nil
}

func (g *Greeter) admit(req admitRequest) (*admitResponse, error) {
	g.Lock()

	s, err := g.session(req.Session)
	if err != nil {
		g.Unlock()
		return nil, err
	}
	if !s.authenticated {
		g.Unlock()
		return nil, ErrNotAuthenticated
	}

	a := req.Admission
	if a.IdentityKey == "" || a.ControlFeedKey == "" || a.DataFeedKey == "" {
		g.Unlock()
		return nil, cm.NewIntegrityErr("admission", "missing identity or feed keys")
	}
	if g.descriptor.Type == Offline && a.IdentityKey != g.descriptor.IdentityKey {
		g.Unlock()
		return nil, ErrInvalidSecret
	}
	if g.host.IsMember(a.IdentityKey) {
		g.Unlock()
		return nil, cm.NewPreconditionErr("admit", "identity is already a member")
	}

	// from here on, the invitation can no longer be cancelled
	g.admitting = true
	g.Unlock()

	g.logger.WithFields(logrus.Fields{
		"identity": cm.ShortKey(a.IdentityKey),
		"control":  cm.ShortKey(a.ControlFeedKey),
		"data":     cm.ShortKey(a.DataFeedKey),
	}).Debug("Admitting invitee")

	// the credentials are written even if the handshake deadline passes
	// meanwhile
	err = g.host.Admit(context.Background(), a)

	// the swarm is left once this response is sent
	if err != nil {
		if g.complete(GreeterFailed, err) {
			go g.leave()
		}
		return nil, err
	}
	if g.complete(GreeterAdmitted, nil) {
		go g.leave()
	}

	return &admitResponse{}, nil
}
