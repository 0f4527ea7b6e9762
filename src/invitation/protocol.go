package invitation

import (
	"encoding/json"
	"errors"
	"fmt"

	cm "github.com/mosaicnetworks/echo/src/common"
)

// MaxSecretAttempts is the number of authenticate calls allowed per session.
const MaxSecretAttempts = 3

// handshake methods
const (
	methodIntroduce    = "introduce"
	methodAuthenticate = "authenticate"
	methodAccept       = "accept"
	methodAdmit        = "admit"
)

type introduceRequest struct {
	Invitation string `json:"invitation"`
}

type introduceResponse struct {
	Session string `json:"session"`
	Type    Type   `json:"type"`
}

type authenticateRequest struct {
	Session string `json:"session"`
	Secret  string `json:"secret,omitempty"`

	// Offline invitations: signature of the nonce by the bound identity key.
	Signature string `json:"signature,omitempty"`
}

type authenticateResponse struct {
	Remaining int `json:"remaining"`
}

type acceptRequest struct {
	Session string `json:"session"`
}

// Offer is what the invitee learns about the party once authenticated.
type Offer struct {
	PartyKey       string `json:"partyKey"`
	GenesisFeedKey string `json:"genesisFeedKey"`
	PeerAddress    string `json:"peerAddress,omitempty"`
}

// Admission is what the invitee asks the inviter to admit.
type Admission struct {
	IdentityKey    string `json:"identityKey"`
	DeviceKey      string `json:"deviceKey"`
	ControlFeedKey string `json:"controlFeedKey"`
	DataFeedKey    string `json:"dataFeedKey"`
	Address        string `json:"address,omitempty"`
}

type admitRequest struct {
	Session   string    `json:"session"`
	Admission Admission `json:"admission"`
}

type admitResponse struct{}

// envelope wraps every handshake response, so that typed errors survive any
// swarm transport.
type envelope struct {
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

func encodeResponse(body interface{}, err error) ([]byte, error) {
	if err != nil {
		return json.Marshal(envelope{
			Error:   errorCode(err),
			Message: err.Error(),
		})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Body: data})
}

// remoteError rebuilds the error of a response.
type remoteError struct {
	code    string
	message string
}

func (e remoteError) Error() string {
	return e.message
}

func (e remoteError) Unwrap() error {
	return codeErrors[e.code]
}

func decodeResponse(data []byte, body interface{}) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("malformed handshake response: %v", err)
	}

	switch env.Error {
	case "":
	case codeInvalidInvitation:
		return InvalidInvitationError{Reason: env.Message}
	case codePrecondition:
		return cm.NewPreconditionErr("invitation", env.Message)
	default:
		return remoteError{code: env.Error, message: env.Message}
	}

	if body == nil || len(env.Body) == 0 {
		return nil
	}
	return json.Unmarshal(env.Body, body)
}

// isRetryable reports whether another secret may be tried on the session.
func isRetryable(err error) bool {
	return errors.Is(err, ErrInvalidSecret)
}
