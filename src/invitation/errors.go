package invitation

import (
	"errors"
	"fmt"

	cm "github.com/mosaicnetworks/echo/src/common"
)

var (
	// ErrAlreadyAdmitted is returned when an invitation has already been used
	// or is being used by another session.
	ErrAlreadyAdmitted = errors.New("invitation already used")

	// ErrInvitationTimeout is returned when the handshake does not complete
	// within the invitation timeout. A new invitation can be issued.
	ErrInvitationTimeout = errors.New("invitation timed out")

	// ErrInvalidSecret is returned for a wrong shared secret or a bad identity
	// proof. Nothing is written and the invitation stays usable.
	ErrInvalidSecret = errors.New("invalid invitation secret")

	// ErrTooManyAttempts is returned when a session has used all its
	// authentication attempts.
	ErrTooManyAttempts = errors.New("too many authentication attempts")

	// ErrUnknownSession ...
	ErrUnknownSession = errors.New("unknown invitation session")

	// ErrNotAuthenticated is returned by accept and admit before a successful
	// authenticate.
	ErrNotAuthenticated = errors.New("invitation session not authenticated")

	// ErrCancelled is returned once the inviter has cancelled the invitation.
	ErrCancelled = errors.New("invitation cancelled")

	// ErrAdmissionStarted is returned by Cancel when credentials are already
	// being written.
	ErrAdmissionStarted = errors.New("admission already started")
)

// InvalidInvitationError is returned for a token or descriptor that does not
// decode or whose hash does not match.
type InvalidInvitationError struct {
	Reason string
}

// Error ...
func (e InvalidInvitationError) Error() string {
	return fmt.Sprintf("invalid invitation: %s", e.Reason)
}

// error codes carried in handshake responses
const (
	codeAlreadyAdmitted   = "already_admitted"
	codeInvalidSecret     = "invalid_secret"
	codeTooManyAttempts   = "too_many_attempts"
	codeUnknownSession    = "unknown_session"
	codeNotAuthenticated  = "not_authenticated"
	codeInvalidInvitation = "invalid_invitation"
	codeCancelled         = "cancelled"
	codeTimeout           = "timeout"
	codePrecondition      = "precondition"
	codeInternal          = "internal"
)

var codeErrors = map[string]error{
	codeAlreadyAdmitted:  ErrAlreadyAdmitted,
	codeInvalidSecret:    ErrInvalidSecret,
	codeTooManyAttempts:  ErrTooManyAttempts,
	codeUnknownSession:   ErrUnknownSession,
	codeNotAuthenticated: ErrNotAuthenticated,
	codeCancelled:        ErrCancelled,
	codeTimeout:          ErrInvitationTimeout,
}

func errorCode(err error) string {
	for code, e := range codeErrors {
		if errors.Is(err, e) {
			return code
		}
	}
	var invalid InvalidInvitationError
	if errors.As(err, &invalid) {
		return codeInvalidInvitation
	}
	if cm.IsPrecondition(err) {
		return codePrecondition
	}
	return codeInternal
}
