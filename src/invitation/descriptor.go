package invitation

import (
	"encoding/hex"
	"encoding/json"
	"math/big"

	"github.com/google/uuid"
	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/crypto"
)

// Type of invitation.
type Type string

// Invitation types.
const (
	// Interactive invitations are authenticated with a secret shared out of
	// band.
	Interactive Type = "INTERACTIVE"

	// Offline invitations are bound to an identity key; the invitee proves it
	// holds the key.
	Offline Type = "OFFLINE"
)

// Descriptor is what an inviter shares with an invitee. The Secret is never
// part of the token.
type Descriptor struct {
	Type        Type   `json:"type"`
	SwarmKey    string `json:"swarmKey"`
	Invitation  string `json:"invitation"`
	IdentityKey string `json:"identityKey,omitempty"`
	Hash        string `json:"hash"`

	Secret string `json:"-"`
}

// hashed is the part of a Descriptor covered by its Hash.
type hashed struct {
	Type        Type   `json:"type"`
	SwarmKey    string `json:"swarmKey"`
	Invitation  string `json:"invitation"`
	IdentityKey string `json:"identityKey,omitempty"`
}

// NewDescriptor creates a descriptor with a fresh swarm key and nonce.
func NewDescriptor(t Type, identityKey, secret string) (*Descriptor, error) {
	d := &Descriptor{
		Type:        t,
		SwarmKey:    uuid.NewString(),
		Invitation:  uuid.NewString(),
		IdentityKey: identityKey,
		Secret:      secret,
	}

	if err := d.check(); err != nil {
		return nil, err
	}

	hash, err := d.computeHash()
	if err != nil {
		return nil, err
	}
	d.Hash = hash

	return d, nil
}

func (d *Descriptor) check() error {
	switch d.Type {
	case Interactive:
	case Offline:
		if d.IdentityKey == "" {
			return InvalidInvitationError{Reason: "offline invitation without identity key"}
		}
	default:
		return InvalidInvitationError{Reason: "unknown type " + string(d.Type)}
	}
	if d.SwarmKey == "" || d.Invitation == "" {
		return InvalidInvitationError{Reason: "missing swarm key or nonce"}
	}
	return nil
}

func (d *Descriptor) computeHash() (string, error) {
	data, err := cm.MarshalCanonical(hashed{
		Type:        d.Type,
		SwarmKey:    d.SwarmKey,
		Invitation:  d.Invitation,
		IdentityKey: d.IdentityKey,
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(crypto.HMACSHA256([]byte(d.Invitation), data)), nil
}

// Validate checks the descriptor's fields and hash.
func (d *Descriptor) Validate() error {
	if err := d.check(); err != nil {
		return err
	}

	expected, err := d.computeHash()
	if err != nil {
		return err
	}

	got, err := hex.DecodeString(d.Hash)
	if err != nil {
		return InvalidInvitationError{Reason: "malformed hash"}
	}
	want, _ := hex.DecodeString(expected)

	if !crypto.EqualMAC(got, want) {
		return InvalidInvitationError{Reason: "hash mismatch"}
	}
	return nil
}

// Encode returns the descriptor as a base62 token.
func (d *Descriptor) Encode() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return new(big.Int).SetBytes(data).Text(62), nil
}

// Decode parses and validates a token produced by Encode.
func Decode(token string) (*Descriptor, error) {
	for _, c := range token {
		if !isBase62(c) {
			return nil, InvalidInvitationError{Reason: "malformed token"}
		}
	}

	n, ok := new(big.Int).SetString(token, 62)
	if !ok || n.Sign() <= 0 || n.Text(62) != token {
		return nil, InvalidInvitationError{Reason: "malformed token"}
	}

	d := new(Descriptor)
	if err := json.Unmarshal(n.Bytes(), d); err != nil {
		return nil, InvalidInvitationError{Reason: "malformed token"}
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func isBase62(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
