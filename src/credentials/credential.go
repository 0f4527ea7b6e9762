// Package credentials defines the signed assertions written to party control
// feeds, and the PartyState processor that folds them into the set of members
// and admitted feeds.
//
// Admission takes effect when the credential message is appended to a feed
// and dispatched by the party's inbound pipeline. Credentials are never
// revoked: feeds are append-only.
package credentials

import (
	"fmt"

	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/crypto/keys"
)

// Kind tags the assertion carried by a Credential.
type Kind string

// Credential kinds.
const (
	PartyGenesis Kind = "PARTY_GENESIS"
	PartyMember  Kind = "PARTY_MEMBER"
	AdmittedFeed Kind = "ADMITTED_FEED"
)

// Role of a party member.
type Role string

// Member roles.
const (
	Admin  Role = "ADMIN"
	Writer Role = "WRITER"
	Reader Role = "READER"
)

// Designation says what an admitted feed carries.
type Designation string

// Feed designations.
const (
	Control Designation = "CONTROL"
	Data    Designation = "DATA"
)

// Assertion is the signed content of a Credential. Which fields are set
// depends on Kind.
type Assertion struct {
	Kind        Kind        `json:"kind"`
	PartyKey    string      `json:"partyKey"`
	FeedKey     string      `json:"feedKey,omitempty"`
	IdentityKey string      `json:"identityKey,omitempty"`
	DeviceKey   string      `json:"deviceKey,omitempty"`
	Role        Role        `json:"role,omitempty"`
	Designation Designation `json:"designation,omitempty"`
}

// NewPartyGenesis asserts that feedKey is the genesis control feed of
// partyKey. It must be signed by the party key.
func NewPartyGenesis(partyKey, feedKey string) Assertion {
	return Assertion{
		Kind:        PartyGenesis,
		PartyKey:    partyKey,
		FeedKey:     feedKey,
		Designation: Control,
	}
}

// NewPartyMember asserts that identityKey is a member of partyKey with the
// given role.
func NewPartyMember(partyKey, identityKey string, role Role) Assertion {
	return Assertion{
		Kind:        PartyMember,
		PartyKey:    partyKey,
		IdentityKey: identityKey,
		Role:        role,
	}
}

// NewAdmittedFeed asserts that feedKey, owned by deviceKey of identityKey, is
// admitted into partyKey.
func NewAdmittedFeed(partyKey, feedKey, deviceKey, identityKey string, designation Designation) Assertion {
	return Assertion{
		Kind:        AdmittedFeed,
		PartyKey:    partyKey,
		FeedKey:     feedKey,
		DeviceKey:   deviceKey,
		IdentityKey: identityKey,
		Designation: designation,
	}
}

// Validate checks that the fields required by Kind are present.
func (a Assertion) Validate() error {
	missing := func(field string) error {
		return cm.NewIntegrityErr("credential", fmt.Sprintf("%s without %s", a.Kind, field))
	}

	if a.PartyKey == "" {
		return missing("partyKey")
	}

	switch a.Kind {
	case PartyGenesis:
		if a.FeedKey == "" {
			return missing("feedKey")
		}
	case PartyMember:
		if a.IdentityKey == "" {
			return missing("identityKey")
		}
		switch a.Role {
		case Admin, Writer, Reader:
		default:
			return missing("valid role")
		}
	case AdmittedFeed:
		if a.FeedKey == "" {
			return missing("feedKey")
		}
		if a.IdentityKey == "" {
			return missing("identityKey")
		}
		switch a.Designation {
		case Control, Data:
		default:
			return missing("valid designation")
		}
	default:
		return cm.NewIntegrityErr("credential", fmt.Sprintf("unknown kind %q", a.Kind))
	}

	return nil
}

// Credential is an Assertion signed by Signer.
type Credential struct {
	Assertion Assertion `json:"assertion"`
	Signer    string    `json:"signer"`
	Signature string    `json:"signature"`
}

// CreateCredential signs the assertion with the key signerKey held by signer.
func CreateCredential(signer keys.Signer, signerKey string, a Assertion) (*Credential, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	payload, err := cm.MarshalCanonical(a)
	if err != nil {
		return nil, err
	}

	sig, err := signer.Sign(signerKey, payload)
	if err != nil {
		return nil, err
	}

	return &Credential{
		Assertion: a,
		Signer:    signerKey,
		Signature: sig,
	}, nil
}

// Verify checks the assertion's fields and the signature.
func (c *Credential) Verify() error {
	if err := c.Assertion.Validate(); err != nil {
		return err
	}

	payload, err := cm.MarshalCanonical(c.Assertion)
	if err != nil {
		return err
	}

	if !keys.VerifyPayload(c.Signer, payload, c.Signature) {
		return cm.NewIntegrityErr("credential", "invalid signature")
	}

	return nil
}
