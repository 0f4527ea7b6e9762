package feed

import (
	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/credentials"
	"github.com/mosaicnetworks/echo/src/crypto/keys"
	"github.com/mosaicnetworks/echo/src/model"
	"github.com/mosaicnetworks/echo/src/timeframe"
)

// Body is the signed part of a Message. Exactly one of Credential and
// Mutation is set.
type Body struct {
	PartyKey   string                  `json:"partyKey"`
	FeedKey    string                  `json:"feedKey"`
	Seq        int                     `json:"seq"`
	Timeframe  timeframe.Timeframe     `json:"timeframe"`
	Credential *credentials.Credential `json:"credential,omitempty"`
	Mutation   *model.Mutation         `json:"mutation,omitempty"`
}

// Message is a Body with the feed key's signature.
type Message struct {
	Body      Body   `json:"body"`
	Signature string `json:"signature"`
}

// NewCredentialMessage returns an unsigned message carrying a credential.
func NewCredentialMessage(c *credentials.Credential, tf timeframe.Timeframe) *Message {
	return &Message{
		Body: Body{
			Timeframe:  tf,
			Credential: c,
		},
	}
}

// NewMutationMessage returns an unsigned message carrying a mutation.
func NewMutationMessage(m *model.Mutation, tf timeframe.Timeframe) *Message {
	return &Message{
		Body: Body{
			Timeframe: tf,
			Mutation:  m,
		},
	}
}

// Sign signs the body with the feed key held by signer.
func (m *Message) Sign(signer keys.Signer) error {
	payload, err := cm.MarshalCanonical(m.Body)
	if err != nil {
		return err
	}

	sig, err := signer.Sign(m.Body.FeedKey, payload)
	if err != nil {
		return err
	}

	m.Signature = sig

	return nil
}

// Verify checks the message's shape and its signature by the feed key.
func (m *Message) Verify() error {
	if m.Body.FeedKey == "" || m.Body.PartyKey == "" {
		return cm.NewIntegrityErr("message", "missing party or feed key")
	}

	if m.Body.Seq < 0 {
		return cm.NewIntegrityErr("message", "negative sequence number")
	}

	if (m.Body.Credential == nil) == (m.Body.Mutation == nil) {
		return cm.NewIntegrityErr("message", "exactly one payload expected")
	}

	payload, err := cm.MarshalCanonical(m.Body)
	if err != nil {
		return err
	}

	if !keys.VerifyPayload(m.Body.FeedKey, payload, m.Signature) {
		return cm.NewIntegrityErr("message", "invalid signature")
	}

	return nil
}

// Marshal returns the stored form of the message.
func (m *Message) Marshal() ([]byte, error) {
	return cm.MarshalCanonical(m)
}

// Unmarshal ...
func (m *Message) Unmarshal(data []byte) error {
	return cm.UnmarshalCanonical(data, m)
}

// ID identifies a message within its party.
type ID struct {
	FeedKey string
	Seq     int
}

// ID ...
func (m *Message) ID() ID {
	return ID{FeedKey: m.Body.FeedKey, Seq: m.Body.Seq}
}
