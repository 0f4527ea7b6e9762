package keyring

import (
	"crypto/ecdsa"
	"encoding/json"
	"time"

	"github.com/mosaicnetworks/echo/src/crypto/keys"
)

// KeyType classifies a key by the role it plays.
type KeyType uint8

const (
	// IdentityKey identifies a user across devices.
	IdentityKey KeyType = iota
	// DeviceKey identifies one device of an identity.
	DeviceKey
	// PartyKey names a party. Its holder signs the party genesis.
	PartyKey
	// FeedKey names a feed. Its holder signs the feed's messages.
	FeedKey
)

// String ...
func (t KeyType) String() string {
	switch t {
	case IdentityKey:
		return "IDENTITY"
	case DeviceKey:
		return "DEVICE"
	case PartyKey:
		return "PARTY"
	case FeedKey:
		return "FEED"
	default:
		return "UNKNOWN"
	}
}

// KeyRecord is a key pair held by the Keyring.
type KeyRecord struct {
	Type      KeyType
	PublicKey string
	Added     time.Time

	privateKey *ecdsa.PrivateKey
}

// PrivateKey returns the secret half of the pair.
func (r *KeyRecord) PrivateKey() *ecdsa.PrivateKey {
	return r.privateKey
}

type wireKeyRecord struct {
	Type      KeyType   `json:"type"`
	PublicKey string    `json:"publicKey"`
	SecretKey string    `json:"secretKey"`
	Added     time.Time `json:"added"`
}

// Marshal ...
func (r *KeyRecord) Marshal() ([]byte, error) {
	return json.Marshal(wireKeyRecord{
		Type:      r.Type,
		PublicKey: r.PublicKey,
		SecretKey: keys.PrivateKeyHex(r.privateKey),
		Added:     r.Added,
	})
}

// Unmarshal ...
func (r *KeyRecord) Unmarshal(data []byte) error {
	var w wireKeyRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	priv, err := keys.PrivateKeyFromHex(w.SecretKey)
	if err != nil {
		return err
	}

	r.Type = w.Type
	r.PublicKey = w.PublicKey
	r.Added = w.Added
	r.privateKey = priv

	return nil
}

func newKeyRecord(t KeyType, priv *ecdsa.PrivateKey) *KeyRecord {
	return &KeyRecord{
		Type:       t,
		PublicKey:  keys.PublicKeyHex(&priv.PublicKey),
		Added:      time.Now().UTC(),
		privateKey: priv,
	}
}
