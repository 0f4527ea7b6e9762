package keyring

import (
	"crypto/ecdsa"
	"fmt"
	"sync"

	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/crypto/keys"
	"github.com/mosaicnetworks/echo/src/storage"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "key_"

func recordKey(publicKey string) []byte {
	return []byte(fmt.Sprintf("%s%s", keyPrefix, publicKey))
}

// Keyring creates, stores and uses key pairs. Records are cached in memory and
// written through to the underlying store.
type Keyring struct {
	sync.RWMutex
	store  storage.Store
	cache  map[string]*KeyRecord
	logger *logrus.Entry
}

// NewKeyring ...
func NewKeyring(store storage.Store, logger *logrus.Entry) *Keyring {
	return &Keyring{
		store:  store,
		cache:  make(map[string]*KeyRecord),
		logger: logger,
	}
}

// Load reads every persisted record into the cache.
func (k *Keyring) Load() error {
	k.Lock()
	defer k.Unlock()

	err := k.store.Scan([]byte(keyPrefix), func(_, value []byte) error {
		rec := new(KeyRecord)
		if err := rec.Unmarshal(value); err != nil {
			return err
		}
		k.cache[rec.PublicKey] = rec
		return nil
	})
	if err != nil {
		return err
	}

	k.logger.WithField("keys", len(k.cache)).Debug("Loaded keyring")

	return nil
}

// CreateKey generates and stores a new key pair of the given type.
func (k *Keyring) CreateKey(t KeyType) (*KeyRecord, error) {
	priv, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}
	return k.AddKey(t, priv)
}

// AddKey stores an existing private key. Adding a key that is already present
// returns the existing record.
func (k *Keyring) AddKey(t KeyType, priv *ecdsa.PrivateKey) (*KeyRecord, error) {
	rec := newKeyRecord(t, priv)

	k.Lock()
	defer k.Unlock()

	if existing, ok := k.cache[rec.PublicKey]; ok {
		return existing, nil
	}

	val, err := rec.Marshal()
	if err != nil {
		return nil, err
	}

	if err := k.store.Set(recordKey(rec.PublicKey), val); err != nil {
		return nil, err
	}

	k.cache[rec.PublicKey] = rec

	k.logger.WithFields(logrus.Fields{
		"type": t,
		"key":  cm.ShortKey(rec.PublicKey),
	}).Debug("Added key")

	return rec, nil
}

// GetKey returns the record for publicKey, or a KeyNotFound StoreErr.
func (k *Keyring) GetKey(publicKey string) (*KeyRecord, error) {
	k.RLock()
	defer k.RUnlock()

	rec, ok := k.cache[publicKey]
	if !ok {
		return nil, cm.NewStoreErr("Key", cm.KeyNotFound, publicKey)
	}
	return rec, nil
}

// HasKey ...
func (k *Keyring) HasKey(publicKey string) bool {
	_, err := k.GetKey(publicKey)
	return err == nil
}

// FindKeys returns all the records of a given type.
func (k *Keyring) FindKeys(t KeyType) []*KeyRecord {
	k.RLock()
	defer k.RUnlock()

	res := []*KeyRecord{}
	for _, rec := range k.cache {
		if rec.Type == t {
			res = append(res, rec)
		}
	}
	return res
}

// Sign implements the keys.Signer interface with the private key matching
// publicKey.
func (k *Keyring) Sign(publicKey string, payload []byte) (string, error) {
	rec, err := k.GetKey(publicKey)
	if err != nil {
		return "", err
	}
	return keys.SignPayload(rec.privateKey, payload)
}

// Verify checks a signature produced by Sign. It does not require the key to
// be in the keyring.
func (k *Keyring) Verify(publicKey string, payload []byte, signature string) bool {
	return keys.VerifyPayload(publicKey, payload, signature)
}

// Clear removes every key from memory and from the store.
func (k *Keyring) Clear() error {
	k.Lock()
	defer k.Unlock()

	k.cache = make(map[string]*KeyRecord)
	return k.store.Clear()
}
