package keyring

import (
	"sync"

	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/crypto/keys"
	"github.com/sirupsen/logrus"
)

// IdentityManager owns the local identity and device keys.
type IdentityManager struct {
	sync.RWMutex
	keyring  *Keyring
	identity *KeyRecord
	device   *KeyRecord
	logger   *logrus.Entry
}

// NewIdentityManager builds an IdentityManager on top of a loaded Keyring. An
// identity already present in the keyring is picked up.
func NewIdentityManager(keyring *Keyring, logger *logrus.Entry) *IdentityManager {
	im := &IdentityManager{
		keyring: keyring,
		logger:  logger,
	}
	im.refresh()
	return im
}

func (im *IdentityManager) refresh() {
	im.Lock()
	defer im.Unlock()

	im.identity, im.device = nil, nil

	if ids := im.keyring.FindKeys(IdentityKey); len(ids) > 0 {
		im.identity = ids[0]
	}
	if devs := im.keyring.FindKeys(DeviceKey); len(devs) > 0 {
		im.device = devs[0]
	}
}

// CreateIdentity generates the identity and device keys. It fails with a
// PreconditionErr if an identity already exists.
func (im *IdentityManager) CreateIdentity() error {
	return im.createIdentity(nil)
}

// ImportIdentity installs an existing identity key, typically read from a key
// file, and creates a fresh device key.
func (im *IdentityManager) ImportIdentity(reader keys.KeyReaderWriter) error {
	priv, err := reader.ReadKey()
	if err != nil {
		return err
	}
	return im.createIdentity(func() (*KeyRecord, error) {
		return im.keyring.AddKey(IdentityKey, priv)
	})
}

func (im *IdentityManager) createIdentity(identity func() (*KeyRecord, error)) error {
	im.Lock()
	defer im.Unlock()

	if im.identity != nil {
		return cm.NewPreconditionErr("CreateIdentity", "identity already exists")
	}

	if identity == nil {
		identity = func() (*KeyRecord, error) {
			return im.keyring.CreateKey(IdentityKey)
		}
	}

	id, err := identity()
	if err != nil {
		return err
	}

	dev, err := im.keyring.CreateKey(DeviceKey)
	if err != nil {
		return err
	}

	im.identity, im.device = id, dev

	im.logger.WithFields(logrus.Fields{
		"identity": cm.ShortKey(id.PublicKey),
		"device":   cm.ShortKey(dev.PublicKey),
	}).Info("Created identity")

	return nil
}

// HasIdentity ...
func (im *IdentityManager) HasIdentity() bool {
	im.RLock()
	defer im.RUnlock()
	return im.identity != nil
}

// IdentityKey returns the public identity key, or an empty string when there
// is no identity yet.
func (im *IdentityManager) IdentityKey() string {
	im.RLock()
	defer im.RUnlock()
	if im.identity == nil {
		return ""
	}
	return im.identity.PublicKey
}

// DeviceKey returns the public device key.
func (im *IdentityManager) DeviceKey() string {
	im.RLock()
	defer im.RUnlock()
	if im.device == nil {
		return ""
	}
	return im.device.PublicKey
}

// Keyring ...
func (im *IdentityManager) Keyring() *Keyring {
	return im.keyring
}

// Reset forgets the cached identity after the keyring has been cleared.
func (im *IdentityManager) Reset() {
	im.refresh()
}
