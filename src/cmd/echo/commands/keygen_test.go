package commands

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/mosaicnetworks/echo/src/crypto/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeygen(t *testing.T) {
	dir := t.TempDir()
	privKeyFile = filepath.Join(dir, "priv_key")
	pubKeyFile = filepath.Join(dir, "keys", "key.pub")

	require.NoError(t, keygen(nil, nil))

	priv, err := keys.NewSimpleKeyfile(privKeyFile).ReadKey()
	require.NoError(t, err)

	pub, err := ioutil.ReadFile(pubKeyFile)
	require.NoError(t, err)
	assert.Equal(t, keys.PublicKeyHex(&priv.PublicKey), string(pub))

	// an existing key is never overwritten
	assert.Error(t, keygen(nil, nil))
}
