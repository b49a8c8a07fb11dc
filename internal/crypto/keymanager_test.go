package crypto

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptedKeyRoundTrip(t *testing.T) {
	s, err := GenerateSigner()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keeper.json")
	require.NoError(t, WriteEncryptedKey(path, s.PrivateKeyHex(), "hunter2"))

	loaded, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, s.Address(), loaded.Address())

	_, err = LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "wrong"})
	assert.Error(t, err)
}

func TestLoadSignerPrefersRawKey(t *testing.T) {
	s, err := GenerateSigner()
	require.NoError(t, err)

	loaded, err := LoadSigner(KeyConfig{RawPrivateKey: s.PrivateKeyHex(), EncryptedKeyPath: "/does/not/exist"})
	require.NoError(t, err)
	assert.Equal(t, s.Address(), loaded.Address())

	_, err = LoadSigner(KeyConfig{})
	assert.Error(t, err)
}

func TestEncryptKeyValidation(t *testing.T) {
	_, err := EncryptKey("abcd", "pw")
	assert.Error(t, err)

	_, err = EncryptKey("00", "")
	assert.Error(t, err)
}
