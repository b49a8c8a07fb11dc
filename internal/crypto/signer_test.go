package crypto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndRecover(t *testing.T) {
	t.Parallel()

	s, err := GenerateSigner()
	require.NoError(t, err)

	body := []byte(`{"amount":"1000"}`)
	sig, err := s.SignMessage(body)
	require.NoError(t, err)

	addr, err := RecoverAddress(body, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	other, err := RecoverAddress([]byte(`{"amount":"9999"}`), sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)
}

func TestRecoverAddressRejectsMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sig  string
	}{
		{"not hex", "0xzz"},
		{"short", "0x1234"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RecoverAddress([]byte("x"), tt.sig)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrBadSignature))
		})
	}
}

func TestNewSignerFromHex(t *testing.T) {
	t.Parallel()

	s, err := GenerateSigner()
	require.NoError(t, err)

	again, err := NewSigner("0x" + s.PrivateKeyHex())
	require.NoError(t, err)
	assert.Equal(t, s.Address(), again.Address())

	_, err = NewSigner("not-a-key")
	assert.Error(t, err)
}

func TestDeriveAddressStable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DeriveAddress("vault:usdc"), DeriveAddress("vault:usdc"))
	assert.NotEqual(t, DeriveAddress("vault:usdc"), DeriveAddress("vault:dai"))
}
