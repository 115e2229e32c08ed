package x3dh

import (
	"crypto/rand"
	"testing"

	"enigma/internal/cryptographic/cryptoerr"
	"enigma/internal/cryptographic/dh"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSharedSecretWipesPrivateHalves(t *testing.T) {
	privA, pubA, err := dh.NewX25519KeyPair(rand.Reader)
	require.NoError(t, err)
	privB, pubB, err := dh.NewX25519KeyPair(rand.Reader)
	require.NoError(t, err)

	pairs := [][2][32]byte{{privA, pubB}, {privB, pubA}}
	sk, err := deriveSharedSecret(pairs...)
	require.NoError(t, err)
	assert.Len(t, sk, SharedSecretSize)
	for i := range pairs {
		assert.Equal(t, [32]byte{}, pairs[i][0], "pair %d", i)
		assert.NotEqual(t, [32]byte{}, pairs[i][1], "pair %d", i)
	}

	// The second agreement fails on a zero public key; both scalars are
	// still gone.
	pairs = [][2][32]byte{{privA, pubB}, {privB, {}}}
	_, err = deriveSharedSecret(pairs...)
	assert.ErrorIs(t, err, cryptoerr.ErrDhAgreement)
	for i := range pairs {
		assert.Equal(t, [32]byte{}, pairs[i][0], "pair %d", i)
	}
}
