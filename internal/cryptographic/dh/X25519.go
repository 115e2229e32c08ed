package dh

import (
	"crypto/ecdh"
	"crypto/sha512"
	"fmt"
	"io"

	"enigma/internal/cryptographic/cryptoerr"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
)

const KeySize = curve25519.ScalarSize

// NewX25519KeyPair generates a key pair from rand. The private key is clamped.
func NewX25519KeyPair(rand io.Reader) (priv, pub [32]byte, err error) {
	if _, err = io.ReadFull(rand, priv[:]); err != nil {
		return priv, pub, fmt.Errorf("failed to generate private key: %w", err)
	}
	clamp(&priv)
	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub, nil
}

// X25519SharedSecret computes priv * pub. Low-order or malformed peer keys
// yield ErrDhAgreement.
func X25519SharedSecret(priv, pub [32]byte) ([]byte, error) {
	out, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cryptoerr.ErrDhAgreement, err)
	}
	return out, nil
}

// PublicFromPrivate recomputes the public half of a stored private key.
func PublicFromPrivate(priv [32]byte) ([32]byte, error) {
	var pub [32]byte
	k, err := ecdh.X25519().NewPrivateKey(priv[:])
	if err != nil {
		return pub, fmt.Errorf("%w: %v", cryptoerr.ErrMalformedInput, err)
	}
	copy(pub[:], k.PublicKey().Bytes())
	return pub, nil
}

// IdentityPrivate maps an Ed25519 seed to the X25519 scalar of the same
// identity, so one 32-byte identity key serves both signing and agreement.
func IdentityPrivate(seed []byte) ([32]byte, error) {
	var priv [32]byte
	if len(seed) != 32 {
		return priv, fmt.Errorf("identity seed is %d bytes: %w", len(seed), cryptoerr.ErrMalformedInput)
	}
	h := sha512.Sum512(seed)
	copy(priv[:], h[:32])
	clamp(&priv)
	for i := range h {
		h[i] = 0
	}
	return priv, nil
}

// IdentityPublic maps an Ed25519 public key to its Montgomery form.
func IdentityPublic(edPub []byte) ([32]byte, error) {
	var pub [32]byte
	p, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return pub, fmt.Errorf("%w: identity key is not a curve point", cryptoerr.ErrDhAgreement)
	}
	copy(pub[:], p.BytesMontgomery())
	return pub, nil
}

func clamp(k *[32]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
