package signature

import (
	"crypto/ed25519"
	"fmt"
	"io"

	"enigma/internal/cryptographic/cryptoerr"
)

const (
	PublicKeySize = ed25519.PublicKeySize
	SeedSize      = ed25519.SeedSize
	Size          = ed25519.SignatureSize
)

type (
	// SigningKey is a long-term Ed25519 identity key pair.
	SigningKey struct {
		priv ed25519.PrivateKey
	}
)

func Generate(rand io.Reader) (*SigningKey, error) {
	_, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &SigningKey{priv: priv}, nil
}

// FromSeed rebuilds a key from its 32-byte seed, the form it is stored in.
func FromSeed(seed []byte) (*SigningKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("ed25519 seed is %d bytes: %w", len(seed), cryptoerr.ErrMalformedInput)
	}
	return &SigningKey{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

func (k *SigningKey) Sign(message []byte) []byte {
	return ed25519.Sign(k.priv, message)
}

func (k *SigningKey) Public() []byte {
	return append([]byte(nil), k.priv.Public().(ed25519.PublicKey)...)
}

func (k *SigningKey) Seed() []byte {
	return k.priv.Seed()
}

// Verify checks sig over message under pubKey.
func Verify(pubKey, message, sig []byte) error {
	if len(pubKey) != PublicKeySize || len(sig) != Size {
		return cryptoerr.ErrInvalidSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKey), message, sig) {
		return cryptoerr.ErrInvalidSignature
	}
	return nil
}
