package encryption

import (
	"fmt"
	"io"

	"enigma/internal/cryptographic/cryptoerr"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSize
	TagSize   = chacha20poly1305.Overhead
	// Overhead is what an envelope adds on top of the plaintext.
	Overhead = NonceSize + TagSize
)

// Seal encrypts plaintext under key with a fresh random nonce and returns
// nonce || ciphertext || tag.
func Seal(rand io.Reader, key, plaintext, aad []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand, nonce[:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return SealWithNonce(key, nonce, plaintext, aad)
}

// SealWithNonce is Seal for callers that own nonce uniqueness (the counter
// engine). The nonce is still embedded in the output.
func SealWithNonce(key []byte, nonce [NonceSize]byte, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cryptoerr.ErrMalformedInput, err)
	}
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	copy(out, nonce[:])
	return aead.Seal(out, nonce[:], plaintext, aad), nil
}

// Open authenticates and decrypts an envelope produced by Seal.
func Open(key, envelope, aad []byte) ([]byte, error) {
	if len(envelope) < Overhead {
		return nil, fmt.Errorf("envelope is %d bytes, need at least %d: %w", len(envelope), Overhead, cryptoerr.ErrMalformedInput)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cryptoerr.ErrMalformedInput, err)
	}
	plain, err := aead.Open(nil, envelope[:NonceSize], envelope[NonceSize:], aad)
	if err != nil {
		return nil, cryptoerr.ErrAuthFailure
	}
	return plain, nil
}
