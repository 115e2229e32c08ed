package kdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF fills buffer with HKDF-SHA256(secret, salt, info) output.
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// Derive32 is HKDF with a single 32-byte output.
func Derive32(secret, salt, info []byte) ([32]byte, error) {
	var out [32]byte
	_, err := HKDF(secret, salt, info, out[:])
	return out, err
}

// Wipe zeroes b. Best effort: the runtime may have copied it already.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
