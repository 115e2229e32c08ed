package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"enigma/internal/cryptographic/cryptoerr"
)

const (
	keySize       = 32
	signatureSize = 64
	// BundleSize is the wire length of an IdentityBundle.
	BundleSize = keySize + keySize + signatureSize
)

type (
	// IdentityBundle is the publishable half of an account: identity key,
	// signed prekey and the identity's signature over the prekey.
	IdentityBundle struct {
		IKPub     [32]byte
		SPKPub    [32]byte
		Signature [64]byte
	}

	bundleJSON struct {
		IKPub     []byte `json:"ik_pub"`
		SPKPub    []byte `json:"spk_pub"`
		Signature []byte `json:"signature"`
	}
)

// MarshalBinary encodes ik_pub || spk_pub || signature.
func (b *IdentityBundle) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, BundleSize)
	out = append(out, b.IKPub[:]...)
	out = append(out, b.SPKPub[:]...)
	out = append(out, b.Signature[:]...)
	return out, nil
}

func (b *IdentityBundle) UnmarshalBinary(data []byte) error {
	if len(data) != BundleSize {
		return fmt.Errorf("bundle is %d bytes, want %d: %w", len(data), BundleSize, cryptoerr.ErrMalformedInput)
	}
	copy(b.IKPub[:], data[:keySize])
	copy(b.SPKPub[:], data[keySize:2*keySize])
	copy(b.Signature[:], data[2*keySize:])
	return nil
}

func (b IdentityBundle) MarshalJSON() ([]byte, error) {
	return json.Marshal(bundleJSON{
		IKPub:     b.IKPub[:],
		SPKPub:    b.SPKPub[:],
		Signature: b.Signature[:],
	})
}

func (b *IdentityBundle) UnmarshalJSON(data []byte) error {
	var v bundleJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if len(v.IKPub) != keySize || len(v.SPKPub) != keySize || len(v.Signature) != signatureSize {
		return fmt.Errorf("bundle field lengths %d/%d/%d: %w", len(v.IKPub), len(v.SPKPub), len(v.Signature), cryptoerr.ErrMalformedInput)
	}
	copy(b.IKPub[:], v.IKPub)
	copy(b.SPKPub[:], v.SPKPub)
	copy(b.Signature[:], v.Signature)
	return nil
}

// Fingerprint is a short hex digest of the identity key, safe to log and
// to compare out of band.
func (b *IdentityBundle) Fingerprint() string {
	return Fingerprint(b.IKPub[:])
}

func Fingerprint(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:10])
}
