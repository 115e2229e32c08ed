package x3dh

import (
	"fmt"
	"io"

	"enigma/internal/cryptographic/cryptoerr"
	"enigma/internal/cryptographic/dh"
	"enigma/internal/cryptographic/kdf"
	"enigma/internal/cryptographic/signature"
	"enigma/internal/model"
)

const SharedSecretSize = 32

var info = []byte("x3dh derived key")

type (
	InitResult struct {
		// Handshake is sent to the responder with the first message.
		Handshake    model.Handshake
		SharedSecret []byte
	}
)

// GenerateIdentityBundle creates an identity key and a signed prekey, signs
// the prekey's public bytes and returns both halves.
func GenerateIdentityBundle(rand io.Reader) (*model.IdentityKeys, *model.IdentityBundle, error) {
	ik, err := signature.Generate(rand)
	if err != nil {
		return nil, nil, err
	}
	spkPriv, spkPub, err := dh.NewX25519KeyPair(rand)
	if err != nil {
		return nil, nil, err
	}

	bundle := model.IdentityBundle{SPKPub: spkPub}
	copy(bundle.IKPub[:], ik.Public())
	copy(bundle.Signature[:], ik.Sign(spkPub[:]))

	keys := &model.IdentityKeys{
		IdentitySeed: ik.Seed(),
		SPKPriv:      spkPriv,
		Bundle:       bundle,
	}
	return keys, &bundle, nil
}

// VerifyBundle checks the prekey signature under the bundle's identity key.
func VerifyBundle(b *model.IdentityBundle) error {
	if b == nil {
		return fmt.Errorf("%w: nil bundle", cryptoerr.ErrInvalidBundle)
	}
	if err := signature.Verify(b.IKPub[:], b.SPKPub[:], b.Signature[:]); err != nil {
		return fmt.Errorf("%w: %w", cryptoerr.ErrInvalidBundle, err)
	}
	return nil
}

// Initiate runs the initiator side against a peer bundle:
// DH1 = EK*SPK_B, DH2 = EK*IK_B, DH3 = IK_A*SPK_B.
func Initiate(rand io.Reader, local *model.IdentityKeys, bundle *model.IdentityBundle) (*InitResult, error) {
	if err := VerifyBundle(bundle); err != nil {
		return nil, err
	}

	ikPubB, err := dh.IdentityPublic(bundle.IKPub[:])
	if err != nil {
		return nil, err
	}
	ikPrivA, err := dh.IdentityPrivate(local.IdentitySeed)
	if err != nil {
		return nil, err
	}
	defer kdf.Wipe(ikPrivA[:])

	ekPriv, ekPub, err := dh.NewX25519KeyPair(rand)
	if err != nil {
		return nil, err
	}
	defer kdf.Wipe(ekPriv[:])

	sk, err := deriveSharedSecret(
		[2][32]byte{ekPriv, bundle.SPKPub},
		[2][32]byte{ekPriv, ikPubB},
		[2][32]byte{ikPrivA, bundle.SPKPub},
	)
	if err != nil {
		return nil, err
	}

	return &InitResult{
		Handshake: model.Handshake{
			IKPub: local.Bundle.IKPub,
			EKPub: ekPub,
		},
		SharedSecret: sk,
	}, nil
}

// Respond rebuilds the initiator's secret from the responder's private keys:
// DH1 = SPK_B*EK_A, DH2 = IK_B*EK_A, DH3 = SPK_B*IK_A.
func Respond(local *model.IdentityKeys, hs model.Handshake) ([]byte, error) {
	ikPubA, err := dh.IdentityPublic(hs.IKPub[:])
	if err != nil {
		return nil, err
	}
	ikPrivB, err := dh.IdentityPrivate(local.IdentitySeed)
	if err != nil {
		return nil, err
	}
	defer kdf.Wipe(ikPrivB[:])

	return deriveSharedSecret(
		[2][32]byte{local.SPKPriv, hs.EKPub},
		[2][32]byte{ikPrivB, hs.EKPub},
		[2][32]byte{local.SPKPriv, ikPubA},
	)
}

// deriveSharedSecret concatenates the agreements in argument order and
// expands them to SharedSecretSize bytes. The private half of every pair is
// zeroed before it returns.
func deriveSharedSecret(pairs ...[2][32]byte) ([]byte, error) {
	concat := make([]byte, 0, len(pairs)*dh.KeySize)
	defer func() { kdf.Wipe(concat) }()
	defer func() {
		for i := range pairs {
			kdf.Wipe(pairs[i][0][:])
		}
	}()

	for i := range pairs {
		out, err := dh.X25519SharedSecret(pairs[i][0], pairs[i][1])
		if err != nil {
			return nil, fmt.Errorf("dh%d: %w", i+1, err)
		}
		concat = append(concat, out...)
		kdf.Wipe(out)
	}

	sk := make([]byte, SharedSecretSize)
	if _, err := kdf.HKDF(concat, nil, info, sk); err != nil {
		return nil, err
	}
	return sk, nil
}
