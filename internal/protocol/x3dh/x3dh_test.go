package x3dh_test

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	mrand "math/rand"
	"testing"

	"enigma/internal/cryptographic/cryptoerr"
	"enigma/internal/cryptographic/dh"
	"enigma/internal/model"
	"enigma/internal/protocol/doubleratchet"
	"enigma/internal/protocol/x3dh"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitiatorAndResponderAgree(t *testing.T) {
	alice, _, err := x3dh.GenerateIdentityBundle(rand.Reader)
	require.NoError(t, err)
	bob, bobBundle, err := x3dh.GenerateIdentityBundle(rand.Reader)
	require.NoError(t, err)

	require.NoError(t, x3dh.VerifyBundle(bobBundle))

	res, err := x3dh.Initiate(rand.Reader, alice, bobBundle)
	require.NoError(t, err)
	assert.Len(t, res.SharedSecret, x3dh.SharedSecretSize)
	assert.Equal(t, alice.Bundle.IKPub, res.Handshake.IKPub)

	sk, err := x3dh.Respond(bob, res.Handshake)
	require.NoError(t, err)
	assert.Equal(t, res.SharedSecret, sk)
}

func TestHandshakeSeedsRatchets(t *testing.T) {
	alice, _, err := x3dh.GenerateIdentityBundle(rand.Reader)
	require.NoError(t, err)
	bob, bobBundle, err := x3dh.GenerateIdentityBundle(rand.Reader)
	require.NoError(t, err)

	require.NoError(t, x3dh.VerifyBundle(bobBundle))
	res, err := x3dh.Initiate(rand.Reader, alice, bobBundle)
	require.NoError(t, err)
	sk, err := x3dh.Respond(bob, res.Handshake)
	require.NoError(t, err)

	a, err := doubleratchet.New(rand.Reader, res.SharedSecret)
	require.NoError(t, err)
	b, err := doubleratchet.New(rand.Reader, sk)
	require.NoError(t, err)

	env, err := a.Encrypt([]byte("hello"))
	require.NoError(t, err)

	tampered := append([]byte(nil), env...)
	tampered[10] ^= 1
	_, err = b.Decrypt(tampered)
	assert.ErrorIs(t, err, cryptoerr.ErrAuthFailure)

	plain, err := b.Decrypt(env)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), plain)
}

func TestInitiateUsesFreshEphemeral(t *testing.T) {
	alice, _, err := x3dh.GenerateIdentityBundle(rand.Reader)
	require.NoError(t, err)
	_, bobBundle, err := x3dh.GenerateIdentityBundle(rand.Reader)
	require.NoError(t, err)

	first, err := x3dh.Initiate(rand.Reader, alice, bobBundle)
	require.NoError(t, err)
	second, err := x3dh.Initiate(rand.Reader, alice, bobBundle)
	require.NoError(t, err)

	assert.NotEqual(t, first.Handshake.EKPub, second.Handshake.EKPub)
	assert.NotEqual(t, first.SharedSecret, second.SharedSecret)
}

func TestDeterministicWithSeededRandom(t *testing.T) {
	alice, _, err := x3dh.GenerateIdentityBundle(mrand.New(mrand.NewSource(1)))
	require.NoError(t, err)
	_, bobBundle, err := x3dh.GenerateIdentityBundle(mrand.New(mrand.NewSource(2)))
	require.NoError(t, err)

	a, err := x3dh.Initiate(mrand.New(mrand.NewSource(3)), alice, bobBundle)
	require.NoError(t, err)
	b, err := x3dh.Initiate(mrand.New(mrand.NewSource(3)), alice, bobBundle)
	require.NoError(t, err)
	assert.Equal(t, a.SharedSecret, b.SharedSecret)
}

func TestVerifyBundleRejectsSwappedPrekey(t *testing.T) {
	_, bundle, err := x3dh.GenerateIdentityBundle(rand.Reader)
	require.NoError(t, err)

	_, otherPub, err := dh.NewX25519KeyPair(rand.Reader)
	require.NoError(t, err)
	forged := *bundle
	forged.SPKPub = otherPub

	err = x3dh.VerifyBundle(&forged)
	assert.ErrorIs(t, err, cryptoerr.ErrInvalidBundle)
	assert.ErrorIs(t, err, cryptoerr.ErrInvalidSignature)
}

func TestInitiateRejectsBadBundleBeforeDH(t *testing.T) {
	alice, _, err := x3dh.GenerateIdentityBundle(rand.Reader)
	require.NoError(t, err)
	_, bundle, err := x3dh.GenerateIdentityBundle(rand.Reader)
	require.NoError(t, err)
	bundle.Signature[5] ^= 0x80

	// an exhausted reader proves no ephemeral key was generated
	res, err := x3dh.Initiate(emptyReader{}, alice, bundle)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, cryptoerr.ErrInvalidBundle)

	assert.ErrorIs(t, x3dh.VerifyBundle(nil), cryptoerr.ErrInvalidBundle)
}

func TestRespondRejectsLowOrderEphemeral(t *testing.T) {
	alice, _, err := x3dh.GenerateIdentityBundle(rand.Reader)
	require.NoError(t, err)
	bob, _, err := x3dh.GenerateIdentityBundle(rand.Reader)
	require.NoError(t, err)

	_, err = x3dh.Respond(bob, model.Handshake{IKPub: alice.Bundle.IKPub})
	assert.ErrorIs(t, err, cryptoerr.ErrDhAgreement)
}

func TestBundleWireFormat(t *testing.T) {
	_, bundle, err := x3dh.GenerateIdentityBundle(rand.Reader)
	require.NoError(t, err)

	raw, err := bundle.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, raw, model.BundleSize)
	assert.Equal(t, bundle.IKPub[:], raw[:32])
	assert.Equal(t, bundle.SPKPub[:], raw[32:64])
	assert.Equal(t, bundle.Signature[:], raw[64:])

	var decoded model.IdentityBundle
	require.NoError(t, decoded.UnmarshalBinary(raw))
	assert.NoError(t, x3dh.VerifyBundle(&decoded))

	assert.ErrorIs(t, decoded.UnmarshalBinary(raw[:100]), cryptoerr.ErrMalformedInput)

	doc, err := json.Marshal(bundle)
	require.NoError(t, err)
	var fields map[string]string
	require.NoError(t, json.Unmarshal(doc, &fields))
	assert.Equal(t, map[string]string{
		"ik_pub":    base64.StdEncoding.EncodeToString(bundle.IKPub[:]),
		"spk_pub":   base64.StdEncoding.EncodeToString(bundle.SPKPub[:]),
		"signature": base64.StdEncoding.EncodeToString(bundle.Signature[:]),
	}, fields)

	var fromJSON model.IdentityBundle
	require.NoError(t, json.Unmarshal(doc, &fromJSON))
	assert.Equal(t, *bundle, fromJSON)

	fields["signature"] = base64.StdEncoding.EncodeToString(bundle.Signature[:32])
	short, err := json.Marshal(fields)
	require.NoError(t, err)
	assert.ErrorIs(t, json.Unmarshal(short, &fromJSON), cryptoerr.ErrMalformedInput)
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, assert.AnError }
