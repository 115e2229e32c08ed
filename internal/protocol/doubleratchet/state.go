package doubleratchet

import (
	"errors"
	"fmt"
	"io"

	"enigma/internal/cryptographic/cryptoerr"
	"enigma/internal/cryptographic/dh"
	"enigma/internal/cryptographic/encryption"
	"enigma/internal/cryptographic/kdf"
)

var adLabel = []byte("enigma/ratchet/msg")

// Role selects which direction label seeds each chain. An initiator sends on
// the initiator-to-responder chain and receives on the other one; a responder
// mirrors that. RoleSymmetric seeds both chains alike.
type Role uint8

const (
	RoleSymmetric Role = iota
	RoleInitiator
	RoleResponder
)

func (role Role) String() string {
	switch role {
	case RoleSymmetric:
		return "symmetric"
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	}
	return fmt.Sprintf("role(%d)", uint8(role))
}

func (role Role) sendLabel() []byte {
	switch role {
	case RoleInitiator:
		return initiatorInfo
	case RoleResponder:
		return responderInfo
	}
	return chainSeedInfo
}

func (role Role) recvLabel() []byte {
	switch role {
	case RoleInitiator:
		return responderInfo
	case RoleResponder:
		return initiatorInfo
	}
	return chainSeedInfo
}

type (
	// Ratchet is the per-peer key schedule. It is not safe for concurrent
	// use; callers serialize access per session.
	Ratchet struct {
		rand io.Reader
		role Role

		rootKey [32]byte

		// zero means "not yet advanced in this epoch"
		sendingChainKey   [32]byte
		receivingChainKey [32]byte
		sendIndex         uint64
		recvIndex         uint64

		dhPriv [32]byte
		dhPub  [32]byte

		peerPub    [32]byte
		hasPeerPub bool

		epoch uint32
		held  heldBack
	}

	// State is the serializable form of a Ratchet.
	State struct {
		Role              Role      `json:"role,omitempty"`
		RootKey           []byte    `json:"root_key"`
		SendingChainKey   []byte    `json:"sending_chain_key"`
		ReceivingChainKey []byte    `json:"receiving_chain_key"`
		SendIndex         uint64    `json:"send_index"`
		RecvIndex         uint64    `json:"recv_index"`
		DHPriv            []byte    `json:"dh_priv"`
		PeerPub           []byte    `json:"peer_pub,omitempty"`
		Epoch             uint32    `json:"epoch"`
		HeldBack          []HeldKey `json:"held_back,omitempty"`
	}
)

// New seeds a ratchet from a handshake secret and generates its first local
// DH key pair. Both chains share one seed, so two parties built with New
// must not send before one of them has received.
func New(rand io.Reader, sharedSecret []byte) (*Ratchet, error) {
	return NewWithRole(rand, sharedSecret, RoleSymmetric)
}

// NewWithRole is New with direction-separated chains: the initiator and the
// responder never derive the same message key.
func NewWithRole(rand io.Reader, sharedSecret []byte, role Role) (*Ratchet, error) {
	if role > RoleResponder {
		return nil, fmt.Errorf("unknown %v: %w", role, cryptoerr.ErrMalformedInput)
	}
	if len(sharedSecret) == 0 {
		return nil, fmt.Errorf("empty shared secret: %w", cryptoerr.ErrMalformedInput)
	}
	rootKey, err := InitialRootKey(sharedSecret)
	if err != nil {
		return nil, err
	}
	priv, pub, err := dh.NewX25519KeyPair(rand)
	if err != nil {
		return nil, err
	}
	return &Ratchet{
		rand:    rand,
		role:    role,
		rootKey: rootKey,
		dhPriv:  priv,
		dhPub:   pub,
	}, nil
}

// Restore rebuilds a ratchet from a stored State.
func Restore(rand io.Reader, st *State) (*Ratchet, error) {
	if st.Role > RoleResponder {
		return nil, fmt.Errorf("unknown %v: %w", st.Role, cryptoerr.ErrMalformedInput)
	}
	r := &Ratchet{
		rand:      rand,
		role:      st.Role,
		sendIndex: st.SendIndex,
		recvIndex: st.RecvIndex,
		epoch:     st.Epoch,
	}
	for _, f := range []struct {
		dst *[32]byte
		src []byte
	}{
		{&r.rootKey, st.RootKey},
		{&r.sendingChainKey, st.SendingChainKey},
		{&r.receivingChainKey, st.ReceivingChainKey},
		{&r.dhPriv, st.DHPriv},
	} {
		if len(f.src) != 32 {
			return nil, fmt.Errorf("ratchet state field is %d bytes: %w", len(f.src), cryptoerr.ErrMalformedInput)
		}
		copy(f.dst[:], f.src)
	}
	if st.PeerPub != nil {
		if len(st.PeerPub) != 32 {
			return nil, fmt.Errorf("peer key is %d bytes: %w", len(st.PeerPub), cryptoerr.ErrMalformedInput)
		}
		copy(r.peerPub[:], st.PeerPub)
		r.hasPeerPub = true
	}
	pub, err := dh.PublicFromPrivate(r.dhPriv)
	if err != nil {
		return nil, err
	}
	r.dhPub = pub
	r.held.add(st.HeldBack...)
	return r, nil
}

func (r *Ratchet) State() *State {
	st := &State{
		Role:              r.role,
		RootKey:           clone32(r.rootKey),
		SendingChainKey:   clone32(r.sendingChainKey),
		ReceivingChainKey: clone32(r.receivingChainKey),
		SendIndex:         r.sendIndex,
		RecvIndex:         r.recvIndex,
		DHPriv:            clone32(r.dhPriv),
		Epoch:             r.epoch,
		HeldBack:          append([]HeldKey(nil), r.held.keys...),
	}
	if r.hasPeerPub {
		st.PeerPub = clone32(r.peerPub)
	}
	return st
}

// Clone returns an independent copy, used to stage a mutation before it is
// persisted.
func (r *Ratchet) Clone() *Ratchet {
	c := *r
	c.held = r.held.clone()
	return &c
}

// Wipe zeroes the key material held by r.
func (r *Ratchet) Wipe() {
	kdf.Wipe(r.rootKey[:])
	kdf.Wipe(r.sendingChainKey[:])
	kdf.Wipe(r.receivingChainKey[:])
	kdf.Wipe(r.dhPriv[:])
	wipeHeld(r.held.keys)
}

func (r *Ratchet) PublicKey() [32]byte { return r.dhPub }

func (r *Ratchet) PeerPublicKey() ([32]byte, bool) { return r.peerPub, r.hasPeerPub }

func (r *Ratchet) Epoch() uint32 { return r.epoch }

func (r *Ratchet) Role() Role { return r.role }

// DHRatchet folds DH(local, peer) into the root key, resets both chains to
// the sentinel, records the peer key and rotates the local key pair. Keys
// for the next Window positions of the old receiving chain are held back
// for messages still in flight. On error r is unchanged.
func (r *Ratchet) DHRatchet(peerPub [32]byte) error {
	shared, err := dh.X25519SharedSecret(r.dhPriv, peerPub)
	if err != nil {
		return err
	}
	defer kdf.Wipe(shared)

	rootKey, err := KDFRootKey(r.rootKey, shared)
	if err != nil {
		return err
	}
	inFlight, err := r.lookahead()
	if err != nil {
		return err
	}
	priv, pub, err := dh.NewX25519KeyPair(r.rand)
	if err != nil {
		return err
	}

	r.rootKey = rootKey
	r.sendingChainKey = [32]byte{}
	r.receivingChainKey = [32]byte{}
	r.sendIndex, r.recvIndex = 0, 0
	r.peerPub, r.hasPeerPub = peerPub, true
	kdf.Wipe(r.dhPriv[:])
	r.dhPriv, r.dhPub = priv, pub
	r.epoch++
	r.held.add(inFlight...)
	r.held.prune(r.epoch, r.recvIndex)
	return nil
}

func (r *Ratchet) lookahead() ([]HeldKey, error) {
	ck, err := r.chainStart(r.receivingChainKey, r.role.recvLabel())
	if err != nil {
		return nil, err
	}
	keys := make([]HeldKey, 0, Window)
	for i := uint64(0); i < Window; i++ {
		var mk [32]byte
		ck, mk, err = KDFChainKey(ck)
		if err != nil {
			return nil, err
		}
		keys = append(keys, HeldKey{Position: Position{Epoch: r.epoch, Index: r.recvIndex + i}, Key: mk})
	}
	return keys, nil
}

func (r *Ratchet) chainStart(ck [32]byte, label []byte) ([32]byte, error) {
	if ck == ([32]byte{}) {
		return chainSeed(r.rootKey, label)
	}
	return ck, nil
}

func (r *Ratchet) aad(ad []byte) []byte {
	out := make([]byte, 0, len(adLabel)+len(ad))
	out = append(out, adLabel...)
	return append(out, ad...)
}

// Encrypt seals plaintext under the next sending message key and returns
// nonce || ciphertext || tag.
func (r *Ratchet) Encrypt(plaintext []byte) ([]byte, error) {
	return r.Seal(plaintext, nil)
}

// Seal is Encrypt with extra associated data appended to the fixed label.
func (r *Ratchet) Seal(plaintext, ad []byte) ([]byte, error) {
	ck, err := r.chainStart(r.sendingChainKey, r.role.sendLabel())
	if err != nil {
		return nil, err
	}
	next, mk, err := KDFChainKey(ck)
	if err != nil {
		return nil, err
	}
	defer kdf.Wipe(mk[:])

	out, err := encryption.Seal(r.rand, mk[:], plaintext, r.aad(ad))
	if err != nil {
		return nil, err
	}
	r.sendingChainKey = next
	r.sendIndex++
	return out, nil
}

// Decrypt opens an envelope from the peer.
func (r *Ratchet) Decrypt(envelope []byte) ([]byte, error) {
	return r.Open(envelope, nil)
}

// Open tries held-back keys first, then the next Window positions of the
// receiving chain. Only a successful open commits the chain advance.
func (r *Ratchet) Open(envelope, ad []byte) ([]byte, error) {
	if len(envelope) < encryption.Overhead {
		return nil, fmt.Errorf("envelope is %d bytes, need at least %d: %w", len(envelope), encryption.Overhead, cryptoerr.ErrMalformedInput)
	}
	aad := r.aad(ad)

	for i := range r.held.keys {
		plain, err := encryption.Open(r.held.keys[i].Key[:], envelope, aad)
		if err == nil {
			r.held.remove(i)
			return plain, nil
		}
		if !errors.Is(err, cryptoerr.ErrAuthFailure) {
			return nil, err
		}
	}

	ck, err := r.chainStart(r.receivingChainKey, r.role.recvLabel())
	if err != nil {
		return nil, err
	}
	skipped := make([]HeldKey, 0, Window)
	for i := uint64(0); i < Window; i++ {
		next, mk, err := KDFChainKey(ck)
		if err != nil {
			return nil, err
		}
		plain, err := encryption.Open(mk[:], envelope, aad)
		if err == nil {
			kdf.Wipe(mk[:])
			r.receivingChainKey = next
			r.recvIndex += i + 1
			r.held.add(skipped...)
			r.held.prune(r.epoch, r.recvIndex)
			return plain, nil
		}
		if !errors.Is(err, cryptoerr.ErrAuthFailure) {
			return nil, err
		}
		skipped = append(skipped, HeldKey{Position: Position{Epoch: r.epoch, Index: r.recvIndex + i}, Key: mk})
		ck = next
	}
	wipeHeld(skipped)
	return nil, cryptoerr.ErrAuthFailure
}

func clone32(b [32]byte) []byte {
	return append([]byte(nil), b[:]...)
}
