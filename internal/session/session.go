// Package session owns the ratchet of every peer conversation: it
// serializes operations per peer, persists each mutation before making it
// visible, and runs the header protocol that tells both sides when to take
// a DH step.
//
// A side that has received a message in its current epoch steps with the
// peer's latest key before its next send. The header names the epoch and
// the sender's key before that step, so the receiver can take the same
// step. Messages from an older epoch are served from held-back keys only.
//
// Every message is bound to its direction: the associated data carries the
// sender and receiver names, and the session that created the handshake
// sends on the initiator chain while the one that accepted it sends on the
// responder chain.
package session

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"enigma/internal/cryptographic/cryptoerr"
	"enigma/internal/model"
	"enigma/internal/protocol/doubleratchet"
	"enigma/internal/repository/kv"
	"enigma/internal/utils/log"

	"go.uber.org/zap"
)

var ErrNoSession = errors.New("session: no session with peer")

type (
	Manager struct {
		store kv.Store
		rand  io.Reader
		local string

		mu       sync.Mutex
		sessions map[string]*session
	}

	// session is one peer conversation. mu guards everything below it and
	// is never held together with another session's lock.
	session struct {
		mu     sync.Mutex
		loaded bool
		state  *state
	}

	state struct {
		ratchet    *doubleratchet.Ratchet
		peerPub    [32]byte
		hasPeerPub bool
		prevPub    [32]byte
		stepOnSend bool
	}

	record struct {
		Ratchet    *doubleratchet.State `json:"ratchet"`
		PeerPub    []byte               `json:"peer_pub,omitempty"`
		PrevPub    []byte               `json:"prev_pub"`
		StepOnSend bool                 `json:"step_on_send"`
	}
)

func NewManager(store kv.Store, rand io.Reader, local string) *Manager {
	return &Manager{
		store:    store,
		rand:     rand,
		local:    local,
		sessions: make(map[string]*session),
	}
}

func (m *Manager) key(peer string) string {
	return fmt.Sprintf("ratchet:%s:%s", m.local, peer)
}

func (m *Manager) session(peer string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[peer]
	if !ok {
		s = &session{}
		m.sessions[peer] = s
	}
	return s
}

// load must be called with s.mu held.
func (m *Manager) load(ctx context.Context, peer string, s *session) error {
	if s.loaded {
		if s.state == nil {
			return ErrNoSession
		}
		return nil
	}
	data, err := m.store.Get(ctx, m.key(peer))
	if errors.Is(err, kv.ErrNotFound) {
		return ErrNoSession
	}
	if err != nil {
		return fmt.Errorf("load session %s: %w", peer, err)
	}
	st, err := m.decode(data)
	if err != nil {
		return fmt.Errorf("decode session %s: %w", peer, err)
	}
	s.state, s.loaded = st, true
	return nil
}

// commit persists next and only then makes it the live state.
func (m *Manager) commit(ctx context.Context, peer string, s *session, next *state) error {
	data, err := json.Marshal(next.record())
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, m.key(peer), data); err != nil {
		next.ratchet.Wipe()
		return fmt.Errorf("persist session %s: %w", peer, err)
	}
	if s.state != nil && s.state != next {
		s.state.ratchet.Wipe()
	}
	s.state, s.loaded = next, true
	return nil
}

// Create seeds a new session from a handshake secret, replacing any
// existing session with peer. The side that ran the handshake as initiator
// passes RoleInitiator; the other side passes RoleResponder or uses Accept.
func (m *Manager) Create(ctx context.Context, peer string, sharedSecret []byte, role doubleratchet.Role) error {
	if role == doubleratchet.RoleSymmetric {
		return fmt.Errorf("session needs a directed role: %w", cryptoerr.ErrMalformedInput)
	}
	r, err := doubleratchet.NewWithRole(m.rand, sharedSecret, role)
	if err != nil {
		return err
	}
	s := m.session(peer)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := m.commit(ctx, peer, s, &state{ratchet: r}); err != nil {
		return err
	}
	log.Debug("session created", zap.String("peer", peer), zap.Stringer("role", role))
	return nil
}

func (m *Manager) Exists(ctx context.Context, peer string) (bool, error) {
	s := m.session(peer)
	s.mu.Lock()
	defer s.mu.Unlock()

	err := m.load(ctx, peer, s)
	if errors.Is(err, ErrNoSession) {
		return false, nil
	}
	return err == nil, err
}

// Close forgets the session with peer, in memory and in the store.
func (m *Manager) Close(ctx context.Context, peer string) error {
	s := m.session(peer)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := m.store.Delete(ctx, m.key(peer)); err != nil {
		return err
	}
	if s.state != nil {
		s.state.ratchet.Wipe()
	}
	s.state, s.loaded = nil, true
	return nil
}

// Encrypt seals plaintext for peer, stepping the DH ratchet first when the
// peer has spoken in the current epoch.
func (m *Manager) Encrypt(ctx context.Context, peer string, plaintext []byte) (*model.Envelope, error) {
	s := m.session(peer)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := m.load(ctx, peer, s); err != nil {
		return nil, err
	}
	next := s.state.clone()

	if next.stepOnSend && next.hasPeerPub {
		prev := next.ratchet.PublicKey()
		if err := next.ratchet.DHRatchet(next.peerPub); err != nil {
			return nil, err
		}
		next.prevPub, next.stepOnSend = prev, false
	}

	hdr := model.Header{
		Pub:     next.ratchet.PublicKey(),
		PrevPub: next.prevPub,
		Epoch:   next.ratchet.Epoch(),
	}
	ct, err := next.ratchet.Seal(plaintext, associatedData(hdr, m.local, peer))
	if err != nil {
		return nil, err
	}
	if err := m.commit(ctx, peer, s, next); err != nil {
		return nil, err
	}
	return &model.Envelope{Header: hdr, Ciphertext: ct}, nil
}

// Decrypt opens an envelope from peer. Nothing about the session changes
// unless the message authenticates and the new state is persisted.
func (m *Manager) Decrypt(ctx context.Context, peer string, env *model.Envelope) ([]byte, error) {
	if env == nil || len(env.Ciphertext) == 0 {
		return nil, cryptoerr.ErrMalformedInput
	}
	s := m.session(peer)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := m.load(ctx, peer, s); err != nil {
		return nil, err
	}
	return m.open(ctx, peer, s, s.state.clone(), env)
}

// Accept starts a session from a responder's handshake secret and opens the
// message that carried the handshake with it. The new session replaces the
// existing one only if that message authenticates.
func (m *Manager) Accept(ctx context.Context, peer string, sharedSecret []byte, env *model.Envelope) ([]byte, error) {
	if env == nil || len(env.Ciphertext) == 0 {
		return nil, cryptoerr.ErrMalformedInput
	}
	r, err := doubleratchet.NewWithRole(m.rand, sharedSecret, doubleratchet.RoleResponder)
	if err != nil {
		return nil, err
	}
	s := m.session(peer)
	s.mu.Lock()
	defer s.mu.Unlock()

	plain, err := m.open(ctx, peer, s, &state{ratchet: r}, env)
	if err != nil {
		return nil, err
	}
	log.Debug("session accepted", zap.String("peer", peer))
	return plain, nil
}

// open runs the header protocol on next and commits it on success. It must
// be called with s.mu held.
func (m *Manager) open(ctx context.Context, peer string, s *session, next *state, env *model.Envelope) ([]byte, error) {
	hdr := env.Header
	if next.ownKey(hdr.Pub) || next.ownKey(hdr.PrevPub) {
		next.ratchet.Wipe()
		return nil, fmt.Errorf("header from %s carries a local key: %w", peer, cryptoerr.ErrAuthFailure)
	}
	epoch := next.ratchet.Epoch()

	current := true
	switch {
	case hdr.Epoch == epoch:
	case hdr.Epoch == epoch+1:
		if err := next.ratchet.DHRatchet(hdr.PrevPub); err != nil {
			next.ratchet.Wipe()
			return nil, err
		}
		log.Debug("dh ratchet step on receive", zap.String("peer", peer), zap.Uint32("epoch", hdr.Epoch))
	case hdr.Epoch < epoch:
		current = false
	default:
		next.ratchet.Wipe()
		return nil, fmt.Errorf("header epoch %d, session at %d: %w", hdr.Epoch, epoch, cryptoerr.ErrStale)
	}

	plain, err := next.ratchet.Open(env.Ciphertext, associatedData(hdr, peer, m.local))
	if err != nil {
		next.ratchet.Wipe()
		return nil, err
	}
	if current {
		next.peerPub, next.hasPeerPub = hdr.Pub, true
		next.stepOnSend = true
	}
	if err := m.commit(ctx, peer, s, next); err != nil {
		return nil, err
	}
	return plain, nil
}

// associatedData binds a header to the direction it travels in.
func associatedData(hdr model.Header, from, to string) []byte {
	out := hdr.Bytes()
	for _, name := range []string{from, to} {
		out = binary.BigEndian.AppendUint16(out, uint16(len(name)))
		out = append(out, name...)
	}
	return out
}

// ownKey reports whether k is one of this side's ratchet keys.
func (st *state) ownKey(k [32]byte) bool {
	if k == st.ratchet.PublicKey() {
		return true
	}
	return st.prevPub != ([32]byte{}) && k == st.prevPub
}

func (st *state) clone() *state {
	c := *st
	c.ratchet = st.ratchet.Clone()
	return &c
}

func (st *state) record() *record {
	rec := &record{
		Ratchet:    st.ratchet.State(),
		PrevPub:    append([]byte(nil), st.prevPub[:]...),
		StepOnSend: st.stepOnSend,
	}
	if st.hasPeerPub {
		rec.PeerPub = append([]byte(nil), st.peerPub[:]...)
	}
	return rec
}

func (m *Manager) decode(data []byte) (*state, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.Ratchet == nil || len(rec.PrevPub) != 32 {
		return nil, cryptoerr.ErrMalformedInput
	}
	r, err := doubleratchet.Restore(m.rand, rec.Ratchet)
	if err != nil {
		return nil, err
	}
	st := &state{ratchet: r, stepOnSend: rec.StepOnSend}
	copy(st.prevPub[:], rec.PrevPub)
	if rec.PeerPub != nil {
		if len(rec.PeerPub) != 32 {
			return nil, cryptoerr.ErrMalformedInput
		}
		copy(st.peerPub[:], rec.PeerPub)
		st.hasPeerPub = true
	}
	return st, nil
}
