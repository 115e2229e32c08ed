package model

import "encoding/binary"

// HeaderSize is the length of Header.Bytes.
const HeaderSize = 32 + 32 + 4

type (
	// Header is the ratchet header carried along with each ciphertext.
	Header struct {
		Pub     [32]byte `json:"pub"`      // sender's current ratchet public key
		PrevPub [32]byte `json:"prev_pub"` // sender's key for the step into Epoch
		Epoch   uint32   `json:"epoch"`    // number of DH steps behind this message
	}

	// Envelope is one ratchet-protected message: header plus nonce || ciphertext || tag.
	Envelope struct {
		Header     Header `json:"header"`
		Ciphertext []byte `json:"ciphertext"`
	}

	Message struct {
		From          string     `json:"from" validate:"required"`
		To            string     `json:"to" validate:"required"`
		Header        *Header    `json:"header" validate:"required"`
		Ciphertext    []byte     `json:"ciphertext" validate:"required"`
		X3DHHandShake *Handshake `json:"x3dh_handshake,omitempty"`
	}
)

// Bytes is the header encoding bound into the AEAD associated data.
func (h Header) Bytes() []byte {
	b := make([]byte, HeaderSize)
	copy(b[:32], h.Pub[:])
	copy(b[32:64], h.PrevPub[:])
	binary.BigEndian.PutUint32(b[64:], h.Epoch)
	return b
}

func (m *Message) Envelope() *Envelope {
	env := &Envelope{Ciphertext: m.Ciphertext}
	if m.Header != nil {
		env.Header = *m.Header
	}
	return env
}
