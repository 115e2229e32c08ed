package encryption

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"enigma/internal/cryptographic/cryptoerr"
)

var ErrCounterExhausted = errors.New("nonce counter exhausted")

type (
	// Engine seals payloads that live outside any ratchet chain under one
	// fixed key. Nonces come from a 96-bit big-endian counter whose high 64
	// bits start random, so two engines keyed alike rarely walk the same range.
	//
	// The key must not outlive a process restart unless Counter is persisted
	// and fed back through NewEngineAt.
	Engine struct {
		mu        sync.Mutex
		key       [KeySize]byte
		hi        uint64
		lo        uint32
		exhausted bool
	}
)

func NewEngine(rand io.Reader, key []byte) (*Engine, error) {
	var seed [NonceSize]byte
	if _, err := io.ReadFull(rand, seed[:8]); err != nil {
		return nil, fmt.Errorf("seed nonce counter: %w", err)
	}
	return NewEngineAt(key, seed)
}

// NewEngineAt resumes an engine at a previously persisted counter.
func NewEngineAt(key []byte, counter [NonceSize]byte) (*Engine, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key is %d bytes, need %d: %w", len(key), KeySize, cryptoerr.ErrMalformedInput)
	}
	e := &Engine{
		hi: binary.BigEndian.Uint64(counter[:8]),
		lo: binary.BigEndian.Uint32(counter[8:]),
	}
	copy(e.key[:], key)
	return e, nil
}

// Counter returns the nonce the next Encrypt will use.
func (e *Engine) Counter() [NonceSize]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nonce()
}

func (e *Engine) nonce() [NonceSize]byte {
	var n [NonceSize]byte
	binary.BigEndian.PutUint64(n[:8], e.hi)
	binary.BigEndian.PutUint32(n[8:], e.lo)
	return n
}

func (e *Engine) next() ([NonceSize]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.exhausted {
		return [NonceSize]byte{}, ErrCounterExhausted
	}
	n := e.nonce()
	e.lo++
	if e.lo == 0 {
		e.hi++
		e.exhausted = e.hi == 0
	}
	return n, nil
}

// Encrypt returns nonce || ciphertext || tag.
func (e *Engine) Encrypt(plaintext, aad []byte) ([]byte, error) {
	nonce, err := e.next()
	if err != nil {
		return nil, err
	}
	return SealWithNonce(e.key[:], nonce, plaintext, aad)
}

func (e *Engine) Decrypt(envelope, aad []byte) ([]byte, error) {
	return Open(e.key[:], envelope, aad)
}
