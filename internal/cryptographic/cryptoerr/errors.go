// Package cryptoerr holds the failure taxonomy shared by the cryptographic
// session layer. Callers compare with errors.Is; every layer wraps these
// with context but never replaces them.
package cryptoerr

import "errors"

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidBundle    = errors.New("invalid identity bundle")
	ErrDhAgreement      = errors.New("diffie-hellman agreement failed")
	ErrAuthFailure      = errors.New("message authentication failed")
	ErrMalformedInput   = errors.New("malformed input")
	// ErrStale is returned for envelopes that belong to a ratchet epoch the
	// session can no longer reach.
	ErrStale = errors.New("stale message")
)
