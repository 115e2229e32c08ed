package doubleratchet

import (
	"enigma/internal/cryptographic/kdf"
)

var (
	rootSalt      = []byte("enigma/ratchet/root-salt")
	rootInfo      = []byte("enigma/ratchet/root")
	chainSeedInfo = []byte("enigma/ratchet/chain-seed")
	initiatorInfo = []byte("enigma/ratchet/chain-seed/initiator-to-responder")
	responderInfo = []byte("enigma/ratchet/chain-seed/responder-to-initiator")
	chainInfo     = []byte("chain")
	msgInfo       = []byte("msg")
)

// InitialRootKey expands a handshake secret under a fixed salt.
func InitialRootKey(sharedSecret []byte) ([32]byte, error) {
	return kdf.Derive32(sharedSecret, rootSalt, rootInfo)
}

// KDFRootKey folds a DH output into the root key; the old root key is the salt.
func KDFRootKey(rootKey [32]byte, dhOut []byte) ([32]byte, error) {
	return kdf.Derive32(dhOut, rootKey[:], rootInfo)
}

// KDFChainKey derives the next chain key and a message key. The two outputs
// come from separate expansions, so a message key says nothing about the
// chain key that follows it.
func KDFChainKey(chainKey [32]byte) (nextChainKey, msgKey [32]byte, err error) {
	nextChainKey, err = kdf.Derive32(chainKey[:], nil, chainInfo)
	if err != nil {
		return nextChainKey, msgKey, err
	}
	msgKey, err = kdf.Derive32(chainKey[:], nil, msgInfo)
	return nextChainKey, msgKey, err
}

// chainSeed is the first chain key of an epoch, used when a chain is still
// at the zero sentinel. The label names the direction the chain carries.
func chainSeed(rootKey [32]byte, label []byte) ([32]byte, error) {
	return kdf.Derive32(rootKey[:], nil, label)
}
