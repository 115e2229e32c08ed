package app

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"enigma/internal/cryptographic/cryptoerr"
	"enigma/internal/cryptographic/kdf"
	"enigma/internal/model"
	"enigma/internal/protocol/doubleratchet"
	"enigma/internal/protocol/x3dh"
	"enigma/internal/repository/kv"
	"enigma/internal/utils/log"

	"go.uber.org/zap"
)

var ErrReplayedHandshake = errors.New("handshake already used")

func (c *Chat) handshakeKey(hs *model.Handshake) string {
	return fmt.Sprintf("handshake:%s:%s:%s", c.local.Name, c.peer, hex.EncodeToString(hs.EKPub[:]))
}

// initReceiverState answers the peer's handshake and opens the message that
// carried it. A handshake is only ever answered once.
func (c *Chat) initReceiverState(ctx context.Context, hs *model.Handshake, env *model.Envelope) ([]byte, error) {
	if hs.IKPub != c.peerBundle.IKPub {
		return nil, fmt.Errorf("handshake identity does not match directory bundle of %s: %w", c.peer, cryptoerr.ErrInvalidBundle)
	}

	key := c.handshakeKey(hs)
	if _, err := c.store.Get(ctx, key); err == nil {
		return nil, ErrReplayedHandshake
	} else if !errors.Is(err, kv.ErrNotFound) {
		return nil, err
	}

	sk, err := x3dh.Respond(&c.local.Keys, *hs)
	if err != nil {
		return nil, err
	}
	defer kdf.Wipe(sk)

	plain, err := c.sessions.Accept(ctx, c.peer, sk, env)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, key, []byte{1}); err != nil {
		return nil, err
	}
	c.pending = nil
	log.Info("session established", zap.String("peer", c.peer), zap.String("role", "responder"))
	return plain, nil
}

func (c *Chat) initSendingState(ctx context.Context) error {
	res, err := x3dh.Initiate(c.rand, &c.local.Keys, c.peerBundle)
	if err != nil {
		return err
	}
	defer kdf.Wipe(res.SharedSecret)

	if err := c.sessions.Create(ctx, c.peer, res.SharedSecret, doubleratchet.RoleInitiator); err != nil {
		return err
	}
	hs := res.Handshake
	c.pending = &hs
	log.Info("session established", zap.String("peer", c.peer), zap.String("role", "initiator"),
		zap.String("peer_fingerprint", c.peerBundle.Fingerprint()))
	return nil
}
