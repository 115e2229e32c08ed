package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"enigma/internal/model"
	"enigma/internal/repository/kv"
	"enigma/internal/session"
	"enigma/internal/utils/log"

	"go.uber.org/zap"
)

var ErrUnexpectedSender = errors.New("message from a user outside this chat")

type (
	// Chat is one conversation between the local account and a peer,
	// independent of how messages are displayed or carried.
	Chat struct {
		mu sync.Mutex

		local      *model.Account
		peer       string
		peerBundle *model.IdentityBundle

		sessions *session.Manager
		store    kv.Store
		rand     io.Reader

		send func(*model.Message) error

		// pending is the handshake of a session this side started and the
		// peer has not answered yet. It rides along with every message until
		// then.
		pending *model.Handshake
	}
)

func NewChat(local *model.Account, peer string, peerBundle *model.IdentityBundle, store kv.Store, rand io.Reader, send func(*model.Message) error) *Chat {
	return &Chat{
		local:      local,
		peer:       peer,
		peerBundle: peerBundle,
		sessions:   session.NewManager(store, rand, local.Name),
		store:      store,
		rand:       rand,
		send:       send,
	}
}

func (c *Chat) Peer() string {
	return c.peer
}

func (c *Chat) SendMessage(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok, err := c.sessions.Exists(ctx, c.peer)
	if err != nil {
		return err
	}
	if !ok {
		if err := c.initSendingState(ctx); err != nil {
			return err
		}
	}

	env, err := c.sessions.Encrypt(ctx, c.peer, []byte(text))
	if err != nil {
		return err
	}

	return c.send(&model.Message{
		From:          c.local.Name,
		To:            c.peer,
		Header:        &env.Header,
		Ciphertext:    env.Ciphertext,
		X3DHHandShake: c.pending,
	})
}

func (c *Chat) ReceiveMessage(ctx context.Context, message *model.Message) ([]byte, error) {
	if message.From != c.peer {
		return nil, fmt.Errorf("%s: %w", message.From, ErrUnexpectedSender)
	}
	if message.Header == nil {
		return nil, fmt.Errorf("message without header from %s", message.From)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	env := message.Envelope()
	ok, err := c.sessions.Exists(ctx, c.peer)
	if err != nil {
		return nil, err
	}
	if !ok {
		if message.X3DHHandShake == nil {
			return nil, session.ErrNoSession
		}
		return c.initReceiverState(ctx, message.X3DHHandShake, env)
	}

	plain, err := c.sessions.Decrypt(ctx, c.peer, env)
	if err == nil {
		c.pending = nil
		return plain, nil
	}
	if message.X3DHHandShake == nil || !c.shouldAccept() {
		return nil, err
	}

	log.Info("peer started a new session", zap.String("peer", c.peer))
	return c.initReceiverState(ctx, message.X3DHHandShake, env)
}

// shouldAccept settles both sides starting a session at once: the side
// with the smaller name keeps its own.
func (c *Chat) shouldAccept() bool {
	return c.pending == nil || c.local.Name > c.peer
}
