package app

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"enigma/internal/model"
	"enigma/internal/service/server"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memDirectory struct {
	mu    sync.Mutex
	users map[string][]byte
}

func (d *memDirectory) GetByName(_ context.Context, name string) (*model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.users[name]
	if !ok {
		return nil, nil
	}
	return &model.User{Name: name, Bundle: b}, nil
}

func (d *memDirectory) Available(_ context.Context, name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.users[name]
	return !ok, nil
}

func (d *memDirectory) PutBundle(_ context.Context, name string, bundle []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[name] = bundle
	return nil
}

type memQueue struct {
	mu    sync.Mutex
	lists map[string][][]byte
}

func (q *memQueue) Push(_ context.Context, to string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lists[to] = append(q.lists[to], data)
	return nil
}

func (q *memQueue) Drain(_ context.Context, to string) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.lists[to]
	delete(q.lists, to)
	return out, nil
}

func newTestServer(t *testing.T) *apiClient {
	t.Helper()
	srv := server.NewHttpServer(
		&memDirectory{users: make(map[string][]byte)},
		&memQueue{lists: make(map[string][][]byte)},
		server.Options{RateLimit: 1000, Burst: 1000},
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	api, err := newAPIClient(ts.URL, ts.Client())
	require.NoError(t, err)
	return api
}

func TestNewAPIClientRejectsBadURL(t *testing.T) {
	_, err := newAPIClient("ftp://example.com", nil)
	assert.Error(t, err)
	_, err = newAPIClient("://", nil)
	assert.Error(t, err)
}

func TestDirectoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	api := newTestServer(t)
	alice := newPeer(t, "alice")

	free, err := api.available(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, free)

	_, err = api.getBundleOfUser(ctx, "alice")
	assert.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, api.publishBundle(ctx, "alice", &alice.acc.Keys.Bundle))
	got, err := api.getBundleOfUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.acc.Keys.Bundle, *got)

	free, err = api.available(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, free)

	imposter := newPeer(t, "alice")
	err = api.publishBundle(ctx, "alice", &imposter.acc.Keys.Bundle)
	assert.ErrorIs(t, err, ErrNameTaken)
}

func TestAccountBootstrap(t *testing.T) {
	ctx := context.Background()
	api := newTestServer(t)

	first := newPeer(t, "alice")
	c := &App{api: api, accounts: accountsOf(first), rand: randReader()}
	acc, err := c.getAccountAndCreateIfNotExist(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.acc.Keys.Bundle, acc.Keys.Bundle)

	// same device again: republishes its own bundle
	_, err = c.getAccountAndCreateIfNotExist(ctx, "alice")
	require.NoError(t, err)

	// a different device cannot claim the name
	other := newPeer(t, "bob")
	c2 := &App{api: api, accounts: accountsOf(other), rand: randReader()}
	_, err = c2.getAccountAndCreateIfNotExist(ctx, "alice")
	assert.ErrorIs(t, err, ErrNameTaken)
}

func TestChatOverRelay(t *testing.T) {
	ctx := context.Background()
	api := newTestServer(t)
	alice, bob := newPeer(t, "alice"), newPeer(t, "bob")
	require.NoError(t, api.publishBundle(ctx, "alice", &alice.acc.Keys.Bundle))
	require.NoError(t, api.publishBundle(ctx, "bob", &bob.acc.Keys.Bundle))

	bobBundle, err := api.getBundleOfUser(ctx, "bob")
	require.NoError(t, err)
	aliceConn, err := api.initWebhook(ctx, "alice")
	require.NoError(t, err)
	defer aliceConn.Close()
	aliceChat := NewChat(alice.acc, "bob", bobBundle, alice.store, randReader(), func(m *model.Message) error {
		return aliceConn.WriteJSON(m)
	})

	// bob is offline for the first message
	require.NoError(t, aliceChat.SendMessage(ctx, "hi bob"))
	time.Sleep(50 * time.Millisecond)

	aliceBundle, err := api.getBundleOfUser(ctx, "alice")
	require.NoError(t, err)
	bobConn, err := api.initWebhook(ctx, "bob")
	require.NoError(t, err)
	defer bobConn.Close()
	bobChat := NewChat(bob.acc, "alice", aliceBundle, bob.store, randReader(), func(m *model.Message) error {
		return bobConn.WriteJSON(m)
	})

	assert.Equal(t, "hi bob", readChat(t, bobConn, bobChat))
	require.NoError(t, bobChat.SendMessage(ctx, "hi alice"))
	assert.Equal(t, "hi alice", readChat(t, aliceConn, aliceChat))
}

func readChat(t *testing.T, conn *websocket.Conn, c *Chat) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m model.Message
	require.NoError(t, json.Unmarshal(data, &m))
	plain, err := c.ReceiveMessage(context.Background(), &m)
	require.NoError(t, err)
	return string(plain)
}
