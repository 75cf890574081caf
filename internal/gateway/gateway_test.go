package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkhub/inkhub/internal/collab"
	"github.com/inkhub/inkhub/internal/config"
	"github.com/inkhub/inkhub/internal/room"
	"github.com/inkhub/inkhub/internal/store"
)

type testEnv struct {
	srv    *httptest.Server
	store  *store.Store
	engine *room.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithConfig(t, config.Config{
		FlushDebounce: 20 * time.Millisecond,
		MaintTick:     25 * time.Millisecond,
		IdleGrace:     60 * time.Millisecond,
		PingInterval:  time.Second,
	})
}

func newTestEnvWithConfig(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "rooms"), filepath.Join(dir, "assets"))
	require.NoError(t, err)

	engine := room.NewEngine(cfg, st)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		engine.Shutdown(ctx)
	})

	gw := New(engine, cfg)
	r := chi.NewRouter()
	gw.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: st, engine: engine}
}

func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) collab.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := collab.Decode(data)
	require.NoError(t, err)
	return msg
}

func sendPush(t *testing.T, conn *websocket.Conn, id, body string) {
	t.Helper()
	frame, err := collab.Encode(collab.Message{
		Type:    collab.TypePush,
		Records: map[string]json.RawMessage{id: json.RawMessage(body)},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// expectClose reads until the server closes the socket and returns the code.
func expectClose(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce, "expected a close frame, got %v", err)
		return ce.Code
	}
}

func TestConnectReceivesInit(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/connect/alpha?sessionId=s1")

	init := readMessage(t, conn)
	assert.Equal(t, collab.TypeInit, init.Type)
	assert.Empty(t, init.Records)

	// No snapshot exists for an untouched room.
	_, err := env.store.ReadRoom("alpha")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestChangePersistsSnapshot(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/connect/alpha?sessionId=s1")
	readMessage(t, conn)

	sendPush(t, conn, "shape:1", `{"x":1}`)

	require.Eventually(t, func() bool {
		_, err := env.store.ReadRoom("alpha")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTwoClientsConverge(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "/connect/beta?sessionId=a")
	b := env.dial(t, "/connect/beta?sessionId=b")
	readMessage(t, a)
	readMessage(t, b)

	sendPush(t, a, "x", `{"v":1}`)
	patch := readMessage(t, b)
	assert.Equal(t, collab.TypePatch, patch.Type)
	assert.Contains(t, patch.Records, "x")

	sendPush(t, b, "z", `{"v":3}`)
	patch = readMessage(t, a)
	assert.Contains(t, patch.Records, "z")

	// A third client's init carries both records.
	c := env.dial(t, "/connect/beta?sessionId=c")
	init := readMessage(t, c)
	assert.Equal(t, collab.TypeInit, init.Type)
	assert.Len(t, init.Records, 2)
}

func TestSessionIDSynthesizedWhenAbsent(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/connect/gamma")
	readMessage(t, conn)

	r, ok := env.engine.Lookup("gamma")
	require.True(t, ok)
	assert.Equal(t, 1, r.Stats().ActiveSessions)
}

func TestMissingRoomIDClosesWithPolicyViolation(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/connect/")
	assert.Equal(t, websocket.ClosePolicyViolation, expectClose(t, conn))
}

func TestMalformedMessageClosesWithProtocolError(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/connect/alpha?sessionId=bad")
	readMessage(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{broken")))
	assert.Equal(t, websocket.CloseProtocolError, expectClose(t, conn))

	// The room survives the offending session.
	r, ok := env.engine.Lookup("alpha")
	require.True(t, ok)
	assert.False(t, r.IsClosed())
}

func TestReconnectSeesPriorState(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/connect/gamma?sessionId=s1")
	readMessage(t, conn)
	sendPush(t, conn, "shape:1", `{"x":1}`)

	// Give the room a moment to apply before dropping the socket.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, conn.Close())

	// Reconnect within the grace window: state comes from the live room.
	conn2 := env.dial(t, "/connect/gamma?sessionId=s2")
	init := readMessage(t, conn2)
	assert.Len(t, init.Records, 1)
}

func TestKeepalivePingIsSent(t *testing.T) {
	env := newTestEnvWithConfig(t, config.Config{
		FlushDebounce: 20 * time.Millisecond,
		MaintTick:     25 * time.Millisecond,
		IdleGrace:     time.Second,
		PingInterval:  30 * time.Millisecond,
	})
	conn := env.dial(t, "/connect/keepalive?sessionId=s1")
	readMessage(t, conn)

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	// Control frames are only processed while a read is pending; the read
	// unblocks when the connection is torn down at cleanup.
	go func() { _, _, _ = conn.ReadMessage() }()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no keepalive ping before deadline")
	}
}

func TestRoomReloadedAfterIdleClose(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/connect/delta?sessionId=s1")
	readMessage(t, conn)
	sendPush(t, conn, "shape:1", `{"x":1}`)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, conn.Close())

	// Wait past the idle grace so the room closes and deregisters.
	require.Eventually(t, func() bool {
		_, ok := env.engine.Lookup("delta")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	// A new connect loads from the snapshot file.
	conn2 := env.dial(t, "/connect/delta?sessionId=s2")
	init := readMessage(t, conn2)
	assert.Len(t, init.Records, 1)
}
