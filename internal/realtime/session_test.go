package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pingme/internal/auth"
	"pingme/internal/models"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionFixture struct {
	hub    *Hub
	tokens *auth.TokenManager
	server *httptest.Server
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	return newSessionFixtureWith(t, models.RealtimeConfig{PingIntervalSec: 60, SendBufferSize: 16})
}

func newSessionFixtureWith(t *testing.T, cfg models.RealtimeConfig) *sessionFixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	tokens, err := auth.NewTokenManager(models.AuthConfig{TokenSecret: "realtime-test-secret", KeyIterations: 1000})
	require.NoError(t, err)

	hub := NewHub(logger)
	handler := NewHandler(hub, tokens, cfg, nil, logger)
	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return &sessionFixture{hub: hub, tokens: tokens, server: server}
}

func (f *sessionFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, err := f.tokens.Issue(userID, userID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?token=" + token
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	require.Eventually(t, func() bool { return f.hub.IsOnline(userID) }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, frame, err := conn.Read(ctx)
	require.NoError(t, err)
	ev, err := Decode(frame)
	require.NoError(t, err)
	return ev
}

func writeInbound(t *testing.T, conn *websocket.Conn, in Inbound) {
	t.Helper()
	frame, err := EncodeInbound(in)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, frame))
}

func TestSession_RejectsMissingToken(t *testing.T) {
	f := newSessionFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.server.URL, "http"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, f.hub.OnlineUsers())
}

func TestSession_RelaysEventsBetweenUsers(t *testing.T) {
	f := newSessionFixture(t)
	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	assert.Equal(t, Presence{UserID: "bob", Online: true}, readEvent(t, alice))
	assert.Equal(t, Presence{UserID: "alice", Online: true}, readEvent(t, bob))

	msg := json.RawMessage(`{"_id":"m1","content":"hi"}`)
	writeInbound(t, alice, SendRequest{ReceiverID: "bob", Message: msg})
	ev := readEvent(t, bob)
	recv, ok := ev.(MessageReceive)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "alice", recv.SenderID)
	assert.JSONEq(t, string(msg), string(recv.Message))

	writeInbound(t, bob, TypingRequest{ReceiverID: "alice"})
	assert.Equal(t, Typing{SenderID: "bob"}, readEvent(t, alice))

	writeInbound(t, bob, ReadRequest{MessageID: "m1", SenderID: "alice"})
	assert.Equal(t, MessageSeen{MessageID: "m1", UserID: "bob"}, readEvent(t, alice))
}

func TestSession_IgnoresMalformedFrames(t *testing.T) {
	f := newSessionFixture(t)
	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")
	readEvent(t, alice)
	readEvent(t, bob)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, alice.Write(ctx, websocket.MessageText, []byte(`not json`)))
	require.NoError(t, alice.Write(ctx, websocket.MessageText, []byte(`{"event":"message:explode","data":{}}`)))

	writeInbound(t, alice, ReadRequest{MessageID: "m9", SenderID: "bob"})
	assert.Equal(t, MessageSeen{MessageID: "m9", UserID: "alice"}, readEvent(t, bob), "session survives bad frames")
}

func TestSession_DisconnectAnnouncesOffline(t *testing.T) {
	f := newSessionFixture(t)
	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")
	readEvent(t, alice)
	readEvent(t, bob)

	writeInbound(t, bob, TypingRequest{ReceiverID: "alice"})
	assert.Equal(t, Typing{SenderID: "bob"}, readEvent(t, alice))

	require.NoError(t, bob.Close(websocket.StatusNormalClosure, "bye"))

	assert.Equal(t, Typing{SenderID: "bob", Stopped: true}, readEvent(t, alice))
	assert.Equal(t, Presence{UserID: "bob", Online: false}, readEvent(t, alice))
	assert.Eventually(t, func() bool { return !f.hub.IsOnline("bob") }, 2*time.Second, 10*time.Millisecond)
}

func TestSession_HubCloseEndsSession(t *testing.T) {
	f := newSessionFixture(t)
	alice := f.dial(t, "alice")

	f.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := alice.Read(ctx)
	assert.Error(t, err)
}

func TestSession_SilentPeerIsDroppedAfterMissedPong(t *testing.T) {
	f := newSessionFixtureWith(t, models.RealtimeConfig{PingIntervalSec: 1, PongTimeoutSec: 1, SendBufferSize: 16})
	alice := f.dial(t, "alice")
	// bob never reads again, so his client cannot answer pings.
	f.dial(t, "bob")

	// alice keeps reading, which also answers her own pings.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var offline bool
	for !offline {
		_, frame, err := alice.Read(ctx)
		require.NoError(t, err, "alice never saw bob go offline")
		ev, err := Decode(frame)
		require.NoError(t, err)
		if p, ok := ev.(Presence); ok && p.UserID == "bob" && !p.Online {
			offline = true
		}
	}

	assert.False(t, f.hub.IsOnline("bob"))
	assert.True(t, f.hub.IsOnline("alice"), "a peer that answers pings stays connected")
}
