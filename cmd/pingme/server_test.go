package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pingme/internal/auth"
	"pingme/internal/chatsync"
	"pingme/internal/database"
	"pingme/internal/middleware"
	"pingme/internal/models"
	"pingme/internal/realtime"
	"pingme/internal/service"
	"pingme/pkg/client"
	"pingme/pkg/media"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	t      *testing.T
	server *httptest.Server
	tokens *auth.TokenManager
	hub    *realtime.Hub
	db     *database.Database
	logs   *test.Hook
}

func newTestEnv(t *testing.T, configure ...func(*Deps)) *testEnv {
	t.Helper()
	logger, logs := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	dir := t.TempDir()

	db, err := database.New(filepath.Join(dir, "pingme.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	for _, u := range []*models.User{
		{ID: "alice", Username: "alice", FirstName: "Alice", LastName: "Archer"},
		{ID: "bob", Username: "bob", FirstName: "Bob", LastName: "Baker"},
		{ID: "carol", Username: "carol", FirstName: "Carol", LastName: "Cole"},
	} {
		require.NoError(t, db.UpsertUser(ctx, u))
	}

	cfg := &models.Config{
		Media:     models.MediaConfig{Dir: filepath.Join(dir, "uploads"), MaxSizeMB: 1},
		Realtime:  models.RealtimeConfig{PingIntervalSec: 60},
		RateLimit: models.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
	}

	tokens, err := auth.NewTokenManager(models.AuthConfig{TokenSecret: "server-test-secret", KeyIterations: 1000})
	require.NoError(t, err)
	store, err := media.NewStore(cfg.Media, "", logger)
	require.NoError(t, err)

	hub := realtime.NewHub(logger, realtime.WithPresenceRecorder(db))
	messages := service.NewMessageService(db, db, store, logger)
	deps := Deps{
		Sync:    chatsync.NewCoordinator(messages, service.NewPresenter(db, db), hub, logger),
		Users:   service.NewUserService(db, hub),
		Hub:     hub,
		Tokens:  tokens,
		Media:   store,
		DB:      db,
		Limiter: middleware.NewLimiterPool(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
	}
	for _, fn := range configure {
		fn(&deps)
	}
	srv := NewServer(cfg, deps, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return &testEnv{t: t, server: ts, tokens: tokens, hub: hub, db: db, logs: logs}
}

func (e *testEnv) token(userID string) string {
	e.t.Helper()
	token, err := e.tokens.Issue(userID, userID)
	require.NoError(e.t, err)
	return token
}

func (e *testEnv) request(userID, method, path string, body io.Reader, contentType string) *http.Response {
	e.t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(e.t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(userID))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) jsonRequest(userID, method, path string, body interface{}) *http.Response {
	e.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		r = bytes.NewReader(data)
	}
	return e.request(userID, method, path, r, "application/json")
}

func (e *testEnv) client(userID string) *client.Client {
	e.t.Helper()
	c, err := client.New(e.server.URL, e.token(userID))
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = c.Close() })
	return c
}

type messageBody struct {
	Success bool                `json:"success"`
	Message *models.MessageView `json:"message"`
	Error   struct {
		Code string `json:"code"`
	} `json:"error"`
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *testEnv) send(from, to, content string) *models.MessageView {
	e.t.Helper()
	resp := e.jsonRequest(from, http.MethodPost, "/api/messages/send/"+to, map[string]string{"content": content})
	require.Equal(e.t, http.StatusCreated, resp.StatusCode)
	body := decodeBody[messageBody](e.t, resp)
	require.True(e.t, body.Success)
	return body.Message
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request("", http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "CLOSED", body["media_circuit"])
}

func TestAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request("", http.MethodGet, "/api/messages/unread", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decodeBody[messageBody](t, resp)
	assert.False(t, body.Success)
	assert.Equal(t, "UNAUTHENTICATED", body.Error.Code)
}

func TestSendAndConversation(t *testing.T) {
	env := newTestEnv(t)

	sent := env.send("alice", "bob", "hello bob")
	assert.Equal(t, "hello bob", sent.Content)
	assert.Equal(t, models.MessageStatusSent, sent.Status)
	assert.Equal(t, "Alice", sent.Sender.FirstName)
	assert.Equal(t, "bob", sent.Receiver.ID)

	resp := env.request("bob", http.MethodGet, "/api/messages/unread", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decodeBody[struct {
		Count int `json:"count"`
	}](t, resp).Count)

	resp = env.request("bob", http.MethodGet, "/api/messages/conversation/alice?page=1&limit=10", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	conv := decodeBody[conversationResponse](t, resp)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, sent.ID, conv.Messages[0].ID)
	assert.Equal(t, models.MessageStatusDelivered, conv.Messages[0].Status)
	assert.Equal(t, 1, conv.Pagination.TotalMessages)
	assert.False(t, conv.Pagination.HasMore)
}

func TestSendValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		to     string
		body   interface{}
		status int
	}{
		{"self", "alice", map[string]string{"content": "hi"}, http.StatusBadRequest},
		{"empty content", "bob", map[string]string{"content": "   "}, http.StatusBadRequest},
		{"unknown receiver", "nobody", map[string]string{"content": "hi"}, http.StatusNotFound},
		{"bad type", "bob", map[string]string{"content": "hi", "messageType": "sticker"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.jsonRequest("alice", http.MethodPost, "/api/messages/send/"+tt.to, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	resp := env.request("alice", http.MethodPost, "/api/messages/send/bob", strings.NewReader("{"), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendRejectsOversizedJSONBody(t *testing.T) {
	env := newTestEnv(t)

	body := `{"content":"` + strings.Repeat("a", maxJSONBodyBytes) + `"}`
	resp := env.request("alice", http.MethodPost, "/api/messages/send/bob", strings.NewReader(body), "application/json")

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", decodeBody[messageBody](t, resp).Error.Code)
}

// createdEntry returns the "Message created" log entry, or nil.
func createdEntry(logs *test.Hook) *logrus.Entry {
	for _, e := range logs.AllEntries() {
		if e.Message == "Message created" {
			return e
		}
	}
	return nil
}

func TestVerboseFlagUnmasksIdentifiers(t *testing.T) {
	t.Run("masked by default", func(t *testing.T) {
		env := newTestEnv(t)
		env.send("alice", "bob", "meet at noon")

		entry := createdEntry(env.logs)
		require.NotNil(t, entry)
		assert.NotEqual(t, "alice", entry.Data[service.LogFieldUserID])
		assert.Equal(t, "[12 chars]", entry.Data["content"])
	})

	t.Run("verbose", func(t *testing.T) {
		env := newTestEnv(t, func(d *Deps) { d.Verbose = true })
		sent := env.send("alice", "bob", "meet at noon")

		entry := createdEntry(env.logs)
		require.NotNil(t, entry)
		assert.Equal(t, "alice", entry.Data[service.LogFieldUserID])
		assert.Equal(t, "bob", entry.Data[service.LogFieldPeerUserID])
		assert.Equal(t, sent.ID, entry.Data[service.LogFieldMessageID])
		assert.Equal(t, "meet at noon", entry.Data["content"])
	})
}

func TestMessageMutations(t *testing.T) {
	env := newTestEnv(t)
	sent := env.send("alice", "bob", "original")

	resp := env.jsonRequest("alice", http.MethodPut, "/api/messages/edit/"+sent.ID, map[string]string{"content": "edited"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	edited := decodeBody[messageBody](t, resp).Message
	assert.True(t, edited.IsEdited)
	assert.Equal(t, "edited", edited.Content)
	require.Len(t, edited.EditHistory, 1)
	assert.Equal(t, "original", edited.EditHistory[0].Content)

	resp = env.jsonRequest("bob", http.MethodPut, "/api/messages/edit/"+sent.ID, map[string]string{"content": "hijack"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.jsonRequest("bob", http.MethodPost, "/api/messages/reaction/"+sent.ID, map[string]string{"reaction": models.ReactionHeart})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reacted := decodeBody[messageBody](t, resp).Message
	require.Len(t, reacted.Reactions, 1)
	assert.Equal(t, "bob", reacted.Reactions[0].UserID)

	resp = env.jsonRequest("carol", http.MethodPost, "/api/messages/reaction/"+sent.ID, map[string]string{"reaction": models.ReactionHeart})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.request("bob", http.MethodDelete, "/api/messages/reaction/"+sent.ID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[messageBody](t, resp).Message.Reactions)

	resp = env.request("bob", http.MethodPut, "/api/messages/read/"+sent.ID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	read := decodeBody[messageBody](t, resp).Message
	assert.Equal(t, models.MessageStatusSeen, read.Status)
	assert.Len(t, read.DeliveredTo, 1)
	assert.Len(t, read.ReadBy, 1)

	resp = env.request("alice", http.MethodPut, "/api/messages/read/"+sent.ID, nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.jsonRequest("bob", http.MethodPost, "/api/messages/reply/"+sent.ID, map[string]string{"content": "answer"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	reply := decodeBody[messageBody](t, resp).Message
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, sent.ID, reply.ReplyTo.ID)
	assert.Equal(t, "alice", reply.Receiver.ID)

	resp = env.request("bob", http.MethodDelete, "/api/messages/"+sent.ID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.request("bob", http.MethodGet, "/api/messages/"+sent.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = env.request("alice", http.MethodGet, "/api/messages/"+sent.ID, nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSendFile(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("messageType", "image"))
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="cat.png"`)
	h.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG fake image bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp := env.request("alice", http.MethodPost, "/api/messages/send/bob", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := decodeBody[messageBody](t, resp).Message
	assert.Equal(t, models.MessageTypeImage, msg.Type)
	assert.Equal(t, "cat.png", msg.FileName)
	assert.Equal(t, "image/png", msg.MimeType)
	require.True(t, strings.HasPrefix(msg.FileURL, media.RoutePrefix), msg.FileURL)
	assert.Equal(t, msg.FileURL, msg.Content)

	file := env.request("", http.MethodGet, msg.FileURL, nil, "")
	require.Equal(t, http.StatusOK, file.StatusCode)
	data, err := io.ReadAll(file.Body)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG fake image bytes", string(data))
}

func TestSendFileRejectsDisallowedExtension(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("messageType", "file"))
	part, err := mw.CreateFormFile("file", "run.exe")
	require.NoError(t, err)
	_, err = part.Write([]byte("MZ"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp := env.request("alice", http.MethodPost, "/api/messages/send/bob", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUsers(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request("alice", http.MethodGet, "/api/users/all", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := decodeBody[usersResponse](t, resp)
	require.Len(t, all.Users, 2)
	for _, u := range all.Users {
		assert.NotEqual(t, "alice", u.ID)
	}

	resp = env.request("alice", http.MethodGet, "/api/users/search?query=car", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	found := decodeBody[usersResponse](t, resp)
	require.Len(t, found.Users, 1)
	assert.Equal(t, "carol", found.Users[0].ID)

	resp = env.request("alice", http.MethodGet, "/api/users/carol", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Cole", decodeBody[userResponse](t, resp).User.LastName)

	resp = env.request("alice", http.MethodGet, "/api/users/nobody", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnsupportedVersion(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/messages/unread", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.token("alice"))
	req.Header.Set("Accept-Version", "9.0")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.send("alice", "bob", "count me")

	resp := env.request("", http.MethodGet, "/metrics.json", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snapshot := decodeBody[map[string]interface{}](t, resp)
	assert.Contains(t, snapshot, "counters")
	assert.Contains(t, snapshot, "online_users")

	resp = env.request("", http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), "go_goroutines")
	assert.Contains(t, string(text), "pingme_")

	resp = env.request("", http.MethodGet, "/version", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRealtimeDeliveryEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := env.client("alice")
	bob := env.client("bob")
	require.NoError(t, alice.Connect(ctx))
	require.NoError(t, bob.Connect(ctx))

	require.Eventually(t, func() bool {
		return env.hub.IsOnline("alice") && env.hub.IsOnline("bob")
	}, 2*time.Second, 10*time.Millisecond)

	sent, err := alice.Send(ctx, "bob", "over the wire")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := bob.Conversation("alice").Get(sent.ID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	_, err = bob.MarkRead(ctx, sent.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		m, ok := alice.Conversation("bob").Get(sent.ID)
		return ok && m.Status == models.MessageStatusSeen
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, alice.Conversation("bob").Len())
}

func TestWebsocketOriginDefaultsToSameHost(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=" + env.token("alice")

	dial := func(origin string) (*websocket.Conn, *http.Response, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		header := http.Header{}
		header.Set("Origin", origin)
		return websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	}

	t.Run("foreign origin is refused", func(t *testing.T) {
		_, resp, err := dial("https://evil.example")
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.False(t, env.hub.IsOnline("alice"))
	})

	t.Run("same origin is accepted", func(t *testing.T) {
		conn, _, err := dial(env.server.URL)
		require.NoError(t, err)
		defer conn.Close(websocket.StatusNormalClosure, "")
		require.Eventually(t, func() bool { return env.hub.IsOnline("alice") }, 2*time.Second, 10*time.Millisecond)
	})
}
