// Package client is a Go SDK for the pingme API. It keeps a local cache of
// every conversation it touches and feeds it from the realtime channel.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"pingme/internal/models"
	"pingme/internal/realtime"
	"pingme/internal/retry"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// APIError is a failed API call as reported by the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	// Retryable is set when the server marked the failure as transient.
	Retryable bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pingme: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// ErrNotConnected is returned by realtime calls made before Connect.
var ErrNotConnected = errors.New("realtime channel is not connected")

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithBackoff configures retries of idempotent requests and of the
// websocket dial.
func WithBackoff(cfg retry.BackoffConfig) Option {
	return func(c *Client) { c.backoff = retry.NewBackoff(cfg) }
}

// WithAPIVersion pins the protocol version sent in Accept-Version.
func WithAPIVersion(v string) Option {
	return func(c *Client) { c.apiVersion = v }
}

func WithTypingWindow(d time.Duration) Option {
	return func(c *Client) { c.Typing = NewTypingTracker(d, nil) }
}

// WithEventHandler is called for every realtime event after the cache has
// been updated. It runs on the connection's read goroutine.
func WithEventHandler(fn func(realtime.Event)) Option {
	return func(c *Client) { c.onEvent = fn }
}

type Client struct {
	baseURL    *url.URL
	token      string
	userID     string
	http       *http.Client
	logger     *logrus.Logger
	backoff    *retry.Backoff
	apiVersion string
	onEvent    func(realtime.Event)

	Typing   *TypingTracker
	Presence *Presence

	mu     sync.Mutex
	caches map[string]*Cache
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// New returns a client for the server at baseURL acting as the subject of
// token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("malformed token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	c := &Client{
		baseURL:  u,
		token:    token,
		userID:   claims.Subject,
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   logrus.StandardLogger(),
		backoff:  retry.NewBackoff(retry.BackoffConfig{InitialDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2, MaxAttempts: 3, Jitter: true}),
		Typing:   NewTypingTracker(0, nil),
		Presence: NewPresence(),
		caches:   make(map[string]*Cache),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// UserID is the id of the authenticated user.
func (c *Client) UserID() string { return c.userID }

// Conversation returns the cache of the conversation with peerID, creating
// it on first use.
func (c *Client) Conversation(peerID string) *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	cache, ok := c.caches[peerID]
	if !ok {
		cache = NewCache()
		c.caches[peerID] = cache
	}
	return cache
}

func (c *Client) peers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.caches))
	for id := range c.caches {
		ids = append(ids, id)
	}
	return ids
}

func (c *Client) counterparty(v *models.MessageView) string {
	if v.Sender.ID == c.userID {
		return v.Receiver.ID
	}
	return v.Sender.ID
}

type messageEnvelope struct {
	Message *models.MessageView `json:"message"`
}

// Send sends a text message. The message shows in the conversation as
// pending until the server confirms it.
func (c *Client) Send(ctx context.Context, receiverID, content string) (*models.MessageView, error) {
	cache := c.Conversation(receiverID)
	tempID := cache.AddPending(models.UserSummary{ID: c.userID}, models.UserSummary{ID: receiverID}, content, models.MessageTypeText)

	body, _ := json.Marshal(map[string]string{"content": content, "messageType": string(models.MessageTypeText)})
	var out messageEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/messages/send/"+url.PathEscape(receiverID), nil, bytes.NewReader(body), "application/json", &out); err != nil {
		_ = cache.Fail(tempID, err)
		return nil, err
	}
	if err := cache.Confirm(tempID, out.Message); err != nil {
		return nil, err
	}
	return out.Message, nil
}

// SendFile uploads r as a media message. The message type follows the file
// extension.
func (c *Client) SendFile(ctx context.Context, receiverID, fileName string, r io.Reader) (*models.MessageView, error) {
	typ := models.MediaTypeForMIME(mime.TypeByExtension(filepath.Ext(fileName)))
	cache := c.Conversation(receiverID)
	tempID := cache.AddPending(models.UserSummary{ID: c.userID}, models.UserSummary{ID: receiverID}, fileName, typ)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	err := mw.WriteField("messageType", string(typ))
	if err == nil {
		var part io.Writer
		if part, err = mw.CreateFormFile("file", fileName); err == nil {
			_, err = io.Copy(part, r)
		}
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		_ = cache.Fail(tempID, err)
		return nil, fmt.Errorf("failed to encode upload: %w", err)
	}

	var out messageEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/messages/send/"+url.PathEscape(receiverID), nil, &buf, mw.FormDataContentType(), &out); err != nil {
		_ = cache.Fail(tempID, err)
		return nil, err
	}
	if err := cache.Confirm(tempID, out.Message); err != nil {
		return nil, err
	}
	return out.Message, nil
}

// Reply answers messageID with a text message.
func (c *Client) Reply(ctx context.Context, messageID, content string) (*models.MessageView, error) {
	body, _ := json.Marshal(map[string]string{"content": content, "messageType": string(models.MessageTypeText)})
	return c.mutate(ctx, http.MethodPost, "/api/messages/reply/"+url.PathEscape(messageID), body)
}

func (c *Client) Edit(ctx context.Context, messageID, content string) (*models.MessageView, error) {
	body, _ := json.Marshal(map[string]string{"content": content})
	return c.mutate(ctx, http.MethodPut, "/api/messages/edit/"+url.PathEscape(messageID), body)
}

func (c *Client) React(ctx context.Context, messageID, symbol string) (*models.MessageView, error) {
	body, _ := json.Marshal(map[string]string{"reaction": symbol})
	return c.mutate(ctx, http.MethodPost, "/api/messages/reaction/"+url.PathEscape(messageID), body)
}

func (c *Client) Unreact(ctx context.Context, messageID string) (*models.MessageView, error) {
	return c.mutate(ctx, http.MethodDelete, "/api/messages/reaction/"+url.PathEscape(messageID), nil)
}

func (c *Client) MarkRead(ctx context.Context, messageID string) (*models.MessageView, error) {
	return c.mutate(ctx, http.MethodPut, "/api/messages/read/"+url.PathEscape(messageID), nil)
}

func (c *Client) MarkDelivered(ctx context.Context, messageID string) (*models.MessageView, error) {
	return c.mutate(ctx, http.MethodPut, "/api/messages/deliver/"+url.PathEscape(messageID), nil)
}

// Delete hides messageID for the current user and drops it from the cache.
func (c *Client) Delete(ctx context.Context, messageID string) error {
	var out messageEnvelope
	if err := c.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(messageID), nil, nil, "", &out); err != nil {
		return err
	}
	if out.Message != nil {
		c.Conversation(c.counterparty(out.Message)).Remove(out.Message.ID)
	}
	return nil
}

func (c *Client) mutate(ctx context.Context, method, path string, body []byte) (*models.MessageView, error) {
	var rd io.Reader
	contentType := ""
	if body != nil {
		rd = bytes.NewReader(body)
		contentType = "application/json"
	}
	var out messageEnvelope
	if err := c.do(ctx, method, path, nil, rd, contentType, &out); err != nil {
		return nil, err
	}
	if out.Message == nil {
		return nil, errors.New("response has no message")
	}
	c.Conversation(c.counterparty(out.Message)).MergePage([]*models.MessageView{out.Message})
	return out.Message, nil
}

// Page is one conversation page as returned by the server.
type Page struct {
	Messages   []*models.MessageView `json:"messages"`
	Pagination models.Pagination     `json:"pagination"`
}

// FetchConversation loads a page of the conversation with peerID and
// merges it into the cache. A zero limit uses the server default.
func (c *Client) FetchConversation(ctx context.Context, peerID string, page, limit int) (*Page, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out Page
	if err := c.do(ctx, http.MethodGet, "/api/messages/conversation/"+url.PathEscape(peerID), q, nil, "", &out); err != nil {
		return nil, err
	}
	c.Conversation(peerID).MergePage(out.Messages)
	return &out, nil
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/messages/unread", nil, nil, "", &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

type usersEnvelope struct {
	Users []*models.User `json:"users"`
}

func (c *Client) AllUsers(ctx context.Context) ([]*models.User, error) {
	return c.users(ctx, "/api/users/all", nil)
}

func (c *Client) OnlineUsers(ctx context.Context) ([]*models.User, error) {
	return c.users(ctx, "/api/users/online", nil)
}

func (c *Client) SearchUsers(ctx context.Context, query string) ([]*models.User, error) {
	return c.users(ctx, "/api/users/search", url.Values{"query": {query}})
}

func (c *Client) users(ctx context.Context, path string, q url.Values) ([]*models.User, error) {
	var out usersEnvelope
	if err := c.do(ctx, http.MethodGet, path, q, nil, "", &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// do performs one API call. GET requests are retried on transport errors
// and server-side failures.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body io.Reader, contentType string, out interface{}) error {
	call := func() error {
		return c.roundTrip(ctx, method, path, q, body, contentType, out)
	}
	if method != http.MethodGet {
		return call()
	}
	return c.backoff.RetryWithPredicate(ctx, call, isRetryable)
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable || apiErr.StatusCode >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, q url.Values, body io.Reader, contentType string, out interface{}) error {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req.Header)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
			Retryable bool `json:"retryable"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env)
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       env.Error.Code,
			Message:    env.Error.Message,
			Retryable:  env.Retryable,
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) authorize(h http.Header) {
	h.Set("Authorization", "Bearer "+c.token)
	if c.apiVersion != "" {
		h.Set("Accept-Version", c.apiVersion)
	}
}

// Connect opens the realtime channel. Presence is rebuilt from the
// snapshot the server sends on connect. An already open channel is closed
// once the new one is established.
func (c *Client) Connect(ctx context.Context) error {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"

	header := http.Header{}
	c.authorize(header)

	var conn *websocket.Conn
	err := c.backoff.RetryWithPredicate(ctx, func() error {
		var resp *http.Response
		var err error
		conn, resp, err = websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: header})
		if err != nil && resp != nil && resp.StatusCode < http.StatusInternalServerError {
			return &APIError{StatusCode: resp.StatusCode, Code: "HANDSHAKE_REJECTED", Message: err.Error()}
		}
		return err
	}, isRetryable)
	if err != nil {
		return fmt.Errorf("failed to connect realtime channel: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	prevConn, prevCancel, prevDone := c.conn, c.cancel, c.done
	c.conn, c.cancel, c.done, c.err = conn, cancel, done, nil
	c.mu.Unlock()

	if prevConn != nil {
		c.logger.Debug("Replacing existing realtime connection")
		_ = prevConn.Close(websocket.StatusNormalClosure, "reconnecting")
		prevCancel()
		<-prevDone
	}

	c.Presence.Reset()
	go c.readLoop(readCtx, conn, done)
	return nil
}

// Done is closed when the current realtime connection ends.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns why the last realtime connection ended.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.err = err
			}
			c.mu.Unlock()
			return
		}
		ev, err := realtime.Decode(frame)
		if err != nil {
			c.logger.WithError(err).Debug("Ignoring undecodable realtime frame")
			continue
		}
		c.apply(ev)
		if c.onEvent != nil {
			c.onEvent(ev)
		}
	}
}

func (c *Client) apply(ev realtime.Event) {
	now := time.Now()
	switch e := ev.(type) {
	case realtime.MessageReceive:
		var v models.MessageView
		if err := json.Unmarshal(e.Message, &v); err != nil || v.ID == "" {
			c.logger.WithError(err).Debug("Ignoring message:receive without a message")
			return
		}
		c.Conversation(e.SenderID).ApplyReceive(&v)
		c.Typing.Stop(e.SenderID)
	case realtime.MessageUpdate:
		var v models.MessageView
		if err := json.Unmarshal(e.Message, &v); err != nil || v.ID == "" {
			return
		}
		c.Conversation(c.counterparty(&v)).ApplyUpdate(&v)
	case realtime.MessageReaction:
		c.Conversation(e.UserID).ApplyReaction(e.MessageID, e.UserID, e.Reaction, e.Timestamp)
	case realtime.MessageSeen:
		c.Conversation(e.UserID).ApplySeen(e.MessageID, e.UserID, now)
	case realtime.MessageDelivered:
		c.Conversation(e.UserID).ApplyDelivered(e.MessageID, e.UserID, now)
	case realtime.Typing:
		if e.Stopped {
			c.Typing.Stop(e.SenderID)
		} else {
			c.Typing.Start(e.SenderID)
		}
	case realtime.Presence:
		c.Presence.Set(e.UserID, e.Online)
		if !e.Online {
			c.Typing.Stop(e.UserID)
		}
	}
}

// Emit sends a client event over the realtime channel.
func (c *Client) Emit(ctx context.Context, in realtime.Inbound) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	frame, err := realtime.EncodeInbound(in)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, frame)
}

// SendTyping tells receiverID that the user started or stopped typing.
func (c *Client) SendTyping(ctx context.Context, receiverID string, stopped bool) error {
	return c.Emit(ctx, realtime.TypingRequest{ReceiverID: receiverID, Stopped: stopped})
}

// Close ends the realtime connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	conn, cancel, done := c.conn, c.cancel, c.done
	c.conn, c.cancel = nil, nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close(websocket.StatusNormalClosure, "")
	cancel()
	if done != nil {
		<-done
	}
	return err
}

// Resync reconnects the realtime channel and reloads the first page of
// every cached conversation, recovering whatever was missed while offline.
func (c *Client) Resync(ctx context.Context) error {
	_ = c.Close()
	if err := c.Connect(ctx); err != nil {
		return err
	}
	var errs []error
	for _, peer := range c.peers() {
		if _, err := c.FetchConversation(ctx, peer, 1, 0); err != nil {
			errs = append(errs, fmt.Errorf("resync %s: %w", peer, err))
		}
	}
	return errors.Join(errs...)
}
