package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"pingme/internal/constants"
	"pingme/internal/metrics"
	"pingme/internal/privacy"
	"pingme/internal/service"

	"github.com/sirupsen/logrus"
)

// ErrSelfAddressed is returned by Dispatch for events a user addresses to
// themselves.
var ErrSelfAddressed = errors.New("event addressed to its sender")

// PresenceRecorder persists the last known presence of a user.
type PresenceRecorder interface {
	SetUserPresence(ctx context.Context, userID string, online bool, at time.Time) error
}

type presenceUpdate struct {
	userID string
	online bool
	at     time.Time
}

// Hub is the registry of live connections. Each user id maps to a routing
// group holding every connection of that user. The hub also owns the
// ephemeral typing state.
type Hub struct {
	logger    *logrus.Logger
	recorder  PresenceRecorder
	typingTTL time.Duration
	now       func() time.Time

	// presenceMu serializes connection changes with the presence frames and
	// records they produce, so observers and the store see them in the same
	// order as the registry. It is always taken before mu.
	presenceMu sync.Mutex

	mu     sync.RWMutex
	groups map[string]map[*Peer]struct{}
	// typing maps sender -> receiver -> time of the last typing:start.
	typing map[string]map[string]time.Time
	closed bool

	presenceQ chan presenceUpdate
}

type HubOption func(*Hub)

// WithPresenceRecorder stores presence changes on the user record. Writes
// happen on a background worker started by Run and never block routing.
func WithPresenceRecorder(r PresenceRecorder) HubOption {
	return func(h *Hub) { h.recorder = r }
}

// WithTypingTTL sets how long a typing:start stays active without a refresh.
func WithTypingTTL(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.typingTTL = d
		}
	}
}

func WithHubClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

func NewHub(logger *logrus.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		logger:    logger,
		typingTTL: time.Duration(constants.DefaultTypingTTLSec) * time.Second,
		now:       time.Now,
		groups:    make(map[string]map[*Peer]struct{}),
		typing:    make(map[string]map[string]time.Time),
		presenceQ: make(chan presenceUpdate, 256),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds p to its user's routing group. The peer first receives
// presence:online for every user already connected. When p is the user's
// first connection every other user is told the user came online.
func (h *Hub) Register(p *Peer) bool {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		p.Close()
		return false
	}
	group, ok := h.groups[p.userID]
	if !ok {
		group = make(map[*Peer]struct{})
		h.groups[p.userID] = group
	}
	first := len(group) == 0
	group[p] = struct{}{}
	others := h.onlineLocked(p.userID)
	h.mu.Unlock()

	metrics.AddToGauge("realtime_connections", 1, nil, "Open realtime connections")
	h.logger.WithFields(logrus.Fields{
		service.LogFieldUserID:       privacy.MaskUserID(p.userID),
		service.LogFieldConnectionID: p.id,
		"first_connection":           first,
	}).Debug("Realtime peer registered")

	for _, id := range others {
		if frame, err := Encode(Presence{UserID: id, Online: true}); err == nil {
			p.enqueue(frame)
		}
	}
	if first {
		h.BroadcastExcept(p.userID, Presence{UserID: p.userID, Online: true})
		h.recordPresence(p.userID, true)
	}
	return true
}

// Unregister removes p. When it was the user's last connection, typing
// indicators the user left open are stopped and every other user is told
// the user went offline.
func (h *Hub) Unregister(p *Peer) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	h.mu.Lock()
	group := h.groups[p.userID]
	if _, ok := group[p]; !ok {
		h.mu.Unlock()
		p.Close()
		return
	}
	delete(group, p)
	last := len(group) == 0
	var stale []string
	if last {
		delete(h.groups, p.userID)
		for receiver := range h.typing[p.userID] {
			stale = append(stale, receiver)
		}
		delete(h.typing, p.userID)
	}
	h.mu.Unlock()

	p.Close()
	metrics.AddToGauge("realtime_connections", -1, nil, "Open realtime connections")
	h.logger.WithFields(logrus.Fields{
		service.LogFieldUserID:       privacy.MaskUserID(p.userID),
		service.LogFieldConnectionID: p.id,
		"last_connection":            last,
		"dropped_frames":             p.Dropped(),
	}).Debug("Realtime peer unregistered")

	if !last {
		return
	}
	sort.Strings(stale)
	for _, receiver := range stale {
		h.RouteToUser(receiver, Typing{SenderID: p.userID, Stopped: true})
	}
	h.BroadcastExcept(p.userID, Presence{UserID: p.userID, Online: false})
	h.recordPresence(p.userID, false)
}

// RouteToUser queues ev on every connection of userID and returns how many
// connections accepted it. Users without a live connection miss the event.
func (h *Hub) RouteToUser(userID string, ev Event) int {
	h.mu.RLock()
	peers := make([]*Peer, 0, len(h.groups[userID]))
	for p := range h.groups[userID] {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	return h.deliver(peers, ev)
}

// BroadcastExcept queues ev on every connection not owned by userID.
func (h *Hub) BroadcastExcept(userID string, ev Event) int {
	h.mu.RLock()
	var peers []*Peer
	for id, group := range h.groups {
		if id == userID {
			continue
		}
		for p := range group {
			peers = append(peers, p)
		}
	}
	h.mu.RUnlock()

	return h.deliver(peers, ev)
}

func (h *Hub) deliver(peers []*Peer, ev Event) int {
	kind := ev.Kind()
	if len(peers) == 0 {
		countEvent(kind, "no_route")
		return 0
	}
	frame, err := Encode(ev)
	if err != nil {
		h.logger.WithError(err).WithField(service.LogFieldEvent, string(kind)).Error("Failed to encode realtime event")
		return 0
	}

	delivered := 0
	for _, p := range peers {
		if !p.accepts(kind) {
			continue
		}
		if p.enqueue(frame) {
			delivered++
		} else {
			countEvent(kind, "dropped")
		}
	}
	if delivered > 0 {
		countEvent(kind, "queued")
	}
	return delivered
}

func countEvent(kind Kind, result string) {
	metrics.IncrementCounter("realtime_events_total", map[string]string{
		"event":  string(kind),
		"result": result,
	}, "Realtime events routed by outcome")
}

// Dispatch relays an inbound event from the authenticated user from.
// Identifiers are trusted; the durable API is where authorization happens.
func (h *Hub) Dispatch(from string, in Inbound) error {
	switch req := in.(type) {
	case SendRequest:
		if req.ReceiverID == from {
			return ErrSelfAddressed
		}
		h.RouteToUser(req.ReceiverID, MessageReceive{SenderID: from, Message: req.Message})
	case TypingRequest:
		if req.ReceiverID == from {
			return ErrSelfAddressed
		}
		h.trackTyping(from, req.ReceiverID, req.Stopped)
		h.RouteToUser(req.ReceiverID, Typing{SenderID: from, Stopped: req.Stopped})
	case ReactRequest:
		if req.ReceiverID == from {
			return ErrSelfAddressed
		}
		ts := req.Timestamp
		if ts.IsZero() {
			ts = h.now()
		}
		h.RouteToUser(req.ReceiverID, MessageReaction{
			MessageID: req.MessageID,
			UserID:    from,
			Reaction:  req.Reaction,
			Timestamp: ts,
		})
	case ReadRequest:
		if req.SenderID == from {
			return ErrSelfAddressed
		}
		h.RouteToUser(req.SenderID, MessageSeen{MessageID: req.MessageID, UserID: from})
	default:
		return ErrUnknownEvent
	}
	return nil
}

func (h *Hub) trackTyping(sender, receiver string, stopped bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if stopped {
		delete(h.typing[sender], receiver)
		if len(h.typing[sender]) == 0 {
			delete(h.typing, sender)
		}
		return
	}
	if h.typing[sender] == nil {
		h.typing[sender] = make(map[string]time.Time)
	}
	h.typing[sender][receiver] = h.now()
}

// IsTyping reports whether sender has an active typing indicator towards
// receiver.
func (h *Hub) IsTyping(sender, receiver string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.typing[sender][receiver]
	return ok
}

// SweepTyping stops typing indicators that were not refreshed within the
// typing TTL and returns how many it stopped.
func (h *Hub) SweepTyping() int {
	cutoff := h.now().Add(-h.typingTTL)
	type pair struct{ sender, receiver string }
	var expired []pair

	h.mu.Lock()
	for sender, receivers := range h.typing {
		for receiver, at := range receivers {
			if at.Before(cutoff) {
				expired = append(expired, pair{sender, receiver})
				delete(receivers, receiver)
			}
		}
		if len(receivers) == 0 {
			delete(h.typing, sender)
		}
	}
	h.mu.Unlock()

	for _, p := range expired {
		h.RouteToUser(p.receiver, Typing{SenderID: p.sender, Stopped: true})
	}
	return len(expired)
}

// OnlineUsers returns the ids of connected users, sorted.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onlineLocked("")
}

func (h *Hub) onlineLocked(except string) []string {
	ids := make([]string, 0, len(h.groups))
	for id := range h.groups {
		if id != except {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[userID]) > 0
}

// PeerCount returns the number of live connections of userID.
func (h *Hub) PeerCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[userID])
}

func (h *Hub) recordPresence(userID string, online bool) {
	if h.recorder == nil {
		return
	}
	select {
	case h.presenceQ <- presenceUpdate{userID: userID, online: online, at: h.now()}:
	default:
		h.logger.WithField(service.LogFieldUserID, privacy.MaskUserID(userID)).Warn("Presence queue full, dropping update")
	}
}

// Run sweeps typing indicators and persists presence until ctx is done,
// then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	interval := h.typingTTL / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Close()
			return
		case <-ticker.C:
			if n := h.SweepTyping(); n > 0 {
				h.logger.WithField(service.LogFieldCount, n).Debug("Expired typing indicators")
			}
		case u := <-h.presenceQ:
			h.persistPresence(ctx, u)
		}
	}
}

func (h *Hub) persistPresence(ctx context.Context, u presenceUpdate) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.recorder.SetUserPresence(ctx, u.userID, u.online, u.at); err != nil {
		h.logger.WithError(err).WithField(service.LogFieldUserID, privacy.MaskUserID(u.userID)).Warn("Failed to record presence")
	}
}

// Close disconnects every peer and refuses new registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var peers []*Peer
	for _, group := range h.groups {
		for p := range group {
			peers = append(peers, p)
		}
	}
	h.groups = make(map[string]map[*Peer]struct{})
	h.typing = make(map[string]map[string]time.Time)
	h.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
	metrics.SetGauge("realtime_connections", 0, nil, "Open realtime connections")
}
