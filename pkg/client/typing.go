package client

import (
	"sort"
	"sync"
	"time"

	"pingme/internal/constants"
)

// TypingTracker remembers which peers are typing. A typing:start marks the
// peer typing for a fixed window unless refreshed; typing:stop clears it.
type TypingTracker struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	until  map[string]time.Time
}

// NewTypingTracker uses the default 1.5s window when window is zero and
// the wall clock when now is nil.
func NewTypingTracker(window time.Duration, now func() time.Time) *TypingTracker {
	if window <= 0 {
		window = time.Duration(constants.DefaultTypingExpiryMs) * time.Millisecond
	}
	if now == nil {
		now = time.Now
	}
	return &TypingTracker{window: window, now: now, until: make(map[string]time.Time)}
}

func (t *TypingTracker) Start(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.until[userID] = t.now().Add(t.window)
}

func (t *TypingTracker) Stop(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.until, userID)
}

func (t *TypingTracker) IsTyping(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeLocked(userID)
}

// Typing returns the peers currently typing, sorted.
func (t *TypingTracker) Typing() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for id := range t.until {
		if t.activeLocked(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (t *TypingTracker) activeLocked(userID string) bool {
	until, ok := t.until[userID]
	if !ok {
		return false
	}
	if !t.now().Before(until) {
		delete(t.until, userID)
		return false
	}
	return true
}

// Presence is the client's view of which users are online, rebuilt from
// presence events after every connect.
type Presence struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func NewPresence() *Presence {
	return &Presence{online: make(map[string]struct{})}
}

func (p *Presence) Set(userID string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if online {
		p.online[userID] = struct{}{}
	} else {
		delete(p.online, userID)
	}
}

func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// Online returns the online user ids, sorted.
func (p *Presence) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset forgets everything, before a reconnect replays the snapshot.
func (p *Presence) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = make(map[string]struct{})
}
