package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTypingTracker_Expires(t *testing.T) {
	clock := &fakeClock{now: base}
	tr := NewTypingTracker(0, clock.Now)

	tr.Start("bob")
	assert.True(t, tr.IsTyping("bob"))

	clock.Advance(1400 * time.Millisecond)
	assert.True(t, tr.IsTyping("bob"))

	clock.Advance(100 * time.Millisecond)
	assert.False(t, tr.IsTyping("bob"), "default window is 1.5s")
}

func TestTypingTracker_RefreshExtends(t *testing.T) {
	clock := &fakeClock{now: base}
	tr := NewTypingTracker(time.Second, clock.Now)

	tr.Start("bob")
	clock.Advance(800 * time.Millisecond)
	tr.Start("bob")
	clock.Advance(800 * time.Millisecond)
	assert.True(t, tr.IsTyping("bob"))

	tr.Stop("bob")
	assert.False(t, tr.IsTyping("bob"))
}

func TestTypingTracker_Typing(t *testing.T) {
	clock := &fakeClock{now: base}
	tr := NewTypingTracker(time.Second, clock.Now)

	tr.Start("carol")
	clock.Advance(600 * time.Millisecond)
	tr.Start("bob")
	assert.Equal(t, []string{"bob", "carol"}, tr.Typing())

	clock.Advance(600 * time.Millisecond)
	assert.Equal(t, []string{"bob"}, tr.Typing())
}

func TestPresence(t *testing.T) {
	p := NewPresence()
	p.Set("bob", true)
	p.Set("alice", true)
	assert.Equal(t, []string{"alice", "bob"}, p.Online())
	assert.True(t, p.IsOnline("bob"))

	p.Set("bob", false)
	assert.False(t, p.IsOnline("bob"))
	assert.Equal(t, []string{"alice"}, p.Online())

	p.Reset()
	assert.Empty(t, p.Online())
}
