package client

import (
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"pingme/internal/models"
)

// Item is one rendered entry of a conversation. Pending items are local
// optimistic sends that the server has not confirmed yet.
type Item struct {
	Message *models.MessageView
	Pending bool
	// Err is set on a pending item whose send failed.
	Err error
}

type pendingSend struct {
	tempID string
	view   *models.MessageView
	err    error
}

// ErrUnknownPending is returned when a temporary id is not in the overlay.
var ErrUnknownPending = errors.New("unknown pending message")

// Cache holds one conversation on the client. Confirmed messages live in a
// base layer keyed by id and kept in (CreatedAt, ID) order. Optimistic sends
// live in a pending overlay keyed by a temporary id and render after the
// base. A message id is never present twice.
type Cache struct {
	mu      sync.RWMutex
	byID    map[string]*models.MessageView
	order   []string
	pending []*pendingSend
	seq     int
	now     func() time.Time
}

func NewCache() *Cache {
	return &Cache{
		byID: make(map[string]*models.MessageView),
		now:  time.Now,
	}
}

// Messages renders the base layer followed by the pending overlay.
func (c *Cache) Messages() []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()

	items := make([]Item, 0, len(c.order)+len(c.pending))
	for _, id := range c.order {
		items = append(items, Item{Message: cloneView(c.byID[id])})
	}
	for _, p := range c.pending {
		items = append(items, Item{Message: cloneView(p.view), Pending: true, Err: p.err})
	}
	return items
}

// Get returns a confirmed message by id.
func (c *Cache) Get(id string) (*models.MessageView, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.byID[id]
	return cloneView(v), ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// MergePage folds a REST page into the base layer. Known ids are replaced,
// unknown ids are inserted in order.
func (c *Cache) MergePage(msgs []*models.MessageView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		c.upsertLocked(m)
	}
}

// ApplyReceive inserts a message pushed over the realtime channel. It
// reports false when the id is already cached.
func (c *Cache) ApplyReceive(m *models.MessageView) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[m.ID]; ok {
		return false
	}
	c.insertLocked(cloneView(m))
	return true
}

// ApplyUpdate replaces a cached message with a newer version of it. It
// reports false when the message is not cached.
func (c *Cache) ApplyUpdate(m *models.MessageView) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[m.ID]; !ok {
		return false
	}
	c.upsertLocked(m)
	return true
}

func (c *Cache) upsertLocked(m *models.MessageView) {
	next := cloneView(m)
	if cur, ok := c.byID[m.ID]; ok {
		if cur.Status.Rank() > next.Status.Rank() {
			next.Status = cur.Status
		}
		if !cur.CreatedAt.Equal(next.CreatedAt) {
			c.removeLocked(m.ID)
			c.insertLocked(next)
			return
		}
		c.byID[m.ID] = next
		return
	}
	c.insertLocked(next)
}

func (c *Cache) insertLocked(m *models.MessageView) {
	c.byID[m.ID] = m
	i, _ := slices.BinarySearchFunc(c.order, m, func(id string, target *models.MessageView) int {
		return compareOrder(c.byID[id], target)
	})
	c.order = slices.Insert(c.order, i, m.ID)
}

func compareOrder(a, b *models.MessageView) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Remove drops a message from the base layer, for example after the user
// deleted it for themselves.
func (c *Cache) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(id)
}

func (c *Cache) removeLocked(id string) bool {
	if _, ok := c.byID[id]; !ok {
		return false
	}
	delete(c.byID, id)
	c.order = slices.DeleteFunc(c.order, func(s string) bool { return s == id })
	return true
}

// AddPending adds an optimistic send and returns its temporary id.
func (c *Cache) AddPending(sender, receiver models.UserSummary, content string, typ models.MessageType) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	tempID := "pending-" + strconv.Itoa(c.seq)
	now := c.now()
	c.pending = append(c.pending, &pendingSend{
		tempID: tempID,
		view: &models.MessageView{
			ID:          tempID,
			Sender:      sender,
			Receiver:    receiver,
			Content:     content,
			Type:        typ,
			Status:      models.MessageStatusSent,
			DeliveredTo: []models.Receipt{},
			ReadBy:      []models.Receipt{},
			EditHistory: []models.EditEntry{},
			Reactions:   []models.Reaction{},
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	})
	return tempID
}

// Confirm replaces a pending send with the server's message. When the
// realtime channel already delivered the id, the pending entry is dropped
// without adding a second copy.
func (c *Cache) Confirm(tempID string, m *models.MessageView) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.pendingIndexLocked(tempID)
	if i < 0 {
		return ErrUnknownPending
	}
	c.pending = slices.Delete(c.pending, i, i+1)
	c.upsertLocked(m)
	return nil
}

// Fail marks a pending send as failed. It stays in the overlay so the user
// can retry or discard it.
func (c *Cache) Fail(tempID string, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.pendingIndexLocked(tempID)
	if i < 0 {
		return ErrUnknownPending
	}
	c.pending[i].err = err
	c.pending[i].view.Status = models.MessageStatusFailed
	return nil
}

// Discard drops a pending send.
func (c *Cache) Discard(tempID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.pendingIndexLocked(tempID)
	if i < 0 {
		return false
	}
	c.pending = slices.Delete(c.pending, i, i+1)
	return true
}

func (c *Cache) pendingIndexLocked(tempID string) int {
	return slices.IndexFunc(c.pending, func(p *pendingSend) bool { return p.tempID == tempID })
}

// ApplyReaction sets or, with a nil symbol, clears the reaction userID left
// on a cached message.
func (c *Cache) ApplyReaction(messageID, userID string, symbol *string, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.byID[messageID]
	if !ok {
		return false
	}
	reactions := slices.DeleteFunc(slices.Clone(m.Reactions), func(r models.Reaction) bool { return r.UserID == userID })
	if symbol != nil {
		reactions = append(reactions, models.Reaction{UserID: userID, Symbol: *symbol, CreatedAt: at})
	}
	m.Reactions = reactions
	return true
}

// ApplyDelivered records that userID received the message.
func (c *Cache) ApplyDelivered(messageID, userID string, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.byID[messageID]
	if !ok {
		return false
	}
	m.DeliveredTo = withReceipt(m.DeliveredTo, userID, at)
	advance(m, models.MessageStatusDelivered)
	return true
}

// ApplySeen records that userID read the message. Reading implies delivery.
func (c *Cache) ApplySeen(messageID, userID string, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.byID[messageID]
	if !ok {
		return false
	}
	m.DeliveredTo = withReceipt(m.DeliveredTo, userID, at)
	m.ReadBy = withReceipt(m.ReadBy, userID, at)
	advance(m, models.MessageStatusSeen)
	return true
}

func advance(m *models.MessageView, to models.MessageStatus) {
	if m.Status == models.MessageStatusFailed || m.Status.Rank() >= to.Rank() {
		return
	}
	m.Status = to
}

func withReceipt(receipts []models.Receipt, userID string, at time.Time) []models.Receipt {
	for _, r := range receipts {
		if r.UserID == userID {
			return receipts
		}
	}
	return append(slices.Clone(receipts), models.Receipt{UserID: userID, At: at})
}

// cloneView copies v so cached entries never share slices with callers.
func cloneView(v *models.MessageView) *models.MessageView {
	if v == nil {
		return nil
	}
	c := *v
	c.DeliveredTo = slices.Clone(v.DeliveredTo)
	c.ReadBy = slices.Clone(v.ReadBy)
	c.EditHistory = slices.Clone(v.EditHistory)
	c.Reactions = slices.Clone(v.Reactions)
	if v.ReplyTo != nil {
		r := *v.ReplyTo
		c.ReplyTo = &r
	}
	return &c
}
