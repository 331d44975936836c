package models

import (
	"time"
)

// MessageType is the content kind of a message. It never changes after
// creation.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeAudio MessageType = "audio"
	MessageTypeFile  MessageType = "file"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeFile:
		return true
	}
	return false
}

// IsMedia reports whether the message content is an upload URL.
func (t MessageType) IsMedia() bool {
	return t.Valid() && t != MessageTypeText
}

// MessageStatus is the sender-facing lifecycle status of a message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusSeen      MessageStatus = "seen"
	MessageStatusFailed    MessageStatus = "failed"
)

// Rank orders statuses along the sent -> delivered -> seen progression.
// Failed ranks above sent so nothing can move a failed message back.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusSent:
		return 0
	case MessageStatusDelivered:
		return 1
	case MessageStatusSeen:
		return 2
	case MessageStatusFailed:
		return 3
	}
	return -1
}

func (s MessageStatus) Valid() bool {
	return s.Rank() >= 0
}

// Receipt records that a user reached a per-message state (delivered,
// read, deleted for them) at a point in time.
type Receipt struct {
	UserID string    `json:"user"`
	At     time.Time `json:"at"`
}

// EditEntry keeps the content a message had before an edit.
type EditEntry struct {
	Content  string    `json:"content"`
	EditedAt time.Time `json:"editedAt"`
	EditedBy string    `json:"editedBy"`
}

type Reaction struct {
	UserID    string    `json:"user"`
	Symbol    string    `json:"reaction"`
	CreatedAt time.Time `json:"createdAt"`
}

// Reaction symbols accepted by the service.
const (
	ReactionHeart    = "❤️"
	ReactionThumbsUp = "👍"
	ReactionThumbsDn = "👎"
	ReactionLaugh    = "😄"
	ReactionSad      = "😢"
	ReactionWow      = "😮"
)

var reactionPalette = map[string]struct{}{
	ReactionHeart:    {},
	ReactionThumbsUp: {},
	ReactionThumbsDn: {},
	ReactionLaugh:    {},
	ReactionSad:      {},
	ReactionWow:      {},
}

// IsValidReaction reports whether symbol belongs to the reaction palette.
func IsValidReaction(symbol string) bool {
	_, ok := reactionPalette[symbol]
	return ok
}

// ReactionPalette returns the accepted symbols in display order.
func ReactionPalette() []string {
	return []string{ReactionHeart, ReactionThumbsUp, ReactionThumbsDn, ReactionLaugh, ReactionSad, ReactionWow}
}

// Message is a single one-to-one message with its per-user sub-state.
type Message struct {
	ID          string        `json:"_id"`
	SenderID    string        `json:"sender"`
	ReceiverID  string        `json:"receiver"`
	Content     string        `json:"content"`
	Type        MessageType   `json:"messageType"`
	FileURL     string        `json:"fileUrl,omitempty"`
	FileName    string        `json:"fileName,omitempty"`
	FileSize    int64         `json:"fileSize,omitempty"`
	MimeType    string        `json:"mimeType,omitempty"`
	Status      MessageStatus `json:"status"`
	DeliveredTo []Receipt     `json:"deliveredTo"`
	ReadBy      []Receipt     `json:"readBy"`
	DeletedFor  []Receipt     `json:"deletedFor"`
	IsEdited    bool          `json:"isEdited"`
	EditHistory []EditEntry   `json:"editHistory"`
	ReplyTo     *string       `json:"replyTo,omitempty"`
	Reactions   []Reaction    `json:"reactions"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// IsParticipant reports whether userID is the sender or the receiver.
func (m *Message) IsParticipant(userID string) bool {
	return userID == m.SenderID || userID == m.ReceiverID
}

// Counterparty returns the participant that is not userID.
func (m *Message) Counterparty(userID string) string {
	if userID == m.SenderID {
		return m.ReceiverID
	}
	return m.SenderID
}

func (m *Message) DeliveredToUser(userID string) bool {
	return hasReceipt(m.DeliveredTo, userID)
}

func (m *Message) ReadByUser(userID string) bool {
	return hasReceipt(m.ReadBy, userID)
}

func (m *Message) DeletedForUser(userID string) bool {
	return hasReceipt(m.DeletedFor, userID)
}

// ReactionBy returns the reaction userID left on the message, if any.
func (m *Message) ReactionBy(userID string) (Reaction, bool) {
	for _, r := range m.Reactions {
		if r.UserID == userID {
			return r, true
		}
	}
	return Reaction{}, false
}

// Clone returns a deep copy so callers can mutate without sharing slices.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.DeliveredTo = cloneSlice(m.DeliveredTo)
	c.ReadBy = cloneSlice(m.ReadBy)
	c.DeletedFor = cloneSlice(m.DeletedFor)
	c.EditHistory = cloneSlice(m.EditHistory)
	c.Reactions = cloneSlice(m.Reactions)
	if m.ReplyTo != nil {
		id := *m.ReplyTo
		c.ReplyTo = &id
	}
	return &c
}

// cloneSlice copies s, keeping the nil/empty distinction.
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

func hasReceipt(receipts []Receipt, userID string) bool {
	for _, r := range receipts {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// Pagination describes where a conversation page sits in the full history.
type Pagination struct {
	CurrentPage   int  `json:"currentPage"`
	TotalPages    int  `json:"totalPages"`
	TotalMessages int  `json:"totalMessages"`
	HasMore       bool `json:"hasMore"`
}

// ConversationPage is one page of a conversation in chronological order.
type ConversationPage struct {
	Messages   []*Message `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

// NewPagination computes page metadata for total messages split into
// pages of pageSize.
func NewPagination(page, pageSize, total int) Pagination {
	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return Pagination{
		CurrentPage:   page,
		TotalPages:    totalPages,
		TotalMessages: total,
		HasMore:       page*pageSize < total,
	}
}
