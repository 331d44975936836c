package models

import (
	"strings"
	"time"
)

// ReplyPreview summarizes the message a reply points at. Available is
// false when the original no longer exists.
type ReplyPreview struct {
	ID        string      `json:"_id"`
	Available bool        `json:"available"`
	SenderID  string      `json:"sender,omitempty"`
	Content   string      `json:"content,omitempty"`
	Type      MessageType `json:"messageType,omitempty"`
}

// MessageView is the wire form of a message with sender and receiver
// expanded. Other users' soft deletions are not exposed.
type MessageView struct {
	ID          string        `json:"_id"`
	Sender      UserSummary   `json:"sender"`
	Receiver    UserSummary   `json:"receiver"`
	Content     string        `json:"content"`
	Type        MessageType   `json:"messageType"`
	FileURL     string        `json:"fileUrl,omitempty"`
	FileName    string        `json:"fileName,omitempty"`
	FileSize    int64         `json:"fileSize,omitempty"`
	MimeType    string        `json:"mimeType,omitempty"`
	Status      MessageStatus `json:"status"`
	DeliveredTo []Receipt     `json:"deliveredTo"`
	ReadBy      []Receipt     `json:"readBy"`
	IsEdited    bool          `json:"isEdited"`
	EditHistory []EditEntry   `json:"editHistory"`
	ReplyTo     *ReplyPreview `json:"replyTo,omitempty"`
	Reactions   []Reaction    `json:"reactions"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// NewMessageView builds the wire form of m. users supplies display
// identities; unknown users are rendered with their id only. reply is the
// message m replies to, or nil when it is gone.
func NewMessageView(m *Message, users map[string]*User, reply *Message) *MessageView {
	v := &MessageView{
		ID:          m.ID,
		Sender:      summaryFor(users, m.SenderID),
		Receiver:    summaryFor(users, m.ReceiverID),
		Content:     m.Content,
		Type:        m.Type,
		FileURL:     m.FileURL,
		FileName:    m.FileName,
		FileSize:    m.FileSize,
		MimeType:    m.MimeType,
		Status:      m.Status,
		DeliveredTo: nonNil(m.DeliveredTo),
		ReadBy:      nonNil(m.ReadBy),
		IsEdited:    m.IsEdited,
		EditHistory: nonNil(m.EditHistory),
		Reactions:   nonNil(m.Reactions),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.ReplyTo != nil {
		v.ReplyTo = &ReplyPreview{ID: *m.ReplyTo}
		if reply != nil {
			v.ReplyTo.Available = true
			v.ReplyTo.SenderID = reply.SenderID
			v.ReplyTo.Content = reply.Content
			v.ReplyTo.Type = reply.Type
		}
	}
	return v
}

func summaryFor(users map[string]*User, id string) UserSummary {
	if u, ok := users[id]; ok && u != nil {
		return u.Summary()
	}
	return UserSummary{ID: id}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return cloneSlice(s)
}

// MediaTypeForMIME picks the message type for an uploaded file.
func MediaTypeForMIME(mime string) MessageType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return MessageTypeImage
	case strings.HasPrefix(mime, "video/"):
		return MessageTypeVideo
	case strings.HasPrefix(mime, "audio/"):
		return MessageTypeAudio
	}
	return MessageTypeFile
}
