package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageViewExpandsUsers(t *testing.T) {
	now := time.Now().UTC()
	m := &Message{
		ID:         "m1",
		SenderID:   "alice",
		ReceiverID: "bob",
		Content:    "hi",
		Type:       MessageTypeText,
		Status:     MessageStatusSent,
		DeletedFor: []Receipt{{UserID: "bob", At: now}},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	users := map[string]*User{"alice": {ID: "alice", Username: "alice", FirstName: "Alice"}}

	v := NewMessageView(m, users, nil)

	assert.Equal(t, "Alice", v.Sender.FirstName)
	assert.Equal(t, UserSummary{ID: "bob"}, v.Receiver)
	assert.NotNil(t, v.DeliveredTo)
	assert.NotNil(t, v.ReadBy)
	assert.NotNil(t, v.Reactions)
	assert.NotNil(t, v.EditHistory)
	assert.Nil(t, v.ReplyTo)

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "deletedFor")
	assert.Contains(t, string(data), `"deliveredTo":[]`)
}

func TestNewMessageViewReplyPreview(t *testing.T) {
	origID := "orig"
	m := &Message{ID: "m2", SenderID: "bob", ReceiverID: "alice", ReplyTo: &origID}

	gone := NewMessageView(m, nil, nil)
	require.NotNil(t, gone.ReplyTo)
	assert.Equal(t, "orig", gone.ReplyTo.ID)
	assert.False(t, gone.ReplyTo.Available)
	assert.Empty(t, gone.ReplyTo.Content)

	orig := &Message{ID: "orig", SenderID: "alice", Content: "question", Type: MessageTypeText}
	present := NewMessageView(m, nil, orig)
	require.NotNil(t, present.ReplyTo)
	assert.True(t, present.ReplyTo.Available)
	assert.Equal(t, "alice", present.ReplyTo.SenderID)
	assert.Equal(t, "question", present.ReplyTo.Content)
}

func TestNewMessageViewCopiesSlices(t *testing.T) {
	m := &Message{ID: "m3", Reactions: []Reaction{{UserID: "bob", Symbol: ReactionWow}}}
	v := NewMessageView(m, nil, nil)
	v.Reactions[0].Symbol = ReactionSad
	assert.Equal(t, ReactionWow, m.Reactions[0].Symbol)
}

func TestMediaTypeForMIME(t *testing.T) {
	assert.Equal(t, MessageTypeImage, MediaTypeForMIME("image/png"))
	assert.Equal(t, MessageTypeVideo, MediaTypeForMIME("video/mp4"))
	assert.Equal(t, MessageTypeAudio, MediaTypeForMIME("audio/ogg"))
	assert.Equal(t, MessageTypeFile, MediaTypeForMIME("application/pdf"))
	assert.Equal(t, MessageTypeFile, MediaTypeForMIME(""))
}

func TestUserSummary(t *testing.T) {
	u := &User{ID: "alice", Username: "alice", FirstName: "Alice", IsOnline: true}
	assert.Equal(t, UserSummary{ID: "alice", Username: "alice", FirstName: "Alice"}, u.Summary())
	assert.Equal(t, UserSummary{}, (*User)(nil).Summary())
}
