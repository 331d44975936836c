package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageStatusRank(t *testing.T) {
	assert.Less(t, MessageStatusSent.Rank(), MessageStatusDelivered.Rank())
	assert.Less(t, MessageStatusDelivered.Rank(), MessageStatusSeen.Rank())
	assert.Less(t, MessageStatusSeen.Rank(), MessageStatusFailed.Rank())
	assert.False(t, MessageStatus("bogus").Valid())
	assert.True(t, MessageStatusFailed.Valid())
}

func TestMessageTypeKinds(t *testing.T) {
	assert.True(t, MessageTypeText.Valid())
	assert.False(t, MessageTypeText.IsMedia())
	for _, mt := range []MessageType{MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeFile} {
		assert.True(t, mt.IsMedia(), mt)
	}
	assert.False(t, MessageType("sticker").Valid())
	assert.False(t, MessageType("sticker").IsMedia())
}

func TestMessageParticipants(t *testing.T) {
	m := &Message{SenderID: "alice", ReceiverID: "bob"}

	assert.True(t, m.IsParticipant("alice"))
	assert.True(t, m.IsParticipant("bob"))
	assert.False(t, m.IsParticipant("carol"))
	assert.Equal(t, "bob", m.Counterparty("alice"))
	assert.Equal(t, "alice", m.Counterparty("bob"))
}

func TestMessageReceiptsAndReactions(t *testing.T) {
	now := time.Now()
	m := &Message{
		SenderID:    "alice",
		ReceiverID:  "bob",
		DeliveredTo: []Receipt{{UserID: "bob", At: now}},
		DeletedFor:  []Receipt{{UserID: "alice", At: now}},
		Reactions:   []Reaction{{UserID: "bob", Symbol: ReactionLaugh, CreatedAt: now}},
	}

	assert.True(t, m.DeliveredToUser("bob"))
	assert.False(t, m.ReadByUser("bob"))
	assert.True(t, m.DeletedForUser("alice"))
	assert.False(t, m.DeletedForUser("bob"))

	r, ok := m.ReactionBy("bob")
	require.True(t, ok)
	assert.Equal(t, ReactionLaugh, r.Symbol)
	_, ok = m.ReactionBy("alice")
	assert.False(t, ok)
}

func TestMessageCloneIsDeep(t *testing.T) {
	reply := "orig"
	m := &Message{
		ID:          "m1",
		DeliveredTo: []Receipt{{UserID: "bob"}},
		Reactions:   []Reaction{{UserID: "bob", Symbol: ReactionHeart}},
		ReplyTo:     &reply,
	}

	c := m.Clone()
	c.DeliveredTo[0].UserID = "carol"
	c.Reactions = append(c.Reactions, Reaction{UserID: "alice"})
	*c.ReplyTo = "other"

	assert.Equal(t, "bob", m.DeliveredTo[0].UserID)
	assert.Len(t, m.Reactions, 1)
	assert.Equal(t, "orig", *m.ReplyTo)
	assert.Nil(t, m.ReadBy)
	assert.Nil(t, c.ReadBy)
	assert.Nil(t, (*Message)(nil).Clone())
}

func TestReactionPalette(t *testing.T) {
	for _, symbol := range ReactionPalette() {
		assert.True(t, IsValidReaction(symbol), symbol)
	}
	assert.False(t, IsValidReaction("🦄"))
	assert.False(t, IsValidReaction(""))
}

func TestNewPagination(t *testing.T) {
	tests := []struct {
		name              string
		page, size, total int
		want              Pagination
	}{
		{"empty", 1, 50, 0, Pagination{CurrentPage: 1, TotalPages: 0, TotalMessages: 0, HasMore: false}},
		{"single page", 1, 50, 10, Pagination{CurrentPage: 1, TotalPages: 1, TotalMessages: 10, HasMore: false}},
		{"first of three", 1, 10, 25, Pagination{CurrentPage: 1, TotalPages: 3, TotalMessages: 25, HasMore: true}},
		{"last page exact", 3, 10, 30, Pagination{CurrentPage: 3, TotalPages: 3, TotalMessages: 30, HasMore: false}},
		{"past the end", 5, 10, 30, Pagination{CurrentPage: 5, TotalPages: 3, TotalMessages: 30, HasMore: false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewPagination(tt.page, tt.size, tt.total))
		})
	}
}
