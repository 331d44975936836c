// Package chatsync pairs every durable message operation with the realtime
// event that tells the counterparty about it.
package chatsync

import (
	"context"
	"encoding/json"

	"pingme/internal/metrics"
	"pingme/internal/models"
	"pingme/internal/privacy"
	"pingme/internal/realtime"
	"pingme/internal/service"

	"github.com/sirupsen/logrus"
)

// Emitter routes a realtime event to every connection of a user.
type Emitter interface {
	RouteToUser(userID string, ev realtime.Event) int
}

// ConversationView is a conversation page in wire form.
type ConversationView struct {
	Messages   []*models.MessageView `json:"messages"`
	Pagination models.Pagination     `json:"pagination"`
}

// Coordinator runs the durable mutation first and emits the realtime event
// only once it succeeded. Emission never fails the operation.
type Coordinator struct {
	messages  service.MessageService
	presenter *service.Presenter
	emitter   Emitter
	logger    *logrus.Logger
}

func NewCoordinator(messages service.MessageService, presenter *service.Presenter, emitter Emitter, logger *logrus.Logger) *Coordinator {
	return &Coordinator{messages: messages, presenter: presenter, emitter: emitter, logger: logger}
}

func (c *Coordinator) Send(ctx context.Context, senderID, receiverID string, draft service.Draft) (*models.MessageView, error) {
	m, err := c.messages.Send(ctx, senderID, receiverID, draft)
	if err != nil {
		return nil, err
	}
	return c.announceNew(ctx, m), nil
}

func (c *Coordinator) Reply(ctx context.Context, userID, originalID string, draft service.Draft) (*models.MessageView, error) {
	m, err := c.messages.Reply(ctx, userID, originalID, draft)
	if err != nil {
		return nil, err
	}
	return c.announceNew(ctx, m), nil
}

func (c *Coordinator) announceNew(ctx context.Context, m *models.Message) *models.MessageView {
	view := c.present(ctx, m)
	if payload, ok := c.payload(view); ok {
		c.emit(m.ReceiverID, realtime.MessageReceive{SenderID: m.SenderID, Message: payload})
	}
	return view
}

func (c *Coordinator) Edit(ctx context.Context, messageID, editorID, content string) (*models.MessageView, error) {
	m, err := c.messages.Edit(ctx, messageID, editorID, content)
	if err != nil {
		return nil, err
	}
	view := c.present(ctx, m)
	if payload, ok := c.payload(view); ok {
		c.emit(m.ReceiverID, realtime.MessageUpdate{Message: payload})
	}
	return view, nil
}

func (c *Coordinator) AddReaction(ctx context.Context, messageID, userID, symbol string) (*models.MessageView, error) {
	m, changed, err := c.messages.AddReaction(ctx, messageID, userID, symbol)
	if err != nil {
		return nil, err
	}
	if changed {
		reaction := symbol
		c.emit(m.Counterparty(userID), realtime.MessageReaction{
			MessageID: m.ID,
			UserID:    userID,
			Reaction:  &reaction,
			Timestamp: m.UpdatedAt,
		})
	}
	return c.present(ctx, m), nil
}

func (c *Coordinator) RemoveReaction(ctx context.Context, messageID, userID string) (*models.MessageView, error) {
	m, changed, err := c.messages.RemoveReaction(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if changed {
		c.emit(m.Counterparty(userID), realtime.MessageReaction{
			MessageID: m.ID,
			UserID:    userID,
			Timestamp: m.UpdatedAt,
		})
	}
	return c.present(ctx, m), nil
}

func (c *Coordinator) MarkDelivered(ctx context.Context, messageID, userID string) (*models.MessageView, error) {
	m, changed, err := c.messages.MarkDelivered(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if changed {
		c.emit(m.SenderID, realtime.MessageDelivered{MessageID: m.ID, UserID: userID})
	}
	return c.present(ctx, m), nil
}

func (c *Coordinator) MarkRead(ctx context.Context, messageID, userID string) (*models.MessageView, error) {
	m, changed, err := c.messages.MarkRead(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if changed {
		c.emit(m.SenderID, realtime.MessageSeen{MessageID: m.ID, UserID: userID})
	}
	return c.present(ctx, m), nil
}

// SoftDelete hides the message for userID only, so nobody else is told.
func (c *Coordinator) SoftDelete(ctx context.Context, messageID, userID string) (*models.MessageView, error) {
	m, err := c.messages.SoftDelete(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	return c.present(ctx, m), nil
}

func (c *Coordinator) GetMessage(ctx context.Context, messageID, viewerID string) (*models.MessageView, error) {
	m, err := c.messages.GetMessage(ctx, messageID, viewerID)
	if err != nil {
		return nil, err
	}
	return c.present(ctx, m), nil
}

// Conversation returns a page and tells the senders of the messages the
// fetch delivered.
func (c *Coordinator) Conversation(ctx context.Context, viewerID, otherID string, page, pageSize int) (*ConversationView, error) {
	res, err := c.messages.Conversation(ctx, viewerID, otherID, page, pageSize)
	if err != nil {
		return nil, err
	}
	for _, m := range res.Delivered {
		c.emit(m.SenderID, realtime.MessageDelivered{MessageID: m.ID, UserID: viewerID})
	}

	views, err := c.presenter.Present(ctx, res.Page.Messages...)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to expand conversation participants")
		views = make([]*models.MessageView, len(res.Page.Messages))
		for i, m := range res.Page.Messages {
			views[i] = models.NewMessageView(m, nil, nil)
		}
	}
	return &ConversationView{Messages: views, Pagination: res.Page.Pagination}, nil
}

func (c *Coordinator) UnreadCount(ctx context.Context, userID string) (int, error) {
	return c.messages.UnreadCount(ctx, userID)
}

// present expands m, falling back to bare ids when the participants cannot
// be loaded. The mutation has already happened at this point.
func (c *Coordinator) present(ctx context.Context, m *models.Message) *models.MessageView {
	view, err := c.presenter.PresentOne(ctx, m)
	if err != nil {
		c.logger.WithError(err).WithField(service.LogFieldMessageID, privacy.MaskMessageID(m.ID)).
			Warn("Failed to expand message participants")
		return models.NewMessageView(m, nil, nil)
	}
	return view
}

func (c *Coordinator) payload(view *models.MessageView) (json.RawMessage, bool) {
	data, err := json.Marshal(view)
	if err != nil {
		c.logger.WithError(err).Error("Failed to encode message for realtime delivery")
		return nil, false
	}
	return data, true
}

func (c *Coordinator) emit(userID string, ev realtime.Event) {
	routed := c.emitter.RouteToUser(userID, ev)
	result := "routed"
	if routed == 0 {
		result = "offline"
	}
	metrics.IncrementCounter("sync_emissions_total", map[string]string{
		"event":  string(ev.Kind()),
		"result": result,
	}, "Realtime emissions after durable writes")
	c.logger.WithFields(logrus.Fields{
		service.LogFieldEvent:  string(ev.Kind()),
		service.LogFieldUserID: privacy.MaskUserID(userID),
		service.LogFieldCount:  routed,
	}).Debug("Emitted realtime event")
}
