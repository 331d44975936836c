package service

import (
	"context"

	"pingme/internal/models"
)

// Presenter expands messages into their wire form.
type Presenter struct {
	messages MessageStore
	users    UserStore
}

func NewPresenter(messages MessageStore, users UserStore) *Presenter {
	return &Presenter{messages: messages, users: users}
}

// Present loads the participants and reply targets of msgs in one pass and
// returns their views in the same order.
func (p *Presenter) Present(ctx context.Context, msgs ...*models.Message) ([]*models.MessageView, error) {
	ids := make([]string, 0, len(msgs)*2)
	replies := make(map[string]*models.Message)
	for _, m := range msgs {
		ids = append(ids, m.SenderID, m.ReceiverID)
		if m.ReplyTo != nil {
			replies[*m.ReplyTo] = nil
		}
	}

	users, err := p.users.GetUsers(ctx, ids)
	if err != nil {
		return nil, storeError("load users", err)
	}
	for id := range replies {
		original, err := p.messages.GetMessage(ctx, id)
		if err != nil {
			return nil, storeError("load reply target", err)
		}
		replies[id] = original
	}

	views := make([]*models.MessageView, len(msgs))
	for i, m := range msgs {
		var reply *models.Message
		if m.ReplyTo != nil {
			reply = replies[*m.ReplyTo]
		}
		views[i] = models.NewMessageView(m, users, reply)
	}
	return views, nil
}

// PresentOne is Present for a single message.
func (p *Presenter) PresentOne(ctx context.Context, m *models.Message) (*models.MessageView, error) {
	views, err := p.Present(ctx, m)
	if err != nil {
		return nil, err
	}
	return views[0], nil
}
