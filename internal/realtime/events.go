package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind is the name of a realtime event on the wire.
type Kind string

const (
	KindMessageSend      Kind = "message:send"
	KindMessageReceive   Kind = "message:receive"
	KindTypingStart      Kind = "typing:start"
	KindTypingStop       Kind = "typing:stop"
	KindMessageReact     Kind = "message:react"
	KindMessageReaction  Kind = "message:reaction"
	KindMessageRead      Kind = "message:read"
	KindMessageSeen      Kind = "message:seen"
	KindMessageDelivered Kind = "message:delivered"
	KindMessageUpdate    Kind = "message:update"
	KindPresenceOnline   Kind = "presence:online"
	KindPresenceOffline  Kind = "presence:offline"
)

// Envelope is the JSON frame carried by the websocket.
type Envelope struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Event is a server to client event.
type Event interface {
	Kind() Kind
}

// MessageReceive delivers a message to its receiver.
type MessageReceive struct {
	SenderID string          `json:"senderId"`
	Message  json.RawMessage `json:"message"`
}

// Typing tells the receiver that SenderID started or stopped typing.
type Typing struct {
	SenderID string `json:"senderId"`
	Stopped  bool   `json:"-"`
}

// MessageReaction reports a reaction change. A nil Reaction means the
// reaction was removed.
type MessageReaction struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	Reaction  *string   `json:"reaction"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageSeen tells the sender that UserID read the message.
type MessageSeen struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// MessageDelivered tells the sender that the message reached UserID.
type MessageDelivered struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// MessageUpdate carries a message after an edit.
type MessageUpdate struct {
	Message json.RawMessage `json:"message"`
}

// Presence announces that UserID connected or disconnected.
type Presence struct {
	UserID string `json:"userId"`
	Online bool   `json:"-"`
}

func (MessageReceive) Kind() Kind   { return KindMessageReceive }
func (MessageReaction) Kind() Kind  { return KindMessageReaction }
func (MessageSeen) Kind() Kind      { return KindMessageSeen }
func (MessageDelivered) Kind() Kind { return KindMessageDelivered }
func (MessageUpdate) Kind() Kind    { return KindMessageUpdate }

func (t Typing) Kind() Kind {
	if t.Stopped {
		return KindTypingStop
	}
	return KindTypingStart
}

func (p Presence) Kind() Kind {
	if p.Online {
		return KindPresenceOnline
	}
	return KindPresenceOffline
}

// Encode renders ev as a websocket frame.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", ev.Kind(), err)
	}
	return json.Marshal(Envelope{Event: ev.Kind(), Data: data})
}

// Decode parses a server frame into its event. It is the client side of
// Encode.
func Decode(frame []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	var ev Event
	var err error
	switch env.Event {
	case KindMessageReceive:
		ev, err = decodeAs[MessageReceive](env.Data)
	case KindTypingStart, KindTypingStop:
		var t Typing
		t, err = decodeAs[Typing](env.Data)
		t.Stopped = env.Event == KindTypingStop
		ev = t
	case KindMessageReaction:
		ev, err = decodeAs[MessageReaction](env.Data)
	case KindMessageSeen:
		ev, err = decodeAs[MessageSeen](env.Data)
	case KindMessageDelivered:
		ev, err = decodeAs[MessageDelivered](env.Data)
	case KindMessageUpdate:
		ev, err = decodeAs[MessageUpdate](env.Data)
	case KindPresenceOnline, KindPresenceOffline:
		var p Presence
		p, err = decodeAs[Presence](env.Data)
		p.Online = env.Event == KindPresenceOnline
		ev = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// Inbound is a client to server event. The set of implementations is
// closed; Hub.Dispatch switches over all of them.
type Inbound interface {
	inbound()
}

// SendRequest asks the router to deliver an already persisted message.
type SendRequest struct {
	ReceiverID string          `json:"receiverId"`
	Message    json.RawMessage `json:"message"`
}

// TypingRequest reports that the sender started or stopped typing.
type TypingRequest struct {
	ReceiverID string `json:"receiverId"`
	Stopped    bool   `json:"-"`
}

// ReactRequest relays a reaction change. UserID is ignored by the router,
// which uses the authenticated user instead.
type ReactRequest struct {
	MessageID  string    `json:"messageId"`
	ReceiverID string    `json:"receiverId"`
	Reaction   *string   `json:"reaction"`
	UserID     string    `json:"userId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ReadRequest tells the original sender that their message was read.
type ReadRequest struct {
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
}

func (SendRequest) inbound()   {}
func (TypingRequest) inbound() {}
func (ReactRequest) inbound()  {}
func (ReadRequest) inbound()   {}

var (
	ErrUnknownEvent  = errors.New("unknown event")
	ErrMissingTarget = errors.New("event has no target user")
)

// DecodeInbound parses a client frame.
func DecodeInbound(frame []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch env.Event {
	case KindMessageSend:
		req, err := decodeAs[SendRequest](env.Data)
		if err != nil {
			return nil, err
		}
		if req.ReceiverID == "" {
			return nil, ErrMissingTarget
		}
		if len(req.Message) == 0 || string(req.Message) == "null" {
			return nil, fmt.Errorf("%s without a message", env.Event)
		}
		return req, nil
	case KindTypingStart, KindTypingStop:
		req, err := decodeAs[TypingRequest](env.Data)
		if err != nil {
			return nil, err
		}
		if req.ReceiverID == "" {
			return nil, ErrMissingTarget
		}
		req.Stopped = env.Event == KindTypingStop
		return req, nil
	case KindMessageReact:
		req, err := decodeAs[ReactRequest](env.Data)
		if err != nil {
			return nil, err
		}
		if req.ReceiverID == "" {
			return nil, ErrMissingTarget
		}
		if req.MessageID == "" {
			return nil, fmt.Errorf("%s without a message id", env.Event)
		}
		return req, nil
	case KindMessageRead:
		req, err := decodeAs[ReadRequest](env.Data)
		if err != nil {
			return nil, err
		}
		if req.SenderID == "" {
			return nil, ErrMissingTarget
		}
		if req.MessageID == "" {
			return nil, fmt.Errorf("%s without a message id", env.Event)
		}
		return req, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

// EncodeInbound renders a client event as a frame.
func EncodeInbound(in Inbound) ([]byte, error) {
	var kind Kind
	switch v := in.(type) {
	case SendRequest:
		kind = KindMessageSend
	case TypingRequest:
		kind = KindTypingStart
		if v.Stopped {
			kind = KindTypingStop
		}
	case ReactRequest:
		kind = KindMessageReact
	case ReadRequest:
		kind = KindMessageRead
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, in)
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: kind, Data: data})
}

func decodeAs[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, errors.New("event has no data")
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("malformed event data: %w", err)
	}
	return v, nil
}
