package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-intranet-chat/internal/types"
)

// Client event names.
const (
	EventJoinRoom    = "join_room"
	EventJoinChat    = "join_chat"
	EventLeaveChat   = "leave_chat"
	EventTyping      = "typing"
	EventStopTyping  = "stop_typing"
	EventSendMessage = "send_message"
	EventAddReaction = "add_reaction"
)

// Server event names.
const (
	EventReceiveMessage = "receive_message"
	EventReactionUpdate = "message_reaction_update"
	EventNotification   = "notification"
	EventError          = "error"
)

const NotificationChatMessage = "chat_message"

const (
	errInvalidMessage       = "invalid message format"
	errUnknownEvent         = "unknown event"
	errUnauthenticated      = "authentication required"
	errConversationRequired = "conversationId is required"
	errEmptyMessage         = "message must have content or attachments"
	errSendFailed           = "message failed to send"
	errReactionInvalid      = "messageId and emoji are required"
	errMessageNotFound      = "message not found"
	errReactionFailed       = "failed to update reaction"
	errJoinFailed           = "failed to join conversation"
	errInternal             = "internal server error"
)

var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownEvent   = errors.New("unknown event")
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ClientEvent is implemented by every event a client may send. The set is
// closed; the dispatcher switches over exactly these types.
type ClientEvent interface {
	clientEvent()
}

type JoinRoom struct {
	UserId string `json:"userId"`
}

type JoinChat struct {
	ConversationId string `json:"conversationId"`
}

type LeaveChat struct {
	ConversationId string `json:"conversationId"`
}

type Typing struct {
	ConversationId string `json:"conversationId"`
	Username       string `json:"username,omitempty"`
}

type StopTyping struct {
	ConversationId string `json:"conversationId"`
}

// SendMessage carries no sender; the sender is always the session's user.
type SendMessage struct {
	ConversationId string   `json:"conversationId"`
	Content        string   `json:"content,omitempty"`
	Attachments    []string `json:"attachments,omitempty"`
}

type AddReaction struct {
	MessageId string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

func (JoinRoom) clientEvent()    {}
func (JoinChat) clientEvent()    {}
func (LeaveChat) clientEvent()   {}
func (Typing) clientEvent()      {}
func (StopTyping) clientEvent()  {}
func (SendMessage) clientEvent() {}
func (AddReaction) clientEvent() {}

// join_room, join_chat and leave_chat may carry the bare id instead of an
// object.
func (e *JoinRoom) UnmarshalJSON(b []byte) error {
	type alias JoinRoom
	return unmarshalIdOrObject(b, &e.UserId, (*alias)(e))
}

func (e *JoinChat) UnmarshalJSON(b []byte) error {
	type alias JoinChat
	return unmarshalIdOrObject(b, &e.ConversationId, (*alias)(e))
}

func (e *LeaveChat) UnmarshalJSON(b []byte) error {
	type alias LeaveChat
	return unmarshalIdOrObject(b, &e.ConversationId, (*alias)(e))
}

func unmarshalIdOrObject(b []byte, id *string, obj any) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, id)
	}
	return json.Unmarshal(b, obj)
}

func decodeClientEvent(raw []byte) (ClientEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var ev ClientEvent
	switch env.Event {
	case EventJoinRoom:
		ev = &JoinRoom{}
	case EventJoinChat:
		ev = &JoinChat{}
	case EventLeaveChat:
		ev = &LeaveChat{}
	case EventTyping:
		ev = &Typing{}
	case EventStopTyping:
		ev = &StopTyping{}
	case EventSendMessage:
		ev = &SendMessage{}
	case EventAddReaction:
		ev = &AddReaction{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Event, err)
		}
	}

	switch ev := ev.(type) {
	case *JoinRoom:
		return *ev, nil
	case *JoinChat:
		return *ev, nil
	case *LeaveChat:
		return *ev, nil
	case *Typing:
		return *ev, nil
	case *StopTyping:
		return *ev, nil
	case *SendMessage:
		return *ev, nil
	case *AddReaction:
		return *ev, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

type ServerMessage struct {
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type NotificationData struct {
	ConversationId string `json:"conversationId"`
	MessageId      string `json:"messageId"`
}

type NotificationPayload struct {
	Type    string           `json:"type"`
	Message string           `json:"message"`
	Data    NotificationData `json:"data"`
}

type ReactionUpdatePayload struct {
	MessageId string           `json:"messageId"`
	Reactions []types.Reaction `json:"reactions"`
}

type TypingPayload struct {
	UserId   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

func newServerMessage(event string, data any) *ServerMessage {
	return &ServerMessage{
		Event:     event,
		Data:      data,
		Timestamp: Now(),
	}
}

func ErrorEvent(message string) *ServerMessage {
	return newServerMessage(EventError, ErrorPayload{Message: message})
}

func ReceiveMessageEvent(msg types.Message) *ServerMessage {
	return newServerMessage(EventReceiveMessage, msg)
}

func NotificationEvent(preview, conversationId, messageId string) *ServerMessage {
	return newServerMessage(EventNotification, NotificationPayload{
		Type:    NotificationChatMessage,
		Message: preview,
		Data: NotificationData{
			ConversationId: conversationId,
			MessageId:      messageId,
		},
	})
}

func ReactionUpdateEvent(messageId string, reactions []types.Reaction) *ServerMessage {
	if reactions == nil {
		reactions = []types.Reaction{}
	}
	return newServerMessage(EventReactionUpdate, ReactionUpdatePayload{
		MessageId: messageId,
		Reactions: reactions,
	})
}

func TypingEvent(userId, username string) *ServerMessage {
	return newServerMessage(EventTyping, TypingPayload{UserId: userId, Username: username})
}

func StopTypingEvent(userId string) *ServerMessage {
	return newServerMessage(EventStopTyping, TypingPayload{UserId: userId})
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
