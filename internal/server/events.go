package server

import (
	"encoding/json"

	"github.com/npezzotti/go-chatsync/internal/types"
)

// Event names form a closed set. Anything outside it is rejected with an
// error event rather than silently ignored.
const (
	EventSessionIdentity = "session:identity"
	EventRoomJoin        = "room:join"
	EventRoomLeave       = "room:leave"
	EventMessageSend     = "message:send"
	EventMessageNew      = "message:new"
	EventMessageAck      = "message:sent:ack"
	EventError           = "error"
)

// ClientEvent is the inbound envelope. The payload stays raw until the
// event name selects which shape to decode it into.
type ClientEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type ServerEvent struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type RoomPayload struct {
	Room string `json:"room"`
}

type SendPayload struct {
	Room    string `json:"room"`
	Content string `json:"content"`
	TempId  string `json:"tempId,omitempty"`
}

type AckPayload struct {
	Room   string `json:"room"`
	Id     int    `json:"id"`
	TempId string `json:"tempId,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

func IdentityEvent(user types.User) *ServerEvent {
	return &ServerEvent{
		Event:   EventSessionIdentity,
		Payload: user,
	}
}

func NewMessageEvent(msg types.Message) *ServerEvent {
	return &ServerEvent{
		Event:   EventMessageNew,
		Payload: msg,
	}
}

func AckEvent(room string, id int, tempId string) *ServerEvent {
	return &ServerEvent{
		Event: EventMessageAck,
		Payload: AckPayload{
			Room:   room,
			Id:     id,
			TempId: tempId,
		},
	}
}

func ErrorEvent(msg string) *ServerEvent {
	return &ServerEvent{
		Event:   EventError,
		Payload: ErrorPayload{Error: msg},
	}
}

func ErrUnauthorized() *ServerEvent {
	return ErrorEvent("unauthorized")
}

func ErrEmptyMessage() *ServerEvent {
	return ErrorEvent("empty message")
}

func ErrMessageTooLong() *ServerEvent {
	return ErrorEvent("message too long")
}

func ErrDatabase() *ServerEvent {
	return ErrorEvent("db error")
}

func ErrInvalidEvent() *ServerEvent {
	return ErrorEvent("invalid message format")
}

func ErrUnknownEvent(name string) *ServerEvent {
	return ErrorEvent("unknown event: " + name)
}

func ErrServiceUnavailable() *ServerEvent {
	return ErrorEvent("service unavailable")
}
