package types

import (
	"time"
)

// User is the authenticated identity attached to a connection and embedded
// as the sender of every outbound message event.
type User struct {
	Id          int    `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Message is the canonical persisted message as it appears on the wire.
// ClientId carries the sender's tempId back so the originating client can
// upgrade its optimistic entry.
type Message struct {
	Id        int       `json:"id"`
	Room      string    `json:"room"`
	Sender    User      `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	ClientId  string    `json:"clientId,omitempty"`
}
