package server

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8192

	// maxContentLength is the message content limit in characters; content
	// of exactly this length is accepted.
	maxContentLength = 1000
)

type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User
	send       chan *ServerEvent
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		id:         shortid.MustGenerate(),
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerEvent, 256),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(event)
			if err != nil {
				c.log.Println("failed to serialize event:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var event ClientEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			c.log.Println("error parsing event:", err)
			c.queueEvent(ErrInvalidEvent())
			continue
		}

		c.dispatch(&event)
	}
}

func (c *Client) dispatch(event *ClientEvent) {
	switch event.Event {
	case EventRoomJoin:
		var p RoomPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.queueEvent(ErrInvalidEvent())
			return
		}
		c.joinRoom(NormalizeRoom(p.Room))
	case EventRoomLeave:
		var p RoomPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.queueEvent(ErrInvalidEvent())
			return
		}
		c.leaveRoom(NormalizeRoom(p.Room))
	case EventMessageSend:
		var p SendPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.queueEvent(ErrInvalidEvent())
			return
		}
		c.handleSend(&p)
	default:
		c.log.Printf("unknown event %q from connection %s", event.Event, c.id)
		c.queueEvent(ErrUnknownEvent(event.Event))
	}
}

// handleSend runs the ingest pipeline: validate, persist, broadcast to the
// room, then ack the sender. Validation and store failures go back to the
// sender only and nothing is broadcast.
func (c *Client) handleSend(p *SendPayload) {
	if c.user.Id == 0 {
		c.queueEvent(ErrUnauthorized())
		return
	}

	content := strings.TrimSpace(p.Content)
	if content == "" {
		c.queueEvent(ErrEmptyMessage())
		return
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		c.queueEvent(ErrMessageTooLong())
		return
	}

	room := NormalizeRoom(p.Room)

	dbMsg, err := c.chatServer.db.CreateMessage(room, c.user.Id, content)
	if err != nil {
		c.log.Println("error saving message:", err)
		c.queueEvent(ErrDatabase())
		return
	}

	c.chatServer.Broadcast(room, NewMessageEvent(types.Message{
		Id:        dbMsg.Id,
		Room:      room,
		Sender:    c.user,
		Content:   content,
		CreatedAt: dbMsg.CreatedAt,
		ClientId:  p.TempId,
	}))

	// the ack is sender-only and deliberately separate from the broadcast,
	// the client reconciles on whichever lands first
	c.queueEvent(AckEvent(room, dbMsg.Id, p.TempId))
}

func (c *Client) joinRoom(room string) {
	select {
	case c.chatServer.opChan <- joinReq{client: c, room: room}:
	case <-c.chatServer.done:
		c.queueEvent(ErrServiceUnavailable())
	}
}

func (c *Client) leaveRoom(room string) {
	select {
	case c.chatServer.opChan <- leaveReq{client: c, room: room}:
	case <-c.chatServer.done:
		c.queueEvent(ErrServiceUnavailable())
	}
}

func (c *Client) queueEvent(event *ServerEvent) bool {
	select {
	case c.send <- event:
	default:
		c.log.Printf("dropping event for connection %s, send channel full", c.id)
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	select {
	case c.chatServer.deRegisterChan <- c:
	case <-c.chatServer.done:
	}
	c.stopClient()
}
