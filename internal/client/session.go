package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/server"
	"github.com/npezzotti/go-chatsync/internal/types"
)

// DefaultAckTimeout is how long an optimistic entry may stay in the sending
// state before it is marked as an error. There is no automatic retry.
const DefaultAckTimeout = 12 * time.Second

var ErrSessionClosed = errors.New("session closed")

// sessionScope keys session-level errors in the errors map, room-scoped
// errors use the room key.
const sessionScope = ""

type SessionConfig struct {
	ServerURL  string
	Token      string
	AckTimeout time.Duration
	Logger     *log.Logger
}

// Session owns the client side of the realtime protocol: the websocket
// connection, the per-room message lists and the reconciliation of
// optimistic entries with server acks and broadcasts. All state mutations
// run on a single goroutine fed by the ops channel.
type Session struct {
	log        *log.Logger
	httpClient *http.Client
	baseURL    string
	token      string
	ackTimeout time.Duration

	conn      *websocket.Conn
	ops       chan func()
	done      chan struct{}
	closeOnce sync.Once

	identity types.User
	messages map[string][]DisplayMessage
	unread   map[string]int
	pending  map[string]*time.Timer
	errs     map[string]string
}

func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	ackTimeout := cfg.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}

	return &Session{
		log:        logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(cfg.ServerURL, "/"),
		token:      cfg.Token,
		ackTimeout: ackTimeout,
		ops:        make(chan func(), 256),
		done:       make(chan struct{}),
		messages:   make(map[string][]DisplayMessage),
		unread:     make(map[string]int),
		pending:    make(map[string]*time.Timer),
		errs:       make(map[string]string),
	}
}

// Connect dials the realtime endpoint with the session token and starts the
// event loop. The server rejects the handshake before upgrading if the token
// is missing or invalid.
func (s *Session) Connect(ctx context.Context) error {
	wsURL := "ws" + strings.TrimPrefix(s.baseURL, "http") + "/ws"

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token)

	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}

	s.conn = conn
	go s.run()
	go s.readLoop()

	return nil
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
	})

	return nil
}

func (s *Session) run() {
	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.done:
			return
		}
	}
}

// do posts a state mutation to the session's single event loop.
func (s *Session) do(op func()) {
	select {
	case s.ops <- op:
	case <-s.done:
	}
}

// doWait runs op on the event loop and waits for it to complete.
func (s *Session) doWait(op func()) {
	executed := make(chan struct{})
	select {
	case s.ops <- func() { op(); close(executed) }:
	case <-s.done:
		return
	}

	select {
	case <-executed:
	case <-s.done:
	}
}

func (s *Session) readLoop() {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.log.Printf("ws: read: %v", err)
			}
			s.do(func() { s.errs[sessionScope] = "disconnected" })
			return
		}

		var env struct {
			Event   string          `json:"event"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			s.log.Println("error parsing event:", err)
			continue
		}

		s.dispatch(env.Event, env.Payload)
	}
}

func (s *Session) dispatch(event string, payload json.RawMessage) {
	switch event {
	case server.EventSessionIdentity:
		var u types.User
		if err := json.Unmarshal(payload, &u); err != nil {
			s.log.Println("bad identity payload:", err)
			return
		}
		s.do(func() { s.identity = u })
	case server.EventMessageNew:
		var msg types.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.log.Println("bad message payload:", err)
			return
		}
		s.do(func() { s.handleBroadcast(msg) })
	case server.EventMessageAck:
		var ack server.AckPayload
		if err := json.Unmarshal(payload, &ack); err != nil {
			s.log.Println("bad ack payload:", err)
			return
		}
		s.do(func() { s.handleAck(ack) })
	case server.EventError:
		var p server.ErrorPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			s.log.Println("bad error payload:", err)
			return
		}
		s.do(func() { s.errs[sessionScope] = p.Error })
	default:
		s.log.Printf("unknown event %q", event)
	}
}

// Send appends an optimistic entry for room, emits the send request and arms
// the ack timeout. It returns the tempId correlating the eventual ack or
// broadcast with this send.
func (s *Session) Send(room, content string) (string, error) {
	if s.conn == nil {
		return "", errors.New("not connected")
	}

	tempId := uuid.NewString()
	errCh := make(chan error, 1)

	op := func() {
		optimistic := DisplayMessage{
			Room:      room,
			Sender:    s.identity,
			Content:   content,
			CreatedAt: time.Now(),
			TempId:    tempId,
			Status:    StatusSending,
		}
		s.messages[room] = dedupeAppend(s.messages[room], optimistic)

		s.pending[tempId] = time.AfterFunc(s.ackTimeout, func() {
			s.expirePending(room, tempId)
		})

		if err := s.writeEvent(server.EventMessageSend, server.SendPayload{
			Room:    room,
			Content: content,
			TempId:  tempId,
		}); err != nil {
			// the optimistic entry stays, the timeout will degrade it
			s.errs[room] = err.Error()
			errCh <- err
			return
		}

		errCh <- nil
	}

	select {
	case s.ops <- op:
	case <-s.done:
		return "", ErrSessionClosed
	}

	select {
	case err := <-errCh:
		if err != nil {
			return "", err
		}
	case <-s.done:
		return "", ErrSessionClosed
	}

	return tempId, nil
}

func (s *Session) JoinRoom(room string) error {
	return s.emit(server.EventRoomJoin, server.RoomPayload{Room: room})
}

func (s *Session) LeaveRoom(room string) error {
	return s.emit(server.EventRoomLeave, server.RoomPayload{Room: room})
}

func (s *Session) emit(event string, payload any) error {
	if s.conn == nil {
		return errors.New("not connected")
	}

	errCh := make(chan error, 1)
	select {
	case s.ops <- func() { errCh <- s.writeEvent(event, payload) }:
	case <-s.done:
		return ErrSessionClosed
	}

	select {
	case err := <-errCh:
		return err
	case <-s.done:
		return ErrSessionClosed
	}
}

// writeEvent must only be called from the event loop so writes are
// serialized.
func (s *Session) writeEvent(event string, payload any) error {
	data, err := json.Marshal(server.ServerEvent{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	return nil
}

// handleBroadcast merges a message:new event into the room list: upgrade the
// matching optimistic entry if there is one, otherwise dedupe-and-append.
func (s *Session) handleBroadcast(msg types.Message) {
	list := s.messages[msg.Room]

	idx := findOptimisticIndex(list, msg.ClientId, msg.Sender.Id, msg.Content)
	if idx >= 0 {
		list[idx].Id = msg.Id
		list[idx].Sender = msg.Sender
		list[idx].Content = msg.Content
		list[idx].CreatedAt = msg.CreatedAt
		list[idx].Status = StatusSent
		list[idx].TempId = ""
		s.messages[msg.Room] = list
		s.cancelPending(msg.ClientId)
		return
	}

	merged := dedupeAppend(list, DisplayMessage{
		Id:        msg.Id,
		Room:      msg.Room,
		Sender:    msg.Sender,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
		Status:    StatusSent,
	})
	appended := len(merged) > len(list)
	s.messages[msg.Room] = merged

	if appended && (s.identity.Id == 0 || msg.Sender.Id != s.identity.Id) {
		s.unread[msg.Room]++
	}
}

// handleAck upgrades the entry matching the ack's tempId (or id). A
// duplicate ack for an already upgraded entry is a no-op.
func (s *Session) handleAck(ack server.AckPayload) {
	list := s.messages[ack.Room]
	if len(list) == 0 {
		return
	}

	idx := -1
	for i := range list {
		if ack.TempId != "" && list[i].TempId == ack.TempId && list[i].Status == StatusSending {
			idx = i
			break
		}
		if ack.TempId == "" && list[i].Id == ack.Id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	list[idx].Id = ack.Id
	list[idx].Status = StatusSent
	list[idx].TempId = ""
	s.messages[ack.Room] = list

	s.cancelPending(ack.TempId)
}

func (s *Session) cancelPending(tempId string) {
	if tempId == "" {
		return
	}
	if t, ok := s.pending[tempId]; ok {
		t.Stop()
		delete(s.pending, tempId)
	}
}

// expirePending marks the optimistic entry as errored if it is still waiting
// when the ack timeout fires. The error state is terminal.
func (s *Session) expirePending(room, tempId string) {
	s.do(func() {
		delete(s.pending, tempId)

		list := s.messages[room]
		for i := range list {
			if list[i].TempId == tempId && list[i].Status == StatusSending {
				list[i].Status = StatusError
				s.messages[room] = list
				return
			}
		}
	})
}

func (s *Session) Identity() types.User {
	var u types.User
	s.doWait(func() { u = s.identity })
	return u
}

func (s *Session) Messages(room string) []DisplayMessage {
	var out []DisplayMessage
	s.doWait(func() { out = slices.Clone(s.messages[room]) })
	return out
}

func (s *Session) Unread(room string) int {
	var n int
	s.doWait(func() { n = s.unread[room] })
	return n
}

func (s *Session) MarkRoomRead(room string) {
	s.doWait(func() { s.unread[room] = 0 })
}

// Err returns the recorded error for room, falling back to the session-level
// error. Empty means no error.
func (s *Session) Err(room string) string {
	var msg string
	s.doWait(func() {
		msg = s.errs[room]
		if msg == "" {
			msg = s.errs[sessionScope]
		}
	})
	return msg
}
