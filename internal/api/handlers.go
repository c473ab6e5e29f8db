package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/server"
	"github.com/npezzotti/go-chatsync/internal/types"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *ChatApp) health(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health:", err)
		s.writeJson(w, http.StatusServiceUnavailable, map[string]bool{"ok": false})
		return
	}

	s.writeJson(w, http.StatusOK, map[string]bool{"ok": true})
}

// getMessages returns the most recent messages for a room, oldest first, so
// clients can append live messages to the end of the list.
func (s *ChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	room = server.NormalizeRoom(room)

	limit := defaultHistoryLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		limit = min(max(parsed, 1), maxHistoryLimit)
	}

	dbMessages, err := s.db.GetMessages(room, limit)
	if err != nil {
		s.log.Println("get messages:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages := make([]types.Message, len(dbMessages))
	for i, msg := range dbMessages {
		messages[i] = types.Message{
			Id:   msg.Id,
			Room: msg.Room,
			Sender: types.User{
				Id:          msg.SenderId,
				DisplayName: msg.SenderName,
				Email:       msg.SenderEmail,
			},
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		}
	}

	s.writeJson(w, http.StatusOK, messages)
}

// serveWs is the realtime handshake: the token is verified by the auth
// middleware before the upgrade, so a rejected connection never reaches the
// registry.
func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	identity, ok := Identity(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(identity, conn, s.cs, s.log)

	s.cs.RegisterChan <- client
	go client.Write()
	go client.Read()
}
