package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/npezzotti/go-chatsync/internal/types"
)

// FetchHistory loads the most recent limit messages for room, oldest first,
// and replaces the room's list with them.
func (s *Session) FetchHistory(ctx context.Context, room string, limit int) error {
	endpoint := fmt.Sprintf("%s/api/messages?room=%s&limit=%d", s.baseURL, url.QueryEscape(room), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch history: unexpected status %s", resp.Status)
	}

	var messages []types.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}

	list := make([]DisplayMessage, len(messages))
	for i, msg := range messages {
		list[i] = DisplayMessage{
			Id:        msg.Id,
			Room:      msg.Room,
			Sender:    msg.Sender,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
			Status:    StatusSent,
		}
	}

	s.doWait(func() { s.messages[room] = list })

	return nil
}
