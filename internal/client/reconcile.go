package client

import (
	"fmt"
	"strconv"
	"time"

	"github.com/npezzotti/go-chatsync/internal/types"
)

type MessageStatus string

const (
	StatusSending MessageStatus = "sending"
	StatusSent    MessageStatus = "sent"
	StatusError   MessageStatus = "error"
)

// DisplayMessage is a client-local message entry. Before the server confirms
// a send, TempId identifies it and Id is zero; once reconciled, Id is set
// and TempId cleared.
type DisplayMessage struct {
	Id        int
	Room      string
	Sender    types.User
	Content   string
	CreatedAt time.Time
	TempId    string
	Status    MessageStatus
}

// key is the deduplication key for the underlying persisted message: the
// store id when known, else the tempId, else a composite of the fields that
// identify the send.
func (m DisplayMessage) key() string {
	if m.Id != 0 {
		return "id:" + strconv.Itoa(m.Id)
	}
	if m.TempId != "" {
		return "tmp:" + m.TempId
	}
	return fmt.Sprintf("room:%s|sender:%d|at:%d|hash:%d",
		m.Room, m.Sender.Id, m.CreatedAt.UnixMilli(), contentHash(m.Content))
}

func contentHash(s string) uint32 {
	var h uint32
	for _, r := range s {
		h = h*31 + uint32(r)
	}
	return h
}

// dedupeAppend appends incoming unless an entry with the same key already
// exists, in which case the incoming fields are merged into it.
func dedupeAppend(list []DisplayMessage, incoming DisplayMessage) []DisplayMessage {
	key := incoming.key()
	for i := range list {
		if list[i].key() != key {
			continue
		}

		merged := incoming
		if merged.Id == 0 {
			merged.Id = list[i].Id
		}
		if merged.Status == "" {
			merged.Status = StatusSent
		}
		merged.TempId = ""
		list[i] = merged
		return list
	}

	return append(list, incoming)
}

// findOptimisticIndex locates the pending entry a broadcast should upgrade:
// exact tempId match first, then the most recent sending entry with the same
// sender and content, to tolerate a client that lost its tempId state.
func findOptimisticIndex(list []DisplayMessage, tempId string, senderId int, content string) int {
	if tempId != "" {
		for i := range list {
			// an expired entry is terminal, it never upgrades
			if list[i].TempId == tempId && list[i].Status == StatusSending {
				return i
			}
		}
	}

	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Status != StatusSending {
			continue
		}
		if list[i].Sender.Id == senderId && list[i].Content == content {
			return i
		}
	}

	return -1
}
