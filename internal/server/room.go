package server

import (
	"regexp"
	"strings"
)

// DefaultRoom is the room every connection is joined to on registration and
// the fallback for any room key that fails the grammar.
const DefaultRoom = "general"

// room keys: letters, digits, underscore, colon, dash
var roomKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_:-]{1,128}$`)

func NormalizeRoom(room string) string {
	r := strings.TrimSpace(room)
	if r == "" {
		return DefaultRoom
	}
	if !roomKeyPattern.MatchString(r) {
		return DefaultRoom
	}
	return r
}

// addMember joins c to room, creating the membership set lazily. Rooms have
// no lifecycle of their own; an entry exists exactly while it has members.
// Only the ChatServer run loop may call this.
func (cs *ChatServer) addMember(room string, c *Client) {
	members, ok := cs.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		cs.rooms[room] = members
		cs.stats.Incr("NumActiveRooms")
	}

	if _, ok := members[c]; ok {
		// joining a room twice is a no-op
		return
	}

	members[c] = struct{}{}
	cs.log.Printf("user %q joined room %q", c.user.DisplayName, room)
}

// removeMember removes c from room and garbage-collects the membership set
// once empty. Leaving a room the client never joined is a no-op. Only the
// ChatServer run loop may call this.
func (cs *ChatServer) removeMember(room string, c *Client) {
	members, ok := cs.rooms[room]
	if !ok {
		return
	}

	if _, ok := members[c]; !ok {
		return
	}

	delete(members, c)
	cs.log.Printf("user %q left room %q", c.user.DisplayName, room)

	if len(members) == 0 {
		delete(cs.rooms, room)
		cs.stats.Decr("NumActiveRooms")
	}
}
