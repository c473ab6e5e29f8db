package server

import (
	"context"
	"log"
	"sync"

	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/stats"
)

type joinReq struct {
	client *Client
	room   string
}

type leaveReq struct {
	client *Client
	room   string
}

type broadcastReq struct {
	room  string
	event *ServerEvent
}

// ChatServer is the connection registry and room broadcaster. All membership
// state is owned by the Run loop, so a broadcast can never observe a
// half-applied join or leave. Joins, leaves and broadcasts share one FIFO
// channel, which keeps them ordered relative to each other: a connection
// that joins a room before a broadcast is issued will receive it.
type ChatServer struct {
	log            *log.Logger
	db             database.ChatRepository
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	rooms          map[string]map[*Client]struct{}
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	opChan         chan any
	stop           chan struct{}
	stopOnce       sync.Once
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, sp stats.StatsProvider) (*ChatServer, error) {
	cs := &ChatServer{
		log:            logger,
		db:             db,
		stats:          sp,
		clients:        make(map[*Client]struct{}),
		rooms:          make(map[string]map[*Client]struct{}),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		opChan:         make(chan any, 256),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	sp.RegisterMetric("NumConnections")
	sp.RegisterMetric("NumActiveRooms")
	sp.RegisterMetric("MessagesSent")

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case client := <-cs.RegisterChan:
			cs.addClient(client)
		case client := <-cs.deRegisterChan:
			cs.removeClient(client)
		case op := <-cs.opChan:
			switch req := op.(type) {
			case joinReq:
				cs.addMember(req.room, req.client)
			case leaveReq:
				cs.removeMember(req.room, req.client)
			case broadcastReq:
				cs.deliver(req.room, req.event)
			}
		case <-cs.stop:
			cs.log.Println("stopping all clients")
			for c := range cs.clients {
				c.stopClient()
			}

			close(cs.done)
			return
		}
	}
}

// Broadcast delivers event to every connection currently joined to room.
// Delivery order within a room matches the order Broadcast was called.
func (cs *ChatServer) Broadcast(room string, event *ServerEvent) {
	select {
	case cs.opChan <- broadcastReq{room: room, event: event}:
	case <-cs.done:
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.log.Printf("adding connection %s from %q", c.id, c.user.DisplayName)
	cs.clients[c] = struct{}{}
	cs.stats.Incr("NumConnections")

	// every new connection starts in the default room and is told who it is
	cs.addMember(DefaultRoom, c)
	c.queueEvent(IdentityEvent(c.user))
}

// removeClient drops the connection from the registry and from every room
// in one loop iteration, so no broadcast is attempted against it afterwards.
func (cs *ChatServer) removeClient(c *Client) {
	if _, ok := cs.clients[c]; !ok {
		return
	}

	cs.log.Printf("removing connection %s from %q", c.id, c.user.DisplayName)
	delete(cs.clients, c)
	for room := range cs.rooms {
		cs.removeMember(room, c)
	}
	cs.stats.Decr("NumConnections")
}

func (cs *ChatServer) deliver(room string, event *ServerEvent) {
	members, ok := cs.rooms[room]
	if !ok {
		return
	}

	for c := range members {
		c.queueEvent(event)
	}

	if event.Event == EventMessageNew {
		cs.stats.Incr("MessagesSent")
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	cs.stopOnce.Do(func() { close(cs.stop) })

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
