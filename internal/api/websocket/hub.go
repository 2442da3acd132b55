package websocket

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"patchbay/internal/graph"

	"github.com/rs/zerolog"
)

// Hub maintains the set of active clients and broadcasts graph changes to
// them. It is the graph.Notifier of the store: Notify never blocks the
// mirror loop, events that do not fit the queue are counted and dropped.
type Hub struct {
	clients map[*Client]struct{}

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Broadcast messages to clients
	Broadcast chan Message

	mu      sync.RWMutex
	dropped atomic.Uint64
	done    chan struct{}

	// OnLeave runs on the hub goroutine after a client is removed.
	OnLeave func(c *Client)

	Logger zerolog.Logger
}

var _ graph.Notifier = (*Hub)(nil)

type HubStats struct {
	Clients int      `json:"clients"`
	Users   []string `json:"users"`
	Dropped uint64   `json:"dropped"`
	Queued  int      `json:"queued"`
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan Message, 1024),
		done:       make(chan struct{}),
		Logger:     logger,
	}
}

// Notify queues a store event for broadcast.
func (h *Hub) Notify(ev graph.Event) {
	h.enqueue(NewGraphEventMessage(ev))
}

// SendTo queues msg for a single client behind the events already queued.
// When the queue is full the message goes straight to the client.
func (h *Hub) SendTo(c *Client, msg Message) {
	msg.target = c
	select {
	case h.Broadcast <- msg:
	default:
		c.trySend(msg)
	}
}

func (h *Hub) enqueue(msg Message) {
	select {
	case h.Broadcast <- msg:
	default:
		if n := h.dropped.Add(1); n == 1 || n%100 == 0 {
			h.Logger.Warn().Uint64("dropped", n).Str("type", string(msg.Type)).Msg("Broadcast queue full, message dropped")
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run starts the hub's main event loop
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case message := <-h.Broadcast:
			h.broadcastMessage(message)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.Logger.Info().
		Str("clientId", client.ID).
		Str("username", client.Username).
		Int("clients", n).
		Msg("Client joined")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	_, exists := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if !exists {
		return
	}
	client.close()
	if h.OnLeave != nil {
		h.OnLeave(client)
	}
	h.Logger.Info().Str("clientId", client.ID).Msg("Client left")
}

func (h *Hub) broadcastMessage(message Message) {
	if message.target != nil {
		h.mu.RLock()
		_, exists := h.clients[message.target]
		h.mu.RUnlock()
		if exists {
			message.target.trySend(message)
		}
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.trySend(message)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.close()
		delete(h.clients, client)
	}
}

// Stats returns statistics about connected clients
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.clients))
	seen := make(map[string]bool)
	for client := range h.clients {
		if !seen[client.Username] {
			seen[client.Username] = true
			users = append(users, client.Username)
		}
	}
	sort.Strings(users)

	return HubStats{
		Clients: len(h.clients),
		Users:   users,
		Dropped: h.dropped.Load(),
		Queued:  len(h.Broadcast),
	}
}
