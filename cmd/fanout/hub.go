package main

import (
	"context"
	"log/slog"
	"sync"
)

// Hub tracks websocket clients per requester and fans progress out to them
type Hub struct {
	// requester -> set of clients
	connections map[string]map[*Client]struct{}
	mutex       sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message

	log *slog.Logger
}

// Message is one progress payload for a requester
type Message struct {
	Requester string
	Data      []byte
}

// NewHub creates a new Hub instance
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		connections: make(map[string]map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		log:         log,
	}
}

// Run owns all membership changes until ctx is done
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("hub started")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.add(client)

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// Publish queues a message for delivery
func (h *Hub) Publish(ctx context.Context, m *Message) {
	select {
	case h.broadcast <- m:
	case <-ctx.Done():
	}
}

func (h *Hub) add(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	set, ok := h.connections[client.requester]
	if !ok {
		set = make(map[*Client]struct{})
		h.connections[client.requester] = set
	}
	set[client] = struct{}{}
	h.log.Debug("client registered", "requester_id", client.requester, "connections", len(set))
}

// remove drops client and closes its send channel exactly once
func (h *Hub) remove(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.dropLocked(client)
}

func (h *Hub) dropLocked(client *Client) {
	set := h.connections[client.requester]
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	close(client.send)
	if len(set) == 0 {
		delete(h.connections, client.requester)
	}
	h.log.Debug("client unregistered", "requester_id", client.requester, "remaining", len(set))
}

// deliver sends to every client of the requester. A client whose buffer is
// full is dropped rather than allowed to stall the others.
func (h *Hub) deliver(message *Message) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.connections[message.Requester] {
		select {
		case client.send <- message.Data:
		default:
			h.log.Warn("client too slow, disconnecting", "requester_id", client.requester)
			h.dropLocked(client)
		}
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, set := range h.connections {
		for client := range set {
			h.dropLocked(client)
		}
	}
}

// ConnectionCount returns the total number of active connections
func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, set := range h.connections {
		count += len(set)
	}
	return count
}

// RequesterCount returns the number of requesters with a connection
func (h *Hub) RequesterCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.connections)
}
