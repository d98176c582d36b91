// Package realtime holds the in-process room hub that location samples,
// transition notices and chat messages are pushed through.
package realtime

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// Fanout delivers an envelope to every member of a room.
type Fanout interface {
	Broadcast(ctx context.Context, topic Topic, env Envelope) error
}

// Client is one connected consumer (a websocket or SSE stream).
type Client struct {
	id     uint64
	send   chan Envelope
	rooms  map[Topic]struct{}
	closed bool
}

func (c *Client) ID() uint64 { return c.id }

// Messages is closed once the client is disconnected.
func (c *Client) Messages() <-chan Envelope { return c.send }

// Hub keeps room membership and fans envelopes out to members.
// Sends never block: a client whose buffer is full misses the envelope.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[Topic]map[*Client]struct{}
	buffer  int
	nextID  atomic.Uint64
	dropped atomic.Uint64
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		rooms:  make(map[Topic]map[*Client]struct{}),
		buffer: buffer,
	}
}

func (h *Hub) NewClient() *Client {
	return &Client{
		id:    h.nextID.Add(1),
		send:  make(chan Envelope, h.buffer),
		rooms: make(map[Topic]struct{}),
	}
}

// Join adds the client to a room. Joining twice is a no-op.
func (h *Hub) Join(topic Topic, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	members, ok := h.rooms[topic]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[topic] = members
	}
	members[c] = struct{}{}
	c.rooms[topic] = struct{}{}
}

// Leave removes the client from a room. Leaving a room never joined is a no-op.
func (h *Hub) Leave(topic Topic, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(topic, c)
}

func (h *Hub) leaveLocked(topic Topic, c *Client) {
	delete(c.rooms, topic)
	members, ok := h.rooms[topic]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, topic)
	}
}

// Disconnect drops the client from every room and closes its channel.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	for topic := range c.rooms {
		h.leaveLocked(topic, c)
	}
	c.closed = true
	close(c.send)
}

// Broadcast pushes env to the current members of topic.
func (h *Hub) Broadcast(_ context.Context, topic Topic, env Envelope) error {
	env.Topic = topic
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[topic] {
		select {
		case c.send <- env:
		default:
			if h.dropped.Add(1)%100 == 1 {
				log.Printf("realtime: client %d buffer full, dropping %s on %s", c.id, env.Type, topic)
			}
		}
	}
	return nil
}

func (h *Hub) Members(topic Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[topic])
}

func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
