// Package relay provides the signaling substrates: a WebSocket relay server
// that fans envelopes out per room (optionally across instances through Redis)
// and client transports for Redis, WebSocket and Kafka.
package relay

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

// ConnectionsChangeHandler is called when the number of connections in a room changes.
type ConnectionsChangeHandler func(room string, count int)

// RoomPublisher publishes frames to every relay instance serving a room.
type RoomPublisher interface {
	PublishRoom(ctx context.Context, room string, frame []byte) error
}

// RoomSubscriber delivers frames published to a room.
type RoomSubscriber interface {
	SubscribeRoom(room string, handler func(frame []byte)) (cancel func(), done <-chan struct{}, err error)
}

type room struct {
	conns map[string]*Conn
	// participant ID -> connection that last sent from it
	participants map[string]*Conn
}

// Hub maintains room -> set of connections and routes envelopes between them.
// With Redis configured every frame goes through Redis, and the subscriber
// callback delivers it once on every instance, this one included.
type Hub struct {
	rooms    map[string]*room
	subs     map[string]func()
	mu       sync.RWMutex
	logger   *zap.Logger
	pub      RoomPublisher
	sub      RoomSubscriber
	onChange ConnectionsChangeHandler
}

// NewHub creates a relay hub. pub and sub may be nil for a single instance.
func NewHub(logger *zap.Logger, pub RoomPublisher, sub RoomSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[string]*room),
		subs:   make(map[string]func()),
		logger: logger,
		pub:    pub,
		sub:    sub,
	}
}

// SetConnectionsChangeHandler sets the callback for connection count changes.
func (h *Hub) SetConnectionsChangeHandler(fn ConnectionsChangeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = fn
}

// Register adds a connection to its room. Starts the Redis subscription for
// the room on the first connection; the subscribe round-trip runs without the
// hub lock held.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	r := h.rooms[c.Room]
	subscribe := false
	if r == nil {
		r = &room{conns: make(map[string]*Conn), participants: make(map[string]*Conn)}
		h.rooms[c.Room] = r
		subscribe = h.sub != nil
	}
	r.conns[c.ID] = c
	count := len(r.conns)
	onChange := h.onChange
	h.mu.Unlock()

	if subscribe {
		h.subscribe(c.Room, r)
	}
	if onChange != nil {
		onChange(c.Room, count)
	}
	h.logger.Debug("connection joined room", zap.String("conn_id", c.ID), zap.String("room", c.Room))
}

// subscribe starts the room subscription for r. If r was emptied and dropped
// while subscribing, the new subscription is cancelled at once.
func (h *Hub) subscribe(name string, r *room) {
	cancel, _, err := h.sub.SubscribeRoom(name, func(frame []byte) {
		h.Deliver(name, frame)
	})
	if err != nil {
		h.logger.Error("redis subscribe failed", zap.String("room", name), zap.Error(err))
		return
	}
	h.mu.Lock()
	current := h.rooms[name] == r
	if current {
		h.subs[name] = cancel
	}
	h.mu.Unlock()
	if !current {
		cancel()
	}
}

// Unregister removes a connection. Cancels the Redis subscription when the
// last connection leaves.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	var count int
	if r, ok := h.rooms[c.Room]; ok {
		if _, present := r.conns[c.ID]; present {
			delete(r.conns, c.ID)
			close(c.send)
		}
		for pid, owner := range r.participants {
			if owner == c {
				delete(r.participants, pid)
			}
		}
		count = len(r.conns)
		if count == 0 {
			delete(h.rooms, c.Room)
			if cancel, ok := h.subs[c.Room]; ok {
				cancel()
				delete(h.subs, c.Room)
			}
		}
	}
	onChange := h.onChange
	h.mu.Unlock()
	if onChange != nil {
		onChange(c.Room, count)
	}
	h.logger.Debug("connection left room", zap.String("conn_id", c.ID), zap.String("room", c.Room))
}

// Route sends a frame to every participant of a room, on all instances.
func (h *Hub) Route(ctx context.Context, roomName string, frame []byte) {
	if h.pub != nil {
		if err := h.pub.PublishRoom(ctx, roomName, frame); err != nil {
			h.logger.Warn("redis publish failed, delivering locally", zap.String("room", roomName), zap.Error(err))
			h.Deliver(roomName, frame)
		}
		return
	}
	h.Deliver(roomName, frame)
}

// frameHeader is the part of an envelope the hub routes on.
type frameHeader struct {
	From string `json:"from"`
	To   string `json:"to,omitempty"`
}

// Deliver sends a frame to this instance's connections in the room. A
// directed frame goes only to the connection known to host its target;
// unknown targets get a room-wide fan-out and clients discard what is not
// theirs.
func (h *Hub) Deliver(roomName string, frame []byte) {
	var hdr frameHeader
	_ = json.Unmarshal(frame, &hdr)

	h.mu.RLock()
	r := h.rooms[roomName]
	if r == nil {
		h.mu.RUnlock()
		return
	}
	var targets []*Conn
	if owner, ok := r.participants[hdr.To]; ok && hdr.To != "" {
		targets = []*Conn{owner}
	} else {
		targets = make([]*Conn, 0, len(r.conns))
		for _, c := range r.conns {
			targets = append(targets, c)
		}
	}
	for _, c := range targets {
		select {
		case c.send <- frame:
		default:
			// buffer full, skip
		}
	}
	h.mu.RUnlock()
}

// observe records that c speaks for participant.
func (h *Hub) observe(c *Conn, participant string) {
	if participant == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[c.Room]; ok {
		if _, live := r.conns[c.ID]; live {
			r.participants[participant] = c
		}
	}
}

// ConnectionCount returns the number of connections in a room on this instance.
func (h *Hub) ConnectionCount(roomName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r := h.rooms[roomName]; r != nil {
		return len(r.conns)
	}
	return 0
}

// Close cancels every Redis subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, cancel := range h.subs {
		cancel()
		delete(h.subs, name)
	}
}
