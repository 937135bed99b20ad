package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mossy-p/conversa/internal/models"
	"go.uber.org/zap"
)

// Frame is an encoded envelope addressed to a room as it travels between
// server instances.
type Frame struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Except  string          `json:"except,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Broker carries frames to every other instance.
type Broker interface {
	Publish(ctx context.Context, f Frame) error
	// Subscribe calls handle for every frame until ctx is done.
	Subscribe(ctx context.Context, handle func(Frame)) error
}

// Member is one socket of one user inside a room.
type Member struct {
	UserID   string
	SocketID string
}

// Directory records room membership for the whole deployment so that
// membership questions have the same answer on every instance.
type Directory interface {
	Join(ctx context.Context, room string, m Member) error
	Leave(ctx context.Context, room string, m Member) error
	Contains(ctx context.Context, room, userID string) (bool, error)
	Occupied(ctx context.Context, room string) (bool, error)
}

// Hub manages the rooms of the sockets connected to this instance and fans
// events out to them, locally and through the broker.
type Hub struct {
	id     string
	log    *zap.Logger
	broker Broker
	dir    Directory

	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}

	// serving counts clients whose disconnect handling has not finished.
	serving sync.WaitGroup
}

// NewHub creates a hub. A nil broker keeps delivery on this instance; a nil
// directory uses an in-process one.
func NewHub(logger *zap.Logger, broker Broker, dir Directory) *Hub {
	if dir == nil {
		dir = NewLocalDirectory()
	}
	return &Hub{
		id:      uuid.New().String(),
		log:     logger.Named("hub"),
		broker:  broker,
		dir:     dir,
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
	}
}

func (h *Hub) ID() string {
	return h.id
}

// Run delivers frames published by other instances until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if h.broker == nil {
		<-ctx.Done()
		return nil
	}
	return h.broker.Subscribe(ctx, func(f Frame) {
		if f.Origin == h.id {
			return
		}
		h.deliver(f.Room, f.Except, f.Payload)
	})
}

func (h *Hub) register(c *Client) {
	h.serving.Add(1)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	h.serving.Done()
}

// Shutdown closes every socket and waits until each one's disconnect
// handling has returned, or until ctx is done.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.CloseAll()

	done := make(chan struct{})
	go func() {
		h.serving.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sockets still disconnecting: %w", ctx.Err())
	}
}

// CloseAll disconnects every socket on this instance without waiting.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
}

// ClientCount returns the number of sockets connected to this instance.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Join(ctx context.Context, c *Client, room string) {
	h.mu.Lock()
	members, exists := h.rooms[room]
	if !exists {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
	h.mu.Unlock()

	if err := h.dir.Join(ctx, room, c.member()); err != nil {
		h.log.Warn("failed to record room join", zap.String("room", room), zap.Error(err))
	}
}

func (h *Hub) Leave(ctx context.Context, c *Client, room string) {
	h.mu.Lock()
	h.removeLocked(c, room)
	h.mu.Unlock()

	if err := h.dir.Leave(ctx, room, c.member()); err != nil {
		h.log.Warn("failed to record room leave", zap.String("room", room), zap.Error(err))
	}
}

// LeaveAll removes c from every room it joined and returns those rooms.
func (h *Hub) LeaveAll(ctx context.Context, c *Client) []string {
	h.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
		h.removeLocked(c, room)
	}
	h.mu.Unlock()

	for _, room := range rooms {
		if err := h.dir.Leave(ctx, room, c.member()); err != nil {
			h.log.Warn("failed to record room leave", zap.String("room", room), zap.Error(err))
		}
	}
	return rooms
}

func (h *Hub) removeLocked(c *Client, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	// Clean up room if empty
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Emit sends an event to every socket in room.
func (h *Hub) Emit(ctx context.Context, room string, event models.EventType, data any) error {
	return h.emit(ctx, room, "", event, data)
}

// EmitExcept sends an event to every socket in room except c.
func (h *Hub) EmitExcept(ctx context.Context, room string, c *Client, event models.EventType, data any) error {
	return h.emit(ctx, room, c.ID, event, data)
}

func (h *Hub) emit(ctx context.Context, room, except string, event models.EventType, data any) error {
	env, err := models.NewEnvelope(event, data)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}

	h.deliver(room, except, payload)

	if h.broker != nil {
		f := Frame{Origin: h.id, Room: room, Except: except, Payload: payload}
		if err := h.broker.Publish(ctx, f); err != nil {
			return fmt.Errorf("failed to publish %s to %s: %w", event, room, err)
		}
	}
	return nil
}

func (h *Hub) deliver(room, except string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[room] {
		if c.ID != except {
			c.enqueue(payload)
		}
	}
}

// Contains reports whether userID has a socket in room on any instance.
func (h *Hub) Contains(ctx context.Context, room, userID string) bool {
	ok, err := h.dir.Contains(ctx, room, userID)
	if err != nil {
		h.log.Warn("directory lookup failed, using local rooms", zap.String("room", room), zap.Error(err))
		return h.containsLocal(room, userID)
	}
	return ok
}

// Occupied reports whether any socket is in room on any instance.
func (h *Hub) Occupied(ctx context.Context, room string) bool {
	ok, err := h.dir.Occupied(ctx, room)
	if err != nil {
		h.log.Warn("directory lookup failed, using local rooms", zap.String("room", room), zap.Error(err))
		h.mu.RLock()
		defer h.mu.RUnlock()
		return len(h.rooms[room]) > 0
	}
	return ok
}

func (h *Hub) containsLocal(room, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// RoomCount returns the number of rooms with local members.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
