package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/conversa/internal/metrics"
	"github.com/mossy-p/conversa/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ClientConfig tunes a socket's keepalive, limits and buffering.
type ClientConfig struct {
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageBytes int64
	SendBuffer      int
	EventsPerSecond float64
	EventBurst      int
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:    54 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
		MaxMessageBytes: 1 << 20,
		SendBuffer:      256,
		EventsPerSecond: 20,
		EventBurst:      40,
	}
}

// Dispatcher handles the events a client reads and its disconnect.
type Dispatcher interface {
	Dispatch(ctx context.Context, c *Client, env models.Envelope)
	Disconnected(ctx context.Context, c *Client)
}

// Heartbeater is implemented by dispatchers that keep per-socket state alive
// on every pong.
type Heartbeater interface {
	Heartbeat(ctx context.Context, c *Client)
}

// Client represents a WebSocket client connection
type Client struct {
	ID     string
	UserID string

	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
	cfg     ClientConfig
	log     *zap.Logger

	// rooms is guarded by hub.mu.
	rooms map[string]struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, cfg ClientConfig) *Client {
	id := uuid.New().String()
	return &Client{
		ID:      id,
		UserID:  userID,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), cfg.EventBurst),
		cfg:     cfg,
		log:     hub.log.With(zap.String("socket_id", id), zap.String("user_id", userID)),
		rooms:   make(map[string]struct{}),
	}
}

func (c *Client) member() Member {
	return Member{UserID: c.UserID, SocketID: c.ID}
}

// Rooms returns the rooms this client is in.
func (c *Client) Rooms() []string {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	return out
}

// Send delivers an event to this socket only.
func (c *Client) Send(event models.EventType, data any) {
	env, err := models.NewEnvelope(event, data)
	if err != nil {
		c.log.Error("failed to encode event", zap.String("event", string(event)), zap.Error(err))
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		c.log.Error("failed to encode event", zap.String("event", string(event)), zap.Error(err))
		return
	}
	c.enqueue(payload)
}

// SendError reports a failed inbound event back to this socket.
func (c *Client) SendError(event models.EventType, msg string) {
	c.Send(models.EventError, models.ErrorPayload{Event: event, Error: msg})
}

func (c *Client) enqueue(payload []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- payload:
	default:
		c.log.Warn("dropping frame, send buffer full")
	}
}

// Close stops the write pump and closes the connection. Safe to call twice.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// Serve runs the client's pumps. It returns immediately; the dispatcher's
// Disconnected is called once the connection ends.
func (c *Client) Serve(ctx context.Context, d Dispatcher) {
	metrics.Connections.Inc()
	c.hub.register(c)
	go c.writePump()
	go c.readPump(ctx, d)
}

func (c *Client) readPump(ctx context.Context, d Dispatcher) {
	defer func() {
		d.Disconnected(context.WithoutCancel(ctx), c)
		c.hub.unregister(c)
		c.Close()
		metrics.Connections.Dec()
	}()

	if c.cfg.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(c.cfg.MaxMessageBytes)
	}
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	hb, _ := d.(Heartbeater)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		if hb != nil {
			hb.Heartbeat(ctx, c)
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Info("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			c.SendError("", "malformed frame")
			continue
		}
		metrics.Events.WithLabelValues(string(env.Event)).Inc()

		if !c.limiter.Allow() {
			c.SendError(env.Event, "rate limit exceeded")
			continue
		}
		d.Dispatch(ctx, c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("failed to write message", zap.Error(err))
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
