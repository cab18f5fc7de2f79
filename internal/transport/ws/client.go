package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"beatbattle-controller/internal/domain"
	"beatbattle-controller/internal/protocol"
)

// Config tunes one transport session.
type Config struct {
	// URL is the websocket endpoint of the game server, e.g. ws://host:5000/ws.
	URL string
	// RoomCode scopes the session; the join handshake carries it.
	RoomCode string
	// Nickname is the display name sent in the join handshake. Auto-generated
	// when empty.
	Nickname string

	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Nickname == "" {
		c.Nickname = fmt.Sprintf("Player%d", rand.Intn(1000))
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// Handler consumes one inbound envelope. Handlers run serially on the read
// pump goroutine.
type Handler func(protocol.Envelope)

// Subscription is the handle returned by Subscribe; Unsubscribe detaches the
// handler.
type Subscription struct {
	id     uuid.UUID
	event  string
	client *Client
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.client == nil {
		return
	}
	s.client.unsubscribe(s.event, s.id)
}

// Client owns at most one live websocket connection to the game server for a
// single room code. On a successful low-level connect it immediately emits the
// join_controller handshake.
type Client struct {
	cfg    Config
	log    zerolog.Logger
	dialer *websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	dialing    bool
	closed     bool
	generation int
	subs       map[string]map[uuid.UUID]Handler

	onDisconnect func(error)
}

// NewClient builds a client; no connection is opened until Open.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg: cfg,
		log: log.With().Str("room", cfg.RoomCode).Logger(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		subs: make(map[string]map[uuid.UUID]Handler),
	}
}

// Nickname returns the effective display name, including an auto-generated one.
func (c *Client) Nickname() string { return c.cfg.Nickname }

// OnDisconnect registers the hook invoked once per connection when the read
// pump fails unexpectedly. Set it before Open.
func (c *Client) OnDisconnect(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// Open dials the server and performs the join handshake. It is idempotent:
// while a connection is live or being established for this room code, Open
// returns nil without opening a duplicate socket.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if c.conn != nil || c.dialing {
		c.mu.Unlock()
		return nil
	}
	c.dialing = true
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)

	c.mu.Lock()
	c.dialing = false
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return domain.ErrSessionClosed
	}
	c.conn = conn
	c.generation++
	gen := c.generation

	if err := c.writeLocked(conn, protocol.EventJoinController, protocol.JoinControllerPayload{
		RoomCode: c.cfg.RoomCode,
		Nickname: c.cfg.Nickname,
	}); err != nil {
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("join handshake: %w", err)
	}
	c.mu.Unlock()

	c.log.Debug().Int("generation", gen).Msg("connected, handshake sent")
	go c.readPump(conn, gen)
	go c.pingLoop(conn, gen)
	return nil
}

// Connected reports whether a live connection exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send emits one outbound event on the live connection.
func (c *Client) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrSessionClosed
	}
	if c.conn == nil {
		return domain.ErrNotConnected
	}
	return c.writeLocked(c.conn, event, payload)
}

func (c *Client) writeLocked(conn *websocket.Conn, event string, payload any) error {
	env := protocol.Envelope{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", event, err)
		}
		env.Payload = raw
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteJSON(env)
}

// Subscribe registers a handler for an inbound event name.
func (c *Client) Subscribe(event string, h Handler) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &Subscription{}
	}
	id := uuid.New()
	if c.subs[event] == nil {
		c.subs[event] = make(map[uuid.UUID]Handler)
	}
	c.subs[event][id] = h
	return &Subscription{id: id, event: event, client: c}
}

func (c *Client) unsubscribe(event string, id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.subs[event]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(c.subs, event)
		}
	}
}

// Close tears the session down for good. Listeners are detached before the
// underlying connection is released so that a queued inbound frame can never
// reach a handler after Close returns.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.subs = make(map[string]map[uuid.UUID]Handler)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}

// Disconnect drops the current connection without closing the client, so a
// later Open can redial. Used by the retry supervisor, which guarantees the
// old connection is fully gone before a new attempt starts.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) readPump(conn *websocket.Conn, gen int) {
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.handleReadError(conn, gen, err)
			return
		}
		c.dispatch(env)
	}
}

func (c *Client) handleReadError(conn *websocket.Conn, gen int, err error) {
	c.mu.Lock()
	stale := c.closed || c.conn != conn || c.generation != gen
	if !stale {
		c.conn = nil
	}
	notify := c.onDisconnect
	c.mu.Unlock()

	conn.Close()
	if stale {
		return
	}
	c.log.Debug().Err(err).Int("generation", gen).Msg("connection lost")
	if notify != nil {
		notify(err)
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	handlers := make([]Handler, 0, len(c.subs[env.Event]))
	for _, h := range c.subs[env.Event] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	if len(handlers) == 0 && env.Event != protocol.EventPong {
		c.log.Debug().Str("event", env.Event).Msg("unhandled event")
	}
	for _, h := range handlers {
		h(env)
	}
}

// pingLoop emits the protocol-level keepalive for one connection generation.
func (c *Client) pingLoop(conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		live := !c.closed && c.conn == conn && c.generation == gen
		var err error
		if live {
			err = c.writeLocked(conn, protocol.EventPing, protocol.RoomPayload{RoomCode: c.cfg.RoomCode})
		}
		c.mu.Unlock()
		if !live || err != nil {
			return
		}
	}
}
