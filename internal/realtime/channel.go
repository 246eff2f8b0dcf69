package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luup-life/luup/internal/session"
	"github.com/luup-life/luup/pkg/logger"
)

// ConnState is the lifecycle state of a channel
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ChatEvent is one chat message as framed on the wire
type ChatEvent struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	User      string `json:"user,omitempty"`
}

// DrawEvent is one incremental whiteboard path segment
type DrawEvent struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// Handlers receive inbound events in connection FIFO order. The channel
// performs no dedup or reordering. OnClose fires exactly once, with a nil
// error for a clean local close.
type Handlers struct {
	OnChat  func(ev ChatEvent)
	OnDraw  func(ev DrawEvent)
	OnClose func(err error)
}

// Channel is one bidirectional message stream bound to a (sessionID, kind)
// pair. There is no automatic reconnect: once Closed, the caller opens a
// new channel if it wants one.
type Channel struct {
	sessionID string
	kind      session.ChannelKind
	handlers  Handlers
	logger    *logger.Logger

	mu        sync.Mutex
	state     ConnState
	conn      *websocket.Conn
	send      chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Dialer configures channel establishment
type Dialer struct {
	HandshakeTimeout time.Duration
	SendBufferSize   int
	logger           *logger.Logger
}

// NewDialer creates a channel dialer
func NewDialer(handshakeTimeout time.Duration, sendBufferSize int, log *logger.Logger) *Dialer {
	if sendBufferSize <= 0 {
		sendBufferSize = 256
	}
	return &Dialer{
		HandshakeTimeout: handshakeTimeout,
		SendBufferSize:   sendBufferSize,
		logger:           log.Named("realtime"),
	}
}

// Dial connects a new channel for the given session. The returned channel
// is Open on success; on failure no channel is returned.
func (d *Dialer) Dial(ctx context.Context, wsURL string, kind session.ChannelKind, sessionID string, handlers Handlers) (*Channel, error) {
	c := &Channel{
		sessionID: sessionID,
		kind:      kind,
		handlers:  handlers,
		logger:    d.logger,
		state:     StateConnecting,
		send:      make(chan []byte, d.SendBufferSize),
		closeChan: make(chan struct{}),
	}

	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to connect channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	d.logger.Info("Channel connected",
		logger.String("session_id", sessionID),
		logger.String("kind", string(kind)))

	go c.readPump()
	go c.writePump()

	return c, nil
}

// SessionID returns the session this channel is bound to
func (c *Channel) SessionID() string {
	return c.sessionID
}

// Kind returns the channel flavor
func (c *Channel) Kind() session.ChannelKind {
	return c.kind
}

// State returns the current connection state
func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SendChat sends one chat message. Best-effort: outside the Open state the
// message is dropped silently.
func (c *Channel) SendChat(text, user string) {
	c.sendJSON(ChatEvent{
		Text:      text,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		User:      user,
	})
}

// SendDraw sends one incremental path segment. Best-effort, same drop rule
// as SendChat.
func (c *Channel) SendDraw(x, y float64) {
	c.sendJSON(DrawEvent{Type: "draw", X: x, Y: y})
}

func (c *Channel) sendJSON(v any) {
	c.mu.Lock()
	if c.state != StateOpen {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("Dropping outbound message, channel not open",
			logger.String("session_id", c.sessionID),
			logger.String("state", state.String()))
		return
	}
	c.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal outbound message", logger.Error(err))
		return
	}

	select {
	case c.send <- data:
	default:
		// Buffer full; this event is expendable
		c.logger.Warn("Outbound buffer full, dropping message",
			logger.String("session_id", c.sessionID))
	}
}

// Close tears the channel down. After Close no further inbound events are
// dispatched and outbound sends are dropped. Safe to call repeatedly.
func (c *Channel) Close() {
	c.shutdown(nil)
}

func (c *Channel) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosing
		conn := c.conn
		c.closeErr = err
		c.mu.Unlock()

		close(c.closeChan)
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		}

		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()

		c.logger.Debug("Channel closed",
			logger.String("session_id", c.sessionID),
			logger.String("kind", string(c.kind)))

		if c.handlers.OnClose != nil {
			c.handlers.OnClose(err)
		}
	})
}

// readPump pumps inbound frames to the handlers until the connection dies
func (c *Channel) readPump() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closeChan:
				// local close in progress, not a failure
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.logger.Warn("Channel read error",
						logger.String("session_id", c.sessionID),
						logger.Error(err))
				}
				c.shutdown(err)
			}
			return
		}

		c.dispatch(data)
	}
}

func (c *Channel) dispatch(data []byte) {
	switch c.kind {
	case session.KindChat:
		var ev ChatEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Error("Failed to parse chat event", logger.Error(err))
			return
		}
		if c.handlers.OnChat != nil {
			c.handlers.OnChat(ev)
		}
	case session.KindWhiteboard:
		var ev DrawEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Error("Failed to parse draw event", logger.Error(err))
			return
		}
		if ev.Type != "draw" {
			c.logger.Debug("Ignoring unknown whiteboard event",
				logger.String("event_type", ev.Type))
			return
		}
		if c.handlers.OnDraw != nil {
			c.handlers.OnDraw(ev)
		}
	}
}

// writePump serializes outbound frames on one writer goroutine
func (c *Channel) writePump() {
	for {
		select {
		case data := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("Channel write error",
					logger.String("session_id", c.sessionID),
					logger.Error(err))
				c.shutdown(err)
				return
			}
		case <-c.closeChan:
			return
		}
	}
}
