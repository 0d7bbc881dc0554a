package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned after the connection has been closed.
var ErrClosed = errors.New("transport closed")

// Outbound is the queue a Conn drains. *broadcast.Client satisfies it.
type Outbound interface {
	Messages() <-chan []byte
	// Done is closed when the queue's owner stops feeding it.
	Done() <-chan struct{}
}

// Handler processes one inbound frame. Calls are sequential per connection.
type Handler func(ctx context.Context, raw []byte)

// ConnConfig holds WebSocket connection configuration.
type ConnConfig struct {
	// WriteTimeout for write operations.
	WriteTimeout time.Duration

	// ReadTimeout closes connections that send nothing, not even a pong,
	// for this long (0 = no timeout).
	ReadTimeout time.Duration

	// MaxMessageSize limits incoming message size.
	MaxMessageSize int64

	// PingInterval for keepalive pings (0 = disabled).
	PingInterval time.Duration
}

// DefaultConnConfig returns configuration with sensible defaults.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxMessageSize: 64 * 1024,
		PingInterval:   25 * time.Second,
	}
}

// Conn is one client's WebSocket.
type Conn struct {
	conn   *websocket.Conn
	config ConnConfig
	out    Outbound

	mu     sync.Mutex
	closed bool
}

// NewConn wraps an upgraded connection.
func NewConn(conn *websocket.Conn, out Outbound, cfg ConnConfig) *Conn {
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	return &Conn{conn: conn, config: cfg, out: out}
}

// NewUpgrader creates an upgrader for accepting client connections.
// checkOrigin may be nil to accept any origin.
func NewUpgrader(checkOrigin func(r *http.Request) bool) *websocket.Upgrader {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin,
	}
}

// Run pumps frames until ctx is done, the outbound queue is closed or the
// peer goes away. It closes the connection before returning.
func (c *Conn) Run(ctx context.Context, handle Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErr := make(chan error, 1)
	go func() {
		readErr <- c.readLoop(ctx, handle)
		cancel()
	}()

	c.writeLoop(ctx)
	c.Close()
	return <-readErr
}

// Close sends a close frame and closes the socket. Safe to call twice.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// readLoop hands text frames to handle until the socket fails.
func (c *Conn) readLoop(ctx context.Context, handle Handler) error {
	if c.config.ReadTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		})
	}

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if c.config.ReadTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}
		if kind != websocket.TextMessage {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		handle(ctx, data)
	}
}

// writeLoop writes queued frames and keepalive pings.
func (c *Conn) writeLoop(ctx context.Context) {
	ticker := c.createPingTicker()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.out.Done():
			c.drainQueue()
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		case frame := <-c.out.Messages():
			if err := c.writeFrame(frame); err != nil {
				return
			}
		}
	}
}

// createPingTicker creates a ticker for keepalive pings.
func (c *Conn) createPingTicker() *time.Ticker {
	if c.config.PingInterval > 0 {
		return time.NewTicker(c.config.PingInterval)
	}
	// Return a ticker that never fires
	ticker := time.NewTicker(time.Hour)
	ticker.Stop()
	return ticker
}

// drainQueue writes frames still queued when the owner let go.
func (c *Conn) drainQueue() {
	for {
		select {
		case frame := <-c.out.Messages():
			if c.writeFrame(frame) != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) writeFrame(frame []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	if c.config.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}
