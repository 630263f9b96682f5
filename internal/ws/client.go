package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/signaling-relay/backend/internal/model"
)

// Client represents a WebSocket client connection.
type Client struct {
	id          string
	conn        *websocket.Conn
	remoteAddr  string
	userAgent   string
	connectedAt time.Time
	send        chan []byte

	received  atomic.Int64
	delivered atomic.Int64

	mu     sync.Mutex
	closed bool
}

// NewClient creates a new client with a send queue of the given size.
// conn may be nil in tests.
func NewClient(conn *websocket.Conn, remoteAddr, userAgent string, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Client{
		id:          uuid.NewString(),
		conn:        conn,
		remoteAddr:  remoteAddr,
		userAgent:   userAgent,
		connectedAt: time.Now(),
		send:        make(chan []byte, bufferSize),
	}
}

// Send queues data for the client without blocking. When the queue is
// full the frame is skipped and the client stays open.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return model.ErrPeerClosed
	}

	select {
	case c.send <- data:
		c.delivered.Add(1)
		return nil
	default:
		return model.ErrSendBufferFull
	}
}

// Close closes the client's send queue. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ID returns the client's unique identifier.
func (c *Client) ID() string {
	return c.id
}

// RemoteAddr returns the address the client connected from.
func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

// UserAgent returns the User-Agent header sent during the handshake.
func (c *Client) UserAgent() string {
	return c.userAgent
}

// ConnectedAt returns when the client was created.
func (c *Client) ConnectedAt() time.Time {
	return c.connectedAt
}

// MessagesReceived returns how many messages from this client were fanned out.
func (c *Client) MessagesReceived() int64 {
	return c.received.Load()
}

// MessagesDelivered returns how many messages were queued for this client.
func (c *Client) MessagesDelivered() int64 {
	return c.delivered.Load()
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}
