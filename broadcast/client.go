package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/vinayprograms/podium/auth"
)

// Client is one connected viewer, presenter or moderator channel. Its
// outbound queue is bounded: when full, the oldest frame is discarded so
// the newest state always gets through.
type Client struct {
	ID     string
	Grant  auth.Grant
	Remote string

	queue   chan []byte
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

func newClient(id string, grant auth.Grant, remote string, size int) *Client {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Client{
		ID:     id,
		Grant:  grant,
		Remote: remote,
		queue:  make(chan []byte, size),
		done:   make(chan struct{}),
	}
}

// Send enqueues frame without blocking. It returns false once the client
// has been removed.
func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	for {
		select {
		case c.queue <- frame:
			return true
		default:
		}
		// Full: drop the oldest frame and try again.
		select {
		case <-c.queue:
			c.dropped.Add(1)
		default:
		}
	}
}

// Messages returns the outbound frames in order.
func (c *Client) Messages() <-chan []byte {
	return c.queue
}

// Done is closed when the client is removed from the hub.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Dropped returns how many frames were discarded for this client.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

func (c *Client) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.done)
	return true
}
