// Package broadcast fans session state out to connected clients.
//
// Every broadcast is encoded once and the same bytes are queued for each
// client. Delivery never blocks the caller: each client has its own bounded
// queue that discards its oldest frame when full.
package broadcast

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/vinayprograms/podium/auth"
	"github.com/vinayprograms/podium/health"
	"github.com/vinayprograms/podium/logging"
	"github.com/vinayprograms/podium/registry"
	"github.com/vinayprograms/podium/session"
)

// DefaultQueueSize is the per-client outbound queue length.
const DefaultQueueSize = 32

// Frame types.
const (
	FrameState  = "state"
	FrameResult = "result"
)

var (
	ErrDuplicateClient = errors.New("client id already connected")
	ErrUnknownClient   = errors.New("unknown client")
	ErrHubClosed       = errors.New("hub closed")
)

// DeviceInfo describes the device serving the connection.
type DeviceInfo struct {
	ID            string `json:"id"`
	Role          string `json:"role"`
	Active        bool   `json:"active"`
	FailoverState string `json:"failover_state"`
}

// View is the full state pushed to clients.
type View struct {
	session.State

	DeviceStatus     map[string]registry.Status `json:"device_status"`
	SystemHealth     map[string]health.Level    `json:"system_health"`
	Device           DeviceInfo                 `json:"device"`
	ConnectedClients int                        `json:"connected_clients"`
}

// Frame is the outbound envelope.
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Encode marshals a frame of the given type.
func Encode(kind string, data interface{}) ([]byte, error) {
	return json.Marshal(Frame{Type: kind, Data: data})
}

// Hub owns the set of connected clients.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	queueSize int
	closed    bool
	log       *logging.Logger
}

// NewHub creates a hub whose clients get queueSize-deep queues.
func NewHub(queueSize int, logger *logging.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Hub{
		clients:   make(map[string]*Client),
		queueSize: queueSize,
		log:       logger.WithComponent("broadcast"),
	}
}

// Add registers a client.
func (h *Hub) Add(id string, grant auth.Grant, remote string) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	if _, ok := h.clients[id]; ok {
		return nil, ErrDuplicateClient
	}
	c := newClient(id, grant, remote, h.queueSize)
	h.clients[id] = c
	h.log.ClientConnected(id, remote, grant.Strings())
	return c, nil
}

// Remove unregisters a client. Removing an unknown or already removed
// client is a no-op and returns false.
func (h *Hub) Remove(id string) bool {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()
	if !ok || !c.close() {
		return false
	}
	h.log.ClientDisconnected(id, c.Dropped())
	return true
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IDs returns the connected client ids, sorted.
func (h *Hub) IDs() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Broadcast pushes v to every client and returns how many received it.
func (h *Hub) Broadcast(v View) (int, error) {
	frame, err := Encode(FrameState, v)
	if err != nil {
		return 0, err
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range targets {
		if c.Send(frame) {
			n++
		}
	}
	return n, nil
}

// SendTo queues one frame for a single client.
func (h *Hub) SendTo(id, kind string, data interface{}) error {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownClient
	}
	frame, err := Encode(kind, data)
	if err != nil {
		return err
	}
	if !c.Send(frame) {
		return ErrUnknownClient
	}
	return nil
}

// Close removes every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.Remove(id)
	}
}
