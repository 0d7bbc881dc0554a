package heartbeat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vinayprograms/podium/failover"
	"github.com/vinayprograms/podium/health"
	"github.com/vinayprograms/podium/session"
)

// Common errors.
var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrInvalidMessage = errors.New("invalid heartbeat")
)

// Message is one liveness beacon. Beacons are never persisted.
type Message struct {
	// DeviceID uniquely identifies the sender.
	DeviceID string `json:"device_id"`

	Role failover.Role `json:"role"`

	// IsActive is true only while the sender owns the session.
	IsActive bool `json:"is_active"`

	// FailoverState is informational; IsActive is authoritative.
	FailoverState failover.State `json:"failover_state"`

	SessionSequence uint64 `json:"session_sequence"`

	// Snapshot is attached by active senders when their sequence moved,
	// and periodically so late joiners catch up.
	Snapshot *session.State `json:"session_snapshot,omitempty"`

	Health health.Snapshot `json:"health"`

	Timestamp time.Time `json:"timestamp"`
}

// Marshal serializes a heartbeat to JSON.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal decodes and validates a heartbeat.
func Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the fields a receiver relies on.
func (m *Message) Validate() error {
	if m.DeviceID == "" {
		return fmt.Errorf("%w: missing device_id", ErrInvalidMessage)
	}
	if !m.Role.Valid() {
		return fmt.Errorf("%w: role %q", ErrInvalidMessage, m.Role)
	}
	if m.IsActive && !m.Role.CanLead() {
		return fmt.Errorf("%w: %s cannot be active", ErrInvalidMessage, m.Role)
	}
	if m.Snapshot != nil {
		if err := m.Snapshot.Validate(); err != nil {
			return fmt.Errorf("%w: snapshot: %v", ErrInvalidMessage, err)
		}
		if m.Snapshot.Sequence != m.SessionSequence {
			return fmt.Errorf("%w: snapshot sequence %d != %d", ErrInvalidMessage, m.Snapshot.Sequence, m.SessionSequence)
		}
	}
	return nil
}
