package heartbeat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vinayprograms/podium/failover"
	"github.com/vinayprograms/podium/session"
)

// HandoffKind distinguishes handoff messages.
type HandoffKind string

const (
	// HandoffRequest asks whoever is active to yield to Target.
	HandoffRequest HandoffKind = "request"
	// HandoffYield tells Target to take over from Snapshot.
	HandoffYield HandoffKind = "yield"
)

// Handoff moves the active role between devices on operator command or
// clean shutdown. Handoffs travel on the failover topic.
type Handoff struct {
	Kind       HandoffKind    `json:"kind"`
	FromDevice string         `json:"from_device"`
	FromRole   failover.Role  `json:"from_role"`
	TargetRole failover.Role  `json:"target_role"`
	Snapshot   *session.State `json:"session_snapshot,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Marshal serializes a handoff to JSON.
func (h *Handoff) Marshal() ([]byte, error) {
	return json.Marshal(h)
}

// UnmarshalHandoff decodes and validates a handoff.
func UnmarshalHandoff(data []byte) (*Handoff, error) {
	var h Handoff
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if h.FromDevice == "" {
		return nil, fmt.Errorf("%w: missing from_device", ErrInvalidMessage)
	}
	if !h.TargetRole.CanLead() {
		return nil, fmt.Errorf("%w: target role %q", ErrInvalidMessage, h.TargetRole)
	}
	switch h.Kind {
	case HandoffRequest:
	case HandoffYield:
		if h.Snapshot == nil {
			return nil, fmt.Errorf("%w: yield without snapshot", ErrInvalidMessage)
		}
		if err := h.Snapshot.Validate(); err != nil {
			return nil, fmt.Errorf("%w: snapshot: %v", ErrInvalidMessage, err)
		}
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidMessage, h.Kind)
	}
	return &h, nil
}
