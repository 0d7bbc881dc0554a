package heartbeat

import (
	"fmt"
	"time"

	"github.com/vinayprograms/podium/bus"
	"github.com/vinayprograms/podium/failover"
	"github.com/vinayprograms/podium/health"
	"github.com/vinayprograms/podium/session"
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Bus carries the beats.
	Bus bus.MessageBus

	// Subject is the heartbeat topic.
	Subject string

	// DeviceID and Role identify this device.
	DeviceID string
	Role     failover.Role

	// SnapshotEvery forces a snapshot into every Nth active beat even when
	// the sequence has not moved.
	// Default: 3
	SnapshotEvery int
}

// Validate checks the configuration.
func (c *PublisherConfig) Validate() error {
	if c.Bus == nil || c.DeviceID == "" || !c.Role.Valid() {
		return ErrInvalidConfig
	}
	if err := bus.ValidateSubject(c.Subject); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Beat is the device status a Publisher needs for one heartbeat.
type Beat struct {
	Active  bool
	State   failover.State
	Session session.State
	Health  health.Snapshot
	Now     time.Time
}

// Publisher builds and sends heartbeats. It is not safe for concurrent use;
// the device loop owns it.
type Publisher struct {
	config PublisherConfig

	beats     int
	lastSeq   uint64
	wasActive bool
	force     bool
}

// NewPublisher creates a publisher.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = 3
	}
	return &Publisher{config: cfg}, nil
}

// ForceSnapshot makes the next beat carry a snapshot.
func (p *Publisher) ForceSnapshot() {
	p.force = true
}

// Build assembles the next heartbeat and advances the snapshot policy.
func (p *Publisher) Build(b Beat) *Message {
	msg := &Message{
		DeviceID:        p.config.DeviceID,
		Role:            p.config.Role,
		IsActive:        b.Active,
		FailoverState:   b.State,
		SessionSequence: b.Session.Sequence,
		Health:          b.Health,
		Timestamp:       b.Now.UTC(),
	}

	if b.Active {
		p.beats++
		attach := p.force ||
			!p.wasActive ||
			b.Session.Sequence != p.lastSeq ||
			p.beats%p.config.SnapshotEvery == 0
		if attach {
			snap := b.Session
			msg.Snapshot = &snap
		}
	} else {
		p.beats = 0
	}

	p.force = false
	p.wasActive = b.Active
	p.lastSeq = b.Session.Sequence
	return msg
}

// Publish builds and sends one heartbeat. The message is returned even when
// publishing fails so callers can log what was lost.
func (p *Publisher) Publish(b Beat) (*Message, error) {
	msg := p.Build(b)
	data, err := msg.Marshal()
	if err != nil {
		return msg, fmt.Errorf("marshal heartbeat: %w", err)
	}
	if err := p.config.Bus.Publish(p.config.Subject, data); err != nil {
		return msg, err
	}
	return msg, nil
}
