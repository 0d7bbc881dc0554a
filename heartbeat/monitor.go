package heartbeat

import (
	"time"

	"github.com/vinayprograms/podium/failover"
	"github.com/vinayprograms/podium/session"
)

// Monitor folds received heartbeats into the recency facts the failover
// decision needs. It is not safe for concurrent use; the device loop owns it.
type Monitor struct {
	self    string
	timeout time.Duration

	lastActivePeer time.Time
	lastMainSeen   time.Time
	activePeer     string

	latest *session.State
}

// NewMonitor creates a monitor for device self. Both peer clocks start at
// start, so a fresh device waits a full timeout before promoting.
func NewMonitor(self string, timeout time.Duration, start time.Time) *Monitor {
	return &Monitor{
		self:           self,
		timeout:        timeout,
		lastActivePeer: start,
		lastMainSeen:   start,
	}
}

// Observation summarizes what a heartbeat changed.
type Observation struct {
	// Own is true for the device's own beats, which are otherwise ignored.
	Own bool

	// NewerSnapshot is set when the beat carried the newest snapshot seen.
	NewerSnapshot bool
}

// Observe records msg received at now.
func (m *Monitor) Observe(msg *Message, now time.Time) Observation {
	if msg.DeviceID == m.self {
		return Observation{Own: true}
	}
	if msg.Role == failover.RoleMain {
		m.lastMainSeen = now
	}
	if msg.IsActive {
		m.lastActivePeer = now
		m.activePeer = msg.DeviceID
	}

	var obs Observation
	if msg.Snapshot != nil && (m.latest == nil || msg.Snapshot.Sequence > m.latest.Sequence) {
		snap := *msg.Snapshot
		m.latest = &snap
		obs.NewerSnapshot = true
	}
	return obs
}

// LastActivePeer is when a peer claiming ACTIVE was last heard.
func (m *Monitor) LastActivePeer() time.Time { return m.lastActivePeer }

// LastMainSeen is when MAIN was last heard in any state.
func (m *Monitor) LastMainSeen() time.Time { return m.lastMainSeen }

// ActivePeerAlive reports whether an active peer was heard within timeout.
func (m *Monitor) ActivePeerAlive(now time.Time) bool {
	return m.activePeer != "" && now.Sub(m.lastActivePeer) <= m.timeout
}

// ActivePeer returns the id of the last peer heard claiming ACTIVE.
func (m *Monitor) ActivePeer() string { return m.activePeer }

// Latest returns the newest snapshot seen in any heartbeat.
func (m *Monitor) Latest() (session.State, bool) {
	if m.latest == nil {
		return session.State{}, false
	}
	return *m.latest, true
}

// Rebase replaces the newest known snapshot with snap. The device loop
// calls it whenever session ownership settles (force adopt, yield, asserting
// ACTIVE), so snapshots from a superseded owner are never adopted later even
// when their sequence is higher.
func (m *Monitor) Rebase(snap session.State) {
	m.latest = &snap
}

// Restart resets the peer clocks to now. Called on demotion so the device
// gives the new owner a full timeout to start beating.
func (m *Monitor) Restart(now time.Time) {
	m.lastActivePeer = now
	m.lastMainSeen = now
	m.activePeer = ""
}

// Check builds the periodic failover check event.
func (m *Monitor) Check(now time.Time) failover.Event {
	return failover.Event{
		Kind:           failover.Check,
		Now:            now,
		LastActivePeer: m.lastActivePeer,
		LastMainSeen:   m.lastMainSeen,
	}
}
