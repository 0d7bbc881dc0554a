// Package failover decides, per device, who owns the session.
//
// The decision is a pure function of the device role, its current state and
// one event. The caller (the device loop) carries out the returned effects:
//
//	            peer silent > timeout
//	  STANDBY ─────────────────────────▶ PROMOTING
//	     ▲                                   │ snapshot adopted
//	     │ MAIN active beat / operator       ▼
//	     └──────────────────────────────── ACTIVE
//
// MAIN and BACKUP cycle through these states. MODERATOR stays in STANDBY
// and can only ask others to switch.
package failover

import (
	"fmt"
	"strings"
	"time"
)

// Role is a device's fixed position in the deployment.
type Role string

const (
	RoleMain      Role = "MAIN"
	RoleBackup    Role = "BACKUP"
	RoleModerator Role = "MODERATOR"
)

// ParseRole accepts any case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown device role %q", s)
	}
	return r, nil
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleMain, RoleBackup, RoleModerator:
		return true
	}
	return false
}

// CanLead reports whether r may ever hold ACTIVE.
func (r Role) CanLead() bool {
	return r == RoleMain || r == RoleBackup
}

// Peer returns the designated peer: MAIN for BACKUP and BACKUP for MAIN.
func (r Role) Peer() Role {
	switch r {
	case RoleMain:
		return RoleBackup
	case RoleBackup:
		return RoleMain
	}
	return ""
}

// State is a device's failover state.
type State string

const (
	StateStandby   State = "STANDBY"
	StatePromoting State = "PROMOTING"
	StateActive    State = "ACTIVE"
)

// EventKind enumerates the inputs to Transition.
type EventKind int

const (
	// Check is the periodic liveness check.
	Check EventKind = iota
	// PeerHeartbeat is a heartbeat received from another device.
	PeerHeartbeat
	// SwitchRequested is an operator switch_to_main or switch_to_backup
	// command accepted on this device.
	SwitchRequested
	// HandoffRequested is a request message from another device asking the
	// active device to yield to Target.
	HandoffRequested
	// HandoffYielded is a yield message handing the session to Target.
	HandoffYielded
	// Promoted reports that snapshot adoption finished.
	Promoted
	// Shutdown reports a clean stop of this device.
	Shutdown
)

var eventNames = map[EventKind]string{
	Check:            "check",
	PeerHeartbeat:    "peer_heartbeat",
	SwitchRequested:  "switch_requested",
	HandoffRequested: "handoff_requested",
	HandoffYielded:   "handoff_yielded",
	Promoted:         "promoted",
	Shutdown:         "shutdown",
}

func (k EventKind) String() string {
	if n, ok := eventNames[k]; ok {
		return n
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one input to Transition. Only the fields relevant to Kind are read.
type Event struct {
	Kind EventKind
	Now  time.Time

	// Check: when a heartbeat from a device claiming ACTIVE was last seen,
	// and when MAIN was last heard from in any state.
	LastActivePeer time.Time
	LastMainSeen   time.Time

	// PeerHeartbeat: the sender's role and active claim.
	PeerRole   Role
	PeerActive bool

	// SwitchRequested, HandoffRequested, HandoffYielded: the role that
	// should end up ACTIVE.
	Target Role

	// SwitchRequested: whether an active peer is currently alive.
	PeerActiveAlive bool
}

// Effect is an action the caller must perform after a transition.
type Effect int

const (
	// AdoptLatest adopts the newest snapshot seen in any heartbeat.
	AdoptLatest Effect = iota
	// AdoptHandoff adopts the snapshot carried by the yield message.
	AdoptHandoff
	// BeginActive starts acting as the owner: publish an active heartbeat
	// immediately and start the timer tick.
	BeginActive
	// Demote stops acting as the owner and restarts the peer clock.
	Demote
	// ForceAdoptPeer adopts the winning peer's snapshot regardless of
	// sequence, discarding local overlap mutations.
	ForceAdoptPeer
	// AssertActive republishes an active heartbeat with a snapshot so a
	// competing device demotes quickly.
	AssertActive
	// PublishRequest asks the device holding ACTIVE to yield to Target.
	PublishRequest
	// PublishYield hands the session to Target, carrying a snapshot.
	PublishYield
)

var effectNames = map[Effect]string{
	AdoptLatest:    "adopt_latest",
	AdoptHandoff:   "adopt_handoff",
	BeginActive:    "begin_active",
	Demote:         "demote",
	ForceAdoptPeer: "force_adopt_peer",
	AssertActive:   "assert_active",
	PublishRequest: "publish_request",
	PublishYield:   "publish_yield",
}

func (e Effect) String() string {
	if n, ok := effectNames[e]; ok {
		return n
	}
	return fmt.Sprintf("effect(%d)", int(e))
}

// Decision is the result of one transition.
type Decision struct {
	Next    State
	Effects []Effect

	// Target is the role named in PublishRequest or PublishYield.
	Target Role

	// Reason is a short machine-friendly cause for logs and the journal.
	Reason string
}

// Changed reports whether the decision moves the device to a new state.
func (d Decision) Changed(from State) bool {
	return d.Next != from
}

// Has reports whether e is among the effects.
func (d Decision) Has(e Effect) bool {
	for _, x := range d.Effects {
		if x == e {
			return true
		}
	}
	return false
}
