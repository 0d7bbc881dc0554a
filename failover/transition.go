package failover

import "time"

// Transition computes the next state and effects for a device of role in
// state cur receiving ev. It has no side effects.
func Transition(role Role, cur State, ev Event, timeout time.Duration) Decision {
	stay := Decision{Next: cur}

	if !role.CanLead() {
		// Moderators observe and forward operator switches, nothing else.
		if ev.Kind == SwitchRequested && ev.Target.CanLead() {
			return Decision{Next: StateStandby, Effects: []Effect{PublishRequest}, Target: ev.Target, Reason: "operator_switch"}
		}
		return Decision{Next: StateStandby}
	}

	switch ev.Kind {
	case Check:
		if cur != StateStandby {
			return stay
		}
		if ev.Now.Sub(ev.LastActivePeer) <= timeout {
			return stay
		}
		// A live MAIN will promote itself; BACKUP only steps in once MAIN
		// has gone silent too.
		if role == RoleBackup && ev.Now.Sub(ev.LastMainSeen) <= timeout {
			return stay
		}
		return Decision{Next: StatePromoting, Effects: []Effect{AdoptLatest}, Reason: "peer_timeout"}

	case Promoted:
		if cur != StatePromoting {
			return stay
		}
		return Decision{Next: StateActive, Effects: []Effect{BeginActive}, Reason: "promoted"}

	case PeerHeartbeat:
		if !ev.PeerActive || cur == StateStandby {
			return stay
		}
		if role == RoleBackup && ev.PeerRole == RoleMain {
			return Decision{Next: StateStandby, Effects: []Effect{Demote, ForceAdoptPeer}, Reason: "split_brain"}
		}
		if role == RoleMain && ev.PeerRole == RoleBackup && cur == StateActive {
			return Decision{Next: StateActive, Effects: []Effect{AssertActive}, Reason: "split_brain"}
		}
		return stay

	case SwitchRequested:
		if !ev.Target.CanLead() {
			return stay
		}
		if role == ev.Target {
			if cur == StateActive {
				return stay
			}
			if ev.PeerActiveAlive {
				return Decision{Next: cur, Effects: []Effect{PublishRequest}, Target: ev.Target, Reason: "operator_switch"}
			}
			return Decision{Next: StatePromoting, Effects: []Effect{AdoptLatest}, Reason: "operator_switch"}
		}
		if cur == StateActive {
			return Decision{Next: StateStandby, Effects: []Effect{Demote, PublishYield}, Target: ev.Target, Reason: "operator_switch"}
		}
		return Decision{Next: cur, Effects: []Effect{PublishRequest}, Target: ev.Target, Reason: "operator_switch"}

	case HandoffRequested:
		if cur == StateActive && role != ev.Target && ev.Target.CanLead() {
			return Decision{Next: StateStandby, Effects: []Effect{Demote, PublishYield}, Target: ev.Target, Reason: "handoff_requested"}
		}
		return stay

	case HandoffYielded:
		if role == ev.Target && cur == StateStandby {
			return Decision{Next: StatePromoting, Effects: []Effect{AdoptHandoff}, Reason: "handoff_yielded"}
		}
		return stay

	case Shutdown:
		if cur == StateActive {
			return Decision{Next: StateStandby, Effects: []Effect{Demote, PublishYield}, Target: role.Peer(), Reason: "shutdown"}
		}
		return Decision{Next: StateStandby, Reason: "shutdown"}
	}
	return stay
}
