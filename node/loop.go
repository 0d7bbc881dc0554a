package node

import (
	"context"
	"time"

	"github.com/vinayprograms/podium/command"
	"github.com/vinayprograms/podium/failover"
	"github.com/vinayprograms/podium/heartbeat"
	"github.com/vinayprograms/podium/journal"
	"github.com/vinayprograms/podium/registry"
	"github.com/vinayprograms/podium/session"
	"github.com/vinayprograms/podium/telemetry"
)

// journalTimeout bounds one journal write from the loop.
const journalTimeout = 2 * time.Second

// publishBeat sends this device's heartbeat. Failures are logged and the
// next tick tries again.
func (n *Node) publishBeat(now time.Time) {
	st := n.FailoverState()
	_, err := n.publisher.Publish(heartbeat.Beat{
		Active:  st == failover.StateActive,
		State:   st,
		Session: n.cfg.Store.Snapshot(),
		Health:  n.cfg.Health.Latest(),
		Now:     now,
	})
	if err != nil {
		n.log.PublishFailed(n.cfg.Topics.Heartbeat, err)
	}
}

// onCheck runs the periodic liveness check and expires silent devices.
func (n *Node) onCheck(now time.Time) {
	n.transition(n.monitor.Check(now))
	for _, ch := range n.cfg.Registry.Sweep(now) {
		n.recordStatus(ch, now)
	}
}

// onTick advances the session timer while active. Only changed ticks are
// broadcast, so reaching zero produces exactly one final frame.
func (n *Node) onTick(now time.Time) {
	if !n.Active() {
		return
	}
	out, err := n.cfg.Store.Apply(session.Tick{})
	if err != nil {
		n.log.Error("timer_tick_failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if out.Changed {
		n.broadcast()
		if !out.State.TimerRunning {
			n.log.Info("timer_expired", map[string]interface{}{"sequence": out.State.Sequence})
		}
	}
}

// onHeartbeat folds a received beat into the monitor and registry, keeps a
// standby replica current and lets failover react.
func (n *Node) onHeartbeat(data []byte, now time.Time) {
	msg, err := heartbeat.Unmarshal(data)
	if err != nil {
		n.log.Warn("heartbeat_dropped", map[string]interface{}{"error": err.Error()})
		return
	}
	if n.monitor.Observe(msg, now).Own {
		return
	}
	if ch, ok := n.cfg.Registry.Observe(msg, now); ok {
		n.recordStatus(ch, now)
	}

	if msg.Snapshot != nil && n.pendingForce == msg.DeviceID {
		n.pendingForce = ""
		n.adopt(*msg.Snapshot, true, "split_brain_deferred")
	} else if msg.IsActive && msg.Snapshot != nil && !n.Active() {
		n.adopt(*msg.Snapshot, false, "replica")
	}

	n.current = msg
	n.transition(failover.Event{
		Kind:       failover.PeerHeartbeat,
		Now:        now,
		PeerRole:   msg.Role,
		PeerActive: msg.IsActive,
	})
	n.current = nil
}

// onHandoff reacts to request and yield messages on the failover topic.
func (n *Node) onHandoff(data []byte, now time.Time) {
	h, err := heartbeat.UnmarshalHandoff(data)
	if err != nil {
		n.log.Warn("handoff_dropped", map[string]interface{}{"error": err.Error()})
		return
	}
	if h.FromDevice == n.cfg.DeviceID {
		return
	}
	n.log.Info("handoff_received", map[string]interface{}{
		"kind":   h.Kind,
		"from":   h.FromDevice,
		"target": h.TargetRole,
	})

	switch h.Kind {
	case heartbeat.HandoffRequest:
		n.transition(failover.Event{Kind: failover.HandoffRequested, Now: now, Target: h.TargetRole})
	case heartbeat.HandoffYield:
		n.pendingHandoff = h.Snapshot
		n.transition(failover.Event{Kind: failover.HandoffYielded, Now: now, Target: h.TargetRole})
		n.pendingHandoff = nil
	}
}

// handleCommand routes one client command. Accepted mutations are broadcast
// before the result is returned; switch commands feed failover.
func (n *Node) handleCommand(ctx context.Context, req command.Request, now time.Time) command.Result {
	out := n.cfg.Router.Handle(ctx, req, n.Active())
	if !out.Result.OK {
		n.appendJournal(journal.Entry{
			Kind:     journal.KindCommandRejected,
			To:       out.Result.Code,
			Reason:   out.Result.Type + ": " + out.Result.Message,
			Sequence: out.Result.Sequence,
			At:       now,
		})
		return out.Result
	}
	if out.Changed {
		n.broadcast()
	}
	if out.Switch != nil {
		n.transition(failover.Event{
			Kind:            failover.SwitchRequested,
			Now:             now,
			Target:          *out.Switch,
			PeerActiveAlive: n.monitor.ActivePeerAlive(now),
		})
	}
	return out.Result
}

// shutdown hands the session over when active.
func (n *Node) shutdown(now time.Time) {
	n.transition(failover.Event{Kind: failover.Shutdown, Now: now})
	n.log.Info("node_stopped", map[string]interface{}{"sequence": n.cfg.Store.Sequence()})
}

// transition applies one failover event and carries out its effects. A
// device entering PROMOTING completes promotion before returning, so no
// command sees the half-promoted state.
func (n *Node) transition(ev failover.Event) {
	from := n.FailoverState()
	d := failover.Transition(n.cfg.Role, from, ev, n.cfg.FailoverTimeout)
	if !d.Changed(from) && len(d.Effects) == 0 {
		return
	}

	n.setState(d.Next)
	for _, e := range d.Effects {
		n.perform(e, d, ev)
	}

	if d.Changed(from) {
		n.recordTransition(from, d, ev.Now)
		n.broadcast()
	}
	if d.Next == failover.StatePromoting {
		n.transition(failover.Event{Kind: failover.Promoted, Now: ev.Now})
	}
}

func (n *Node) perform(e failover.Effect, d failover.Decision, ev failover.Event) {
	switch e {
	case failover.AdoptLatest:
		if snap, ok := n.monitor.Latest(); ok {
			n.adopt(snap, false, "promotion")
		}

	case failover.AdoptHandoff:
		if n.pendingHandoff != nil {
			n.adopt(*n.pendingHandoff, true, "handoff")
		}

	case failover.BeginActive:
		n.monitor.Rebase(n.cfg.Store.Snapshot())
		n.publisher.ForceSnapshot()
		n.publishBeat(ev.Now)

	case failover.Demote:
		n.monitor.Restart(ev.Now)

	case failover.ForceAdoptPeer:
		if n.current == nil {
			return
		}
		if n.current.Snapshot != nil {
			n.adopt(*n.current.Snapshot, true, "split_brain")
		} else {
			// Take the winner's next snapshot, whatever its sequence.
			n.pendingForce = n.current.DeviceID
		}

	case failover.AssertActive:
		n.log.Warn("split_brain_detected", map[string]interface{}{"peer_role": ev.PeerRole})
		// The losing peer's overlap snapshot must not survive in the cache.
		n.monitor.Rebase(n.cfg.Store.Snapshot())
		n.publisher.ForceSnapshot()
		n.publishBeat(ev.Now)

	case failover.PublishRequest:
		n.publishHandoff(heartbeat.HandoffRequest, d.Target, nil, ev.Now)

	case failover.PublishYield:
		snap := n.cfg.Store.Snapshot()
		n.monitor.Rebase(snap)
		n.publishHandoff(heartbeat.HandoffYield, d.Target, &snap, ev.Now)
		// Stop claiming ACTIVE right away rather than at the next tick.
		n.publishBeat(ev.Now)
	}
}

// adopt replaces the local session with snap and pushes it to clients.
func (n *Node) adopt(snap session.State, force bool, reason string) {
	before := n.cfg.Store.Sequence()
	if !n.cfg.Store.Adopt(snap, force) {
		return
	}
	if force {
		n.monitor.Rebase(snap)
	}
	if snap.Sequence < before {
		n.log.Warn("session_regressed", map[string]interface{}{
			"from":   before,
			"to":     snap.Sequence,
			"reason": reason,
		})
	} else {
		n.log.Debug("session_adopted", map[string]interface{}{
			"sequence": snap.Sequence,
			"reason":   reason,
		})
	}
	n.broadcast()
}

func (n *Node) publishHandoff(kind heartbeat.HandoffKind, target failover.Role, snap *session.State, now time.Time) {
	h := &heartbeat.Handoff{
		Kind:       kind,
		FromDevice: n.cfg.DeviceID,
		FromRole:   n.cfg.Role,
		TargetRole: target,
		Snapshot:   snap,
		Timestamp:  now.UTC(),
	}
	data, err := h.Marshal()
	if err == nil {
		err = n.cfg.Bus.Publish(n.cfg.Topics.Failover, data)
	}
	if err != nil {
		n.log.PublishFailed(n.cfg.Topics.Failover, err)
		return
	}
	n.log.Info("handoff_published", map[string]interface{}{"kind": kind, "target": target})
}

// broadcast pushes the current view to every client.
func (n *Node) broadcast() {
	if _, err := n.cfg.Hub.Broadcast(n.View()); err != nil {
		n.log.Error("broadcast_failed", map[string]interface{}{"error": err.Error()})
	}
}

func (n *Node) recordTransition(from failover.State, d failover.Decision, now time.Time) {
	n.log.Transition(string(from), string(d.Next), d.Reason)

	effects := make([]string, len(d.Effects))
	for i, e := range d.Effects {
		effects[i] = e.String()
	}
	n.cfg.Tracer.RecordTransition(context.Background(), telemetry.TransitionSpanOptions{
		DeviceID: n.cfg.DeviceID,
		Role:     string(n.cfg.Role),
		From:     string(from),
		To:       string(d.Next),
		Reason:   d.Reason,
		Effects:  effects,
	})
	n.appendJournal(journal.Entry{
		Kind:     journal.KindTransition,
		From:     string(from),
		To:       string(d.Next),
		Reason:   d.Reason,
		Sequence: n.cfg.Store.Sequence(),
		At:       now,
	})
}

func (n *Node) recordStatus(ch registry.Change, now time.Time) {
	n.log.DeviceStatus(ch.Record.DeviceID, string(ch.Record.Role), string(ch.From), string(ch.To))
	n.appendJournal(journal.Entry{
		Kind:     journal.KindDeviceStatus,
		From:     string(ch.From),
		To:       string(ch.To),
		Reason:   ch.Record.DeviceID,
		Sequence: ch.Record.Sequence,
		At:       now,
	})
	n.broadcast()
}

// appendJournal never fails the caller.
func (n *Node) appendJournal(e journal.Entry) {
	e.DeviceID = n.cfg.DeviceID
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := n.cfg.Journal.Append(ctx, e); err != nil {
		n.log.Warn("journal_append_failed", map[string]interface{}{"kind": e.Kind, "error": err.Error()})
	}
}
