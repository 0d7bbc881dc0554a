// Package heartbeat implements the liveness protocol between podium devices.
//
// # Overview
//
// Every device publishes a Message on the heartbeat topic every health check
// interval. The active device marks its beats with is_active=true and
// attaches a session snapshot whenever its sequence moved. Receivers never
// rely on broker disconnect notifications: the only failure signal is the
// absence of an active beat for longer than the failover timeout.
//
//	┌──────────┐  <prefix>heartbeat  ┌──────────┐
//	│   MAIN   │ ◀─────────────────▶ │  BACKUP  │
//	└──────────┘          ▲          └──────────┘
//	                      │
//	               ┌─────────────┐
//	               │  MODERATOR  │
//	               └─────────────┘
//
// Operator role switches travel on <prefix>failover as Handoff messages.
//
// # Usage
//
// Publisher and Monitor hold no goroutines or locks; the device loop calls
// them:
//
//	pub, _ := heartbeat.NewPublisher(heartbeat.PublisherConfig{
//	    Bus: b, Subject: topics.Heartbeat, DeviceID: id, Role: failover.RoleBackup,
//	})
//	mon := heartbeat.NewMonitor(id, 15*time.Second, time.Now())
//
//	// on tick
//	pub.Publish(heartbeat.Beat{Active: active, Session: store.Snapshot(), Now: now})
//	// on message
//	obs := mon.Observe(msg, now)
//	// on check tick
//	d := failover.Transition(role, state, mon.Check(now), timeout)
//
// # Recommendations
//
//   - Keep the failover timeout at least 3x the heartbeat interval
//   - Keep the check interval below the failover timeout
package heartbeat
