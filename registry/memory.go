package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/vinayprograms/podium/failover"
	"github.com/vinayprograms/podium/heartbeat"
)

// MemoryRegistry tracks the latest record per device in memory. The device
// loop writes; HTTP handlers read.
type MemoryRegistry struct {
	mu      sync.RWMutex
	devices map[string]DeviceRecord

	// self is always reported ONLINE in device_status.
	self     string
	selfRole failover.Role

	// ttl after which a silent device is OFFLINE.
	ttl time.Duration
}

// NewMemoryRegistry creates a registry for device self of role, marking
// peers OFFLINE after ttl of silence.
func NewMemoryRegistry(self string, role failover.Role, ttl time.Duration) *MemoryRegistry {
	return &MemoryRegistry{
		devices:  make(map[string]DeviceRecord),
		self:     self,
		selfRole: role,
		ttl:      ttl,
	}
}

// Observe records a heartbeat received at now. A change is returned when the
// device comes ONLINE.
func (r *MemoryRegistry) Observe(msg *heartbeat.Message, now time.Time) (Change, bool) {
	if msg.DeviceID == "" {
		return Change{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.devices[msg.DeviceID]
	from := StatusUnknown
	if exists {
		from = prev.DeclaredStatus
	}

	rec := DeviceRecord{
		DeviceID:        msg.DeviceID,
		Role:            msg.Role,
		DeclaredStatus:  StatusOnline,
		IsActive:        msg.IsActive,
		FailoverState:   msg.FailoverState,
		Sequence:        msg.SessionSequence,
		LastHeartbeatAt: now,
		Health:          msg.Health,
	}
	r.devices[msg.DeviceID] = rec

	if from != StatusOnline {
		return Change{Record: rec, From: from, To: StatusOnline}, true
	}
	return Change{}, false
}

// Sweep marks devices silent for longer than ttl as OFFLINE and returns the
// changes.
func (r *MemoryRegistry) Sweep(now time.Time) []Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changes []Change
	for id, rec := range r.devices {
		if rec.DeclaredStatus == StatusOnline && now.Sub(rec.LastHeartbeatAt) > r.ttl {
			rec.DeclaredStatus = StatusOffline
			rec.IsActive = false
			r.devices[id] = rec
			changes = append(changes, Change{Record: rec, From: StatusOnline, To: StatusOffline})
		}
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Record.DeviceID < changes[j].Record.DeviceID
	})
	return changes
}

// Get returns the record for id.
func (r *MemoryRegistry) Get(id string) (DeviceRecord, error) {
	if id == "" {
		return DeviceRecord{}, ErrInvalidID
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.devices[id]
	if !ok {
		return DeviceRecord{}, ErrNotFound
	}
	return rec, nil
}

// List returns all records sorted by role then id.
func (r *MemoryRegistry) List() []DeviceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DeviceRecord, 0, len(r.devices))
	for _, rec := range r.devices {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role < out[j].Role
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}

// DeviceStatus summarizes reachability per role for clients. A role is
// ONLINE if any device holding it is, OFFLINE if all known devices are
// offline, and UNKNOWN if none was ever heard.
func (r *MemoryRegistry) DeviceStatus() map[string]Status {
	out := map[string]Status{
		"main":      StatusUnknown,
		"backup":    StatusUnknown,
		"moderator": StatusUnknown,
	}

	r.mu.RLock()
	for _, rec := range r.devices {
		key := StatusKey(rec.Role)
		if key == "" {
			continue
		}
		if out[key] != StatusOnline {
			out[key] = rec.DeclaredStatus
		}
	}
	r.mu.RUnlock()

	if key := StatusKey(r.selfRole); key != "" {
		out[key] = StatusOnline
	}
	return out
}
