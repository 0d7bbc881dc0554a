package registry

import (
	"testing"
	"time"

	"github.com/vinayprograms/podium/failover"
	"github.com/vinayprograms/podium/heartbeat"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func beat(id string, role failover.Role, active bool) *heartbeat.Message {
	return &heartbeat.Message{DeviceID: id, Role: role, IsActive: active, Timestamp: t0}
}

func TestMemoryRegistry_ObserveAndSweep(t *testing.T) {
	r := NewMemoryRegistry("main-1", failover.RoleMain, 15*time.Second)

	c, changed := r.Observe(beat("backup-1", failover.RoleBackup, false), t0)
	if !changed || c.From != StatusUnknown || c.To != StatusOnline {
		t.Errorf("first observe: %+v %v", c, changed)
	}
	if _, changed := r.Observe(beat("backup-1", failover.RoleBackup, false), t0.Add(time.Second)); changed {
		t.Error("repeat observe should not report a change")
	}

	if changes := r.Sweep(t0.Add(10 * time.Second)); len(changes) != 0 {
		t.Errorf("early sweep: %+v", changes)
	}
	changes := r.Sweep(t0.Add(17 * time.Second))
	if len(changes) != 1 || changes[0].To != StatusOffline {
		t.Fatalf("sweep after ttl: %+v", changes)
	}
	if len(r.Sweep(t0.Add(30*time.Second))) != 0 {
		t.Error("offline device reported again")
	}

	c, changed = r.Observe(beat("backup-1", failover.RoleBackup, true), t0.Add(40*time.Second))
	if !changed || c.From != StatusOffline {
		t.Errorf("recovery: %+v %v", c, changed)
	}
	rec, err := r.Get("backup-1")
	if err != nil || !rec.IsActive {
		t.Errorf("Get = %+v, %v", rec, err)
	}
}

func TestMemoryRegistry_Get(t *testing.T) {
	r := NewMemoryRegistry("main-1", failover.RoleMain, time.Second)
	if _, err := r.Get(""); err != ErrInvalidID {
		t.Errorf("Get(\"\") = %v", err)
	}
	if _, err := r.Get("nope"); err != ErrNotFound {
		t.Errorf("Get(nope) = %v", err)
	}
}

func TestMemoryRegistry_DeviceStatus(t *testing.T) {
	r := NewMemoryRegistry("backup-1", failover.RoleBackup, 15*time.Second)

	st := r.DeviceStatus()
	if st["backup"] != StatusOnline || st["main"] != StatusUnknown || st["moderator"] != StatusUnknown {
		t.Errorf("initial status = %v", st)
	}

	r.Observe(beat("main-1", failover.RoleMain, true), t0)
	r.Observe(beat("mod-1", failover.RoleModerator, false), t0)
	r.Observe(beat("mod-2", failover.RoleModerator, false), t0.Add(10*time.Second))
	r.Sweep(t0.Add(20 * time.Second))

	st = r.DeviceStatus()
	if st["main"] != StatusOffline {
		t.Errorf("main = %v, want OFFLINE", st["main"])
	}
	if st["moderator"] != StatusOnline {
		t.Errorf("moderator = %v, want ONLINE while one is alive", st["moderator"])
	}
}

func TestMemoryRegistry_ListSorted(t *testing.T) {
	r := NewMemoryRegistry("x", failover.RoleModerator, time.Minute)
	r.Observe(beat("m2", failover.RoleModerator, false), t0)
	r.Observe(beat("b1", failover.RoleBackup, false), t0)
	r.Observe(beat("a1", failover.RoleMain, true), t0)

	list := r.List()
	want := []string{"b1", "a1", "m2"} // BACKUP < MAIN < MODERATOR
	if len(list) != len(want) {
		t.Fatalf("len = %d", len(list))
	}
	for i, id := range want {
		if list[i].DeviceID != id {
			t.Errorf("list[%d] = %s, want %s", i, list[i].DeviceID, id)
		}
	}
}
