// Package registry keeps the cached DeviceRecord of every device heard on
// the heartbeat topic and derives the device_status summary clients show.
//
// Records are rebuilt from heartbeats only. A device is ONLINE while its
// beats arrive within the failover timeout, OFFLINE after that, and UNKNOWN
// until first heard:
//
//	reg := registry.NewMemoryRegistry(selfID, failover.RoleMain, 15*time.Second)
//	reg.Observe(msg, now)
//	for _, c := range reg.Sweep(now) {
//	    log.Printf("%s %s -> %s", c.Record.DeviceID, c.From, c.To)
//	}
package registry
