package registry

import (
	"errors"
	"time"

	"github.com/vinayprograms/podium/failover"
	"github.com/vinayprograms/podium/health"
)

// Common errors.
var (
	ErrNotFound  = errors.New("device not found")
	ErrInvalidID = errors.New("invalid device ID")
)

// Status is a device's declared reachability.
type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
	StatusUnknown Status = "UNKNOWN"
)

// DeviceRecord is the cached view of one device, rebuilt from its heartbeats.
// Each device owns its own record; copies held here are read-only.
type DeviceRecord struct {
	DeviceID        string          `json:"device_id"`
	Role            failover.Role   `json:"role"`
	DeclaredStatus  Status          `json:"declared_status"`
	IsActive        bool            `json:"is_active"`
	FailoverState   failover.State  `json:"failover_state"`
	Sequence        uint64          `json:"session_sequence"`
	LastHeartbeatAt time.Time       `json:"last_heartbeat_at"`
	Health          health.Snapshot `json:"health"`
}

// Change reports a device moving between statuses.
type Change struct {
	Record DeviceRecord
	From   Status
	To     Status
}

// statusKeys maps roles to the keys clients expect in device_status.
var statusKeys = map[failover.Role]string{
	failover.RoleMain:      "main",
	failover.RoleBackup:    "backup",
	failover.RoleModerator: "moderator",
}

// StatusKey returns the device_status key for role.
func StatusKey(role failover.Role) string {
	return statusKeys[role]
}
