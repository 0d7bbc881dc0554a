// Package node runs one device: a single event loop that owns the session
// store, the heartbeat publisher and monitor, and the failover state.
//
// Every mutation of device state happens on the loop goroutine, so sequence
// increments, failover transitions and broadcasts are strictly ordered.
// Client handlers reach the loop through Submit and Connect; HTTP readers
// use the lock-protected accessors (View, Devices, FailoverState).
package node

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/podium/auth"
	"github.com/vinayprograms/podium/broadcast"
	"github.com/vinayprograms/podium/bus"
	"github.com/vinayprograms/podium/command"
	perrors "github.com/vinayprograms/podium/errors"
	"github.com/vinayprograms/podium/failover"
	"github.com/vinayprograms/podium/health"
	"github.com/vinayprograms/podium/heartbeat"
	"github.com/vinayprograms/podium/journal"
	"github.com/vinayprograms/podium/logging"
	"github.com/vinayprograms/podium/registry"
	"github.com/vinayprograms/podium/session"
	"github.com/vinayprograms/podium/telemetry"
)

// Common errors.
var (
	ErrInvalidConfig  = errors.New("invalid node config")
	ErrAlreadyRunning = errors.New("node already running")
	ErrBusClosed      = errors.New("bus subscription closed")
)

// HealthSource supplies the latest local health sample.
type HealthSource interface {
	Latest() health.Snapshot
}

type steadyHealth struct{}

func (steadyHealth) Latest() health.Snapshot { return health.Snapshot{NetworkOK: true} }

// Config wires a node.
type Config struct {
	DeviceID string
	Role     failover.Role

	Bus    bus.MessageBus
	Topics bus.Topics

	Store    *session.Store
	Router   *command.Router
	Hub      *broadcast.Hub
	Registry *registry.MemoryRegistry
	Journal  journal.Journal
	Health   HealthSource
	Tracer   *telemetry.Tracer
	Logger   *logging.Logger

	// HeartbeatInterval is how often beats are published
	// (health_check_interval).
	HeartbeatInterval time.Duration

	// CheckInterval is how often peer recency is checked
	// (backup_check_interval).
	CheckInterval time.Duration

	// FailoverTimeout is the silence after which a standby promotes.
	FailoverTimeout time.Duration

	// TickInterval drives the session timer.
	// Default: 1s
	TickInterval time.Duration

	// SnapshotEvery forces a snapshot into every Nth active beat.
	SnapshotEvery int

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

func (c *Config) validate() error {
	if c.DeviceID == "" || !c.Role.Valid() || c.Bus == nil || c.Store == nil || c.Router == nil || c.Hub == nil {
		return ErrInvalidConfig
	}
	if c.HeartbeatInterval <= 0 || c.CheckInterval <= 0 || c.FailoverTimeout <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Node is one running device.
type Node struct {
	cfg Config
	log *logging.Logger

	publisher *heartbeat.Publisher
	monitor   *heartbeat.Monitor

	// calls carries closures to run on the loop goroutine.
	calls   chan func()
	stopped chan struct{}
	running atomic.Bool

	mu    sync.RWMutex
	state failover.State

	// Loop-owned scratch for effects that need the triggering message.
	current        *heartbeat.Message
	pendingHandoff *session.State
	pendingForce   string
}

// New creates a node in STANDBY. Peer clocks start now, so a fresh device
// waits a full failover timeout before promoting.
func New(cfg Config) (*Node, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Topics.Heartbeat == "" {
		cfg.Topics = bus.NewTopics("")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.NewMemoryRegistry(cfg.DeviceID, cfg.Role, cfg.FailoverTimeout)
	}
	if cfg.Journal == nil {
		cfg.Journal = journal.NewMemoryJournal(0)
	}
	if cfg.Health == nil {
		cfg.Health = steadyHealth{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.GetTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	pub, err := heartbeat.NewPublisher(heartbeat.PublisherConfig{
		Bus:           cfg.Bus,
		Subject:       cfg.Topics.Heartbeat,
		DeviceID:      cfg.DeviceID,
		Role:          cfg.Role,
		SnapshotEvery: cfg.SnapshotEvery,
	})
	if err != nil {
		return nil, err
	}

	return &Node{
		cfg:       cfg,
		log:       cfg.Logger.WithComponent("node").WithDevice(cfg.DeviceID),
		publisher: pub,
		monitor:   heartbeat.NewMonitor(cfg.DeviceID, cfg.FailoverTimeout, cfg.Now()),
		calls:     make(chan func()),
		stopped:   make(chan struct{}),
		state:     failover.StateStandby,
	}, nil
}

// ID returns the device id.
func (n *Node) ID() string { return n.cfg.DeviceID }

// Role returns the device role.
func (n *Node) Role() failover.Role { return n.cfg.Role }

// FailoverState returns the current failover state.
func (n *Node) FailoverState() failover.State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Active reports whether this device owns the session.
func (n *Node) Active() bool {
	return n.FailoverState() == failover.StateActive
}

func (n *Node) setState(s failover.State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

// Run subscribes to the device topics and runs the loop until ctx is done.
// On the way out an active device hands the session to its peer.
func (n *Node) Run(ctx context.Context) error {
	if n.running.Swap(true) {
		return ErrAlreadyRunning
	}
	defer close(n.stopped)

	hbSub, err := n.cfg.Bus.Subscribe(n.cfg.Topics.Heartbeat)
	if err != nil {
		return perrors.Wrap(err, "subscribe heartbeat", perrors.WithDeviceID(n.cfg.DeviceID))
	}
	defer hbSub.Unsubscribe()
	foSub, err := n.cfg.Bus.Subscribe(n.cfg.Topics.Failover)
	if err != nil {
		return perrors.Wrap(err, "subscribe failover", perrors.WithDeviceID(n.cfg.DeviceID))
	}
	defer foSub.Unsubscribe()

	publish := time.NewTicker(n.cfg.HeartbeatInterval)
	defer publish.Stop()
	check := time.NewTicker(n.cfg.CheckInterval)
	defer check.Stop()
	tick := time.NewTicker(n.cfg.TickInterval)
	defer tick.Stop()

	n.log.Info("node_started", map[string]interface{}{
		"role":    n.cfg.Role,
		"timeout": n.cfg.FailoverTimeout.String(),
	})
	n.publishBeat(n.cfg.Now())

	for {
		select {
		case <-ctx.Done():
			n.shutdown(n.cfg.Now())
			return nil

		case <-publish.C:
			n.publishBeat(n.cfg.Now())

		case <-check.C:
			n.onCheck(n.cfg.Now())

		case <-tick.C:
			n.onTick(n.cfg.Now())

		case m, ok := <-hbSub.Messages():
			if !ok {
				return ErrBusClosed
			}
			n.onHeartbeat(m.Data, n.cfg.Now())

		case m, ok := <-foSub.Messages():
			if !ok {
				return ErrBusClosed
			}
			n.onHandoff(m.Data, n.cfg.Now())

		case fn := <-n.calls:
			fn()
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (n *Node) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case n.calls <- wrapped:
	case <-ctx.Done():
		return perrors.New(perrors.ErrCodeCanceled, "request canceled", perrors.WithCause(ctx.Err()))
	case <-n.stopped:
		return perrors.New(perrors.ErrCodeUnavailable, "device stopped", perrors.WithDeviceID(n.cfg.DeviceID))
	}
	<-done
	return nil
}

// Submit handles one client command on the loop and returns the outcome for
// the issuing client.
func (n *Node) Submit(ctx context.Context, req command.Request) command.Result {
	var res command.Result
	err := n.do(ctx, func() {
		res = n.handleCommand(ctx, req, n.cfg.Now())
	})
	if err != nil {
		e := perrors.As(err)
		return command.Result{OK: false, Code: string(e.Code()), Message: e.Message(), Sequence: n.cfg.Store.Sequence()}
	}
	return res
}

// Connect registers a client and queues its initial full snapshot. Running
// on the loop keeps the snapshot ordered before any later broadcast.
func (n *Node) Connect(ctx context.Context, clientID string, grant auth.Grant, remote string) (*broadcast.Client, error) {
	var (
		client *broadcast.Client
		addErr error
	)
	err := n.do(ctx, func() {
		client, addErr = n.cfg.Hub.Add(clientID, grant, remote)
		if addErr != nil {
			return
		}
		n.cfg.Hub.SendTo(clientID, broadcast.FrameState, n.View())
	})
	if err != nil {
		return nil, err
	}
	return client, addErr
}

// Disconnect removes a client. Safe to call more than once.
func (n *Node) Disconnect(clientID string) {
	n.cfg.Hub.Remove(clientID)
	n.cfg.Router.Forget(clientID)
}

// View assembles the full client view. Safe from any goroutine.
func (n *Node) View() broadcast.View {
	st := n.FailoverState()
	return broadcast.View{
		State:        n.cfg.Store.Snapshot(),
		DeviceStatus: n.cfg.Registry.DeviceStatus(),
		SystemHealth: n.cfg.Health.Latest().Summary(),
		Device: broadcast.DeviceInfo{
			ID:            n.cfg.DeviceID,
			Role:          string(n.cfg.Role),
			Active:        st == failover.StateActive,
			FailoverState: string(st),
		},
		ConnectedClients: n.cfg.Hub.Count(),
	}
}

// Devices returns this device's own record followed by every known peer.
func (n *Node) Devices() []registry.DeviceRecord {
	st := n.FailoverState()
	self := registry.DeviceRecord{
		DeviceID:        n.cfg.DeviceID,
		Role:            n.cfg.Role,
		DeclaredStatus:  registry.StatusOnline,
		IsActive:        st == failover.StateActive,
		FailoverState:   st,
		Sequence:        n.cfg.Store.Sequence(),
		LastHeartbeatAt: n.cfg.Now().UTC(),
		Health:          n.cfg.Health.Latest(),
	}
	return append([]registry.DeviceRecord{self}, n.cfg.Registry.List()...)
}

// Journal returns recent journal entries.
func (n *Node) Journal(ctx context.Context, limit int) ([]journal.Entry, error) {
	return n.cfg.Journal.Recent(ctx, limit)
}
