// Package deck forwards slide navigation to the external presentation
// software. Delivery is fire-and-forget: a slow or failing actuator never
// blocks or undoes a session change.
package deck

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/podium/logging"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("dispatcher already started")
	ErrQueueFull      = errors.New("deck queue full")
	ErrStopped        = errors.New("dispatcher stopped")
)

// Action is a navigation verb.
type Action string

const (
	ActionNext     Action = "next"
	ActionPrevious Action = "previous"
	ActionGoto     Action = "goto"
)

// Command is one navigation request. Slide is the resulting slide number;
// actuators that only understand relative moves can ignore it.
type Command struct {
	Action Action
	Slide  int
}

// Actuator drives the slide deck.
type Actuator interface {
	Actuate(ctx context.Context, cmd Command) error
}

// LogActuator only logs. It is the default when no deck is attached.
type LogActuator struct {
	Logger *logging.Logger
}

func (a LogActuator) Actuate(_ context.Context, cmd Command) error {
	if a.Logger != nil {
		a.Logger.Info("deck_command", map[string]interface{}{
			"action": cmd.Action,
			"slide":  cmd.Slide,
		})
	}
	return nil
}

// ExecActuator runs an external program per command with the action and
// slide number as arguments, e.g. `deckctl goto 12`.
type ExecActuator struct {
	Program string
	Args    []string
	Timeout time.Duration
}

func (a ExecActuator) Actuate(ctx context.Context, cmd Command) error {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string(nil), a.Args...), string(cmd.Action), strconv.Itoa(cmd.Slide))
	out, err := exec.CommandContext(ctx, a.Program, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", a.Program, cmd.Action, err, out)
	}
	return nil
}

// Dispatcher queues commands for one worker goroutine.
type Dispatcher struct {
	actuator Actuator
	logger   *logging.Logger

	// mu orders Enqueue sends against Stop closing the queue.
	mu      sync.RWMutex
	queue   chan Command
	stopped bool
	running atomic.Bool
	wg      sync.WaitGroup

	sent   atomic.Uint64
	failed atomic.Uint64
	lost   atomic.Uint64
}

// NewDispatcher creates a dispatcher with room for queueSize pending commands.
func NewDispatcher(actuator Actuator, queueSize int, logger *logging.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 16
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Dispatcher{
		actuator: actuator,
		logger:   logger.WithComponent("deck"),
		queue:    make(chan Command, queueSize),
	}
}

// Start launches the worker. It drains the queue and exits when ctx is
// done or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.running.Swap(true) {
		return ErrAlreadyStarted
	}
	d.wg.Add(1)
	go d.run(ctx)
	return nil
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, cmd)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, cmd Command) {
	if err := d.actuator.Actuate(ctx, cmd); err != nil {
		d.failed.Add(1)
		d.logger.Warn("deck_actuation_failed", map[string]interface{}{
			"action": cmd.Action,
			"slide":  cmd.Slide,
			"error":  err.Error(),
		})
		return
	}
	d.sent.Add(1)
}

// Enqueue hands cmd to the worker without blocking.
func (d *Dispatcher) Enqueue(cmd Command) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}
	select {
	case d.queue <- cmd:
		return nil
	default:
		d.lost.Add(1)
		d.logger.Warn("deck_queue_full", map[string]interface{}{
			"action": cmd.Action,
			"slide":  cmd.Slide,
		})
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for pending commands to finish. Later
// Enqueue calls return ErrStopped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()
	if d.running.Load() {
		d.wg.Wait()
	}
}

// Stats reports delivered, failed and dropped command counts.
func (d *Dispatcher) Stats() (sent, failed, lost uint64) {
	return d.sent.Load(), d.failed.Load(), d.lost.Load()
}
