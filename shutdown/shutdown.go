package shutdown

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout indicates the stop budget ran out before every phase ran.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed indicates one or more handlers returned an error.
	ErrHandlerFailed = errors.New("one or more handlers failed")
)

// Phases used by podiumd. Lower phases stop first; handlers within a phase
// stop concurrently.
const (
	// PhaseDevice stops the device loop. An active device yields to its
	// peer here, so the bus must still be up.
	PhaseDevice = 10

	// PhaseServer closes client sockets and the HTTP listener.
	PhaseServer = 20

	// PhaseTransport closes the bus, the deck dispatcher and the health
	// sampler.
	PhaseTransport = 30

	// PhaseStorage flushes the journal and the trace exporter.
	PhaseStorage = 40
)

// Handler is implemented by components that stop gracefully.
type Handler interface {
	// OnShutdown is called once. ctx is cancelled when the budget runs out.
	OnShutdown(ctx context.Context) error
}

// Func adapts a function to Handler.
type Func func(ctx context.Context) error

// OnShutdown implements Handler.
func (f Func) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// CloserFunc adapts a func() error, like io.Closer.Close, to Handler.
func CloserFunc(fn func() error) Handler {
	return Func(func(context.Context) error { return fn() })
}

// HandlerResult records how one handler stopped.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the full shutdown report.
type Result struct {
	TotalDuration time.Duration
	Results       []HandlerResult
	Err           error
}

// Failed reports whether any handler failed or the budget ran out.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// FailedHandlers lists the handlers that returned an error.
func (r *Result) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures a Coordinator.
type Config struct {
	// Timeout bounds the whole shutdown when triggered by a signal.
	// Default: 10 seconds
	Timeout time.Duration

	// ContinueOnError keeps later phases running after a handler fails.
	ContinueOnError bool

	// OnProgress is called as each handler finishes.
	OnProgress func(HandlerResult)
}

// DefaultConfig returns the configuration podiumd uses.
func DefaultConfig() Config {
	return Config{
		Timeout:         10 * time.Second,
		ContinueOnError: true,
	}
}

type registration struct {
	name    string
	handler Handler
	phase   int
}
