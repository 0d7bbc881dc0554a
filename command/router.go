package command

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/vinayprograms/podium/auth"
	"github.com/vinayprograms/podium/deck"
	"github.com/vinayprograms/podium/errors"
	"github.com/vinayprograms/podium/failover"
	"github.com/vinayprograms/podium/logging"
	"github.com/vinayprograms/podium/session"
	"github.com/vinayprograms/podium/telemetry"
)

// Enqueuer accepts slide navigation for the deck. *deck.Dispatcher
// satisfies it.
type Enqueuer interface {
	Enqueue(cmd deck.Command) error
}

// RouterConfig configures a Router.
type RouterConfig struct {
	Store    *session.Store
	Deck     Enqueuer
	DeviceID string
	Logger   *logging.Logger
	Tracer   *telemetry.Tracer

	// Rate and Burst bound commands per client. Zero Rate disables limiting.
	Rate  rate.Limit
	Burst int
}

// Request is one inbound client frame.
type Request struct {
	ClientID string
	Grant    auth.Grant
	Raw      []byte
}

// Result is the reply sent to the issuing client only.
type Result struct {
	OK       bool   `json:"ok"`
	Type     string `json:"type,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
	Clamped  bool   `json:"clamped,omitempty"`
	Sequence uint64 `json:"sequence"`
}

// Outcome is what the device loop needs after a command was handled.
type Outcome struct {
	Result Result

	// Changed means the session advanced and must be broadcast.
	Changed bool
	State   session.State

	// Switch is set for accepted control commands. The loop feeds it to
	// failover as a SwitchRequested event.
	Switch *failover.Role
}

// Router validates, authorizes and applies client commands.
type Router struct {
	cfg RouterConfig
	log *logging.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRouter creates a router.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.GetTracer()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Router{
		cfg:      cfg,
		log:      cfg.Logger.WithComponent("command"),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Handle processes one request. active reports whether this device
// currently owns the session; mutations are refused otherwise.
func (r *Router) Handle(ctx context.Context, req Request, active bool) Outcome {
	_, span := r.cfg.Tracer.StartCommandSpan(ctx)
	out, kind, err := r.handle(req, active)

	opts := telemetry.CommandSpanOptions{
		Type:     kind,
		ClientID: req.ClientID,
		DeviceID: r.cfg.DeviceID,
		Changed:  out.Changed,
		Sequence: out.Result.Sequence,
		Payload:  string(req.Raw),
	}
	if err != nil {
		code := errors.Code(err)
		opts.Code = string(code)
		out.Result = Result{
			OK:       false,
			Type:     kind,
			Code:     string(code),
			Message:  message(err),
			Sequence: r.cfg.Store.Sequence(),
		}
		out.Changed = false
		out.Switch = nil
		r.log.CommandRejected(kind, req.ClientID, string(code), message(err))
	} else if out.Changed {
		r.log.CommandApplied(kind, req.ClientID, out.Result.Sequence)
	}
	r.cfg.Tracer.EndCommandSpan(span, opts, err)
	return out
}

func (r *Router) handle(req Request, active bool) (Outcome, string, error) {
	env, err := DecodeEnvelope(req.Raw)
	if err != nil {
		return Outcome{}, "", err
	}
	cmd, err := Parse(env)
	if err != nil {
		return Outcome{}, env.Type, err
	}
	kind := cmd.Type()

	if !req.Grant.Has(cmd.Capability()) {
		return Outcome{}, kind, errors.Forbidden("missing capability " + string(cmd.Capability()))
	}
	if !r.allow(req.ClientID) {
		return Outcome{}, kind, errors.RateLimited("too many commands")
	}

	switch c := cmd.(type) {
	case Switch:
		target := c.Target
		return Outcome{
			Result: Result{OK: true, Type: kind, Sequence: r.cfg.Store.Sequence()},
			Switch: &target,
		}, kind, nil

	case Mutate:
		if !active {
			return Outcome{}, kind, errors.NotActive(r.cfg.DeviceID)
		}
		res, err := r.cfg.Store.Apply(c.Mutation)
		if err != nil {
			return Outcome{}, kind, err
		}
		out := Outcome{
			Result:  Result{OK: true, Type: kind, Sequence: res.State.Sequence},
			Changed: res.Changed,
			State:   res.State,
		}
		if move, ok := c.Mutation.(session.SlideMove); ok {
			if !res.Changed {
				out.Result.Clamped = true
			} else {
				r.forward(move, res.State.CurrentSlide)
			}
		}
		return out, kind, nil
	}
	return Outcome{}, kind, errors.Internal("unhandled command type " + kind)
}

// forward hands the move to the deck. The session change stands whatever
// the deck does.
func (r *Router) forward(move session.SlideMove, slide int) {
	if r.cfg.Deck == nil {
		return
	}
	cmd := deck.Command{Action: deck.Action(move.Action), Slide: slide}
	if err := r.cfg.Deck.Enqueue(cmd); err != nil {
		r.log.Warn("deck_enqueue_failed", map[string]interface{}{
			"action": cmd.Action,
			"slide":  slide,
			"error":  err.Error(),
		})
	}
}

func (r *Router) allow(clientID string) bool {
	if r.cfg.Rate == 0 {
		return true
	}
	r.mu.Lock()
	lim, ok := r.limiters[clientID]
	if !ok {
		lim = rate.NewLimiter(r.cfg.Rate, r.cfg.Burst)
		r.limiters[clientID] = lim
	}
	r.mu.Unlock()
	return lim.Allow()
}

// Forget drops the limiter of a disconnected client.
func (r *Router) Forget(clientID string) {
	r.mu.Lock()
	delete(r.limiters, clientID)
	r.mu.Unlock()
}

func message(err error) string {
	if e := errors.As(err); e != nil {
		return e.Message()
	}
	return err.Error()
}
