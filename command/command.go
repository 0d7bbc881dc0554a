// Package command parses client control messages and applies them to the
// session store.
package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinayprograms/podium/auth"
	"github.com/vinayprograms/podium/errors"
	"github.com/vinayprograms/podium/failover"
	"github.com/vinayprograms/podium/session"
)

// Command types accepted from clients.
const (
	TypeTimerControl    = "timer_control"
	TypePresenterUpdate = "presenter_update"
	TypeSlideControl    = "slide_control"
	TypeAnnouncement    = "announcement"
	TypeControl         = "control"
)

// Envelope is the inbound frame: {"type": "...", "data": {...}}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Command is a parsed, not yet applied, client command.
type Command interface {
	Type() string
	// Capability is the grant needed to issue the command.
	Capability() auth.Capability
}

// Mutate wraps a session mutation.
type Mutate struct {
	kind       string
	capability auth.Capability
	Mutation   session.Mutation
}

func (m Mutate) Type() string                { return m.kind }
func (m Mutate) Capability() auth.Capability { return m.capability }

// Switch asks for the session to move to Target. It never touches the
// session store.
type Switch struct {
	Target failover.Role
}

func (Switch) Type() string                { return TypeControl }
func (Switch) Capability() auth.Capability { return auth.CapControlRole }

// DecodeEnvelope decodes a raw client frame.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, errors.InvalidInput("malformed message", errors.WithCause(err))
	}
	if env.Type == "" {
		return Envelope{}, errors.InvalidInput("message type is required")
	}
	return env, nil
}

type timerData struct {
	Seconds *int  `json:"seconds"`
	Running *bool `json:"running"`
}

type presenterData struct {
	Name  *string `json:"name"`
	Topic *string `json:"topic"`
}

type slideData struct {
	Command string `json:"command"`
	Slide   *int   `json:"slide"`
}

type announcementData struct {
	Message *string `json:"message"`
	Visible *bool   `json:"visible"`
}

type controlData struct {
	Command string `json:"command"`
}

// slideAliases accepts both verb spellings clients use.
var slideAliases = map[string]session.SlideAction{
	"next":           session.SlideNext,
	"next_slide":     session.SlideNext,
	"previous":       session.SlidePrevious,
	"previous_slide": session.SlidePrevious,
	"prev":           session.SlidePrevious,
	"goto":           session.SlideGoto,
	"goto_slide":     session.SlideGoto,
}

var switchTargets = map[string]failover.Role{
	"switch_to_main":   failover.RoleMain,
	"switch_to_backup": failover.RoleBackup,
}

// Parse turns an envelope into a Command. Range checks that depend on the
// current state (slide bounds) happen when the command is applied.
func Parse(env Envelope) (Command, error) {
	switch env.Type {
	case TypeTimerControl:
		var d timerData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		return Mutate{
			kind:       env.Type,
			capability: auth.CapControlTimer,
			Mutation:   session.TimerUpdate{Seconds: d.Seconds, Running: d.Running},
		}, nil

	case TypePresenterUpdate:
		var d presenterData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		return Mutate{
			kind:       env.Type,
			capability: auth.CapControlAnnounce,
			Mutation:   session.PresenterUpdate{Presenter: d.Name, Topic: d.Topic},
		}, nil

	case TypeSlideControl:
		var d slideData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		action, ok := slideAliases[strings.ToLower(d.Command)]
		if !ok {
			return nil, errors.InvalidInput(fmt.Sprintf("unknown slide command %q", d.Command))
		}
		move := session.SlideMove{Action: action}
		if action == session.SlideGoto {
			if d.Slide == nil {
				return nil, errors.InvalidInput("goto requires slide")
			}
			move.Target = *d.Slide
		}
		return Mutate{kind: env.Type, capability: auth.CapControlSlides, Mutation: move}, nil

	case TypeAnnouncement:
		var d announcementData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		if d.Message == nil {
			return nil, errors.InvalidInput("announcement requires message")
		}
		visible := true
		if d.Visible != nil {
			visible = *d.Visible
		}
		return Mutate{
			kind:       env.Type,
			capability: auth.CapControlAnnounce,
			Mutation:   session.AnnouncementUpdate{Message: *d.Message, Visible: visible},
		}, nil

	case TypeControl:
		var d controlData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		target, ok := switchTargets[strings.ToLower(d.Command)]
		if !ok {
			return nil, errors.InvalidInput(fmt.Sprintf("unknown control command %q", d.Command))
		}
		return Switch{Target: target}, nil
	}
	return nil, errors.Unsupported(fmt.Sprintf("unknown message type %q", env.Type))
}

func decodeData(env Envelope, v interface{}) error {
	if len(bytes.TrimSpace(env.Data)) == 0 || string(bytes.TrimSpace(env.Data)) == "null" {
		return errors.InvalidInput(env.Type + " requires data")
	}
	dec := json.NewDecoder(bytes.NewReader(env.Data))
	if err := dec.Decode(v); err != nil {
		return errors.InvalidInput("malformed "+env.Type+" data", errors.WithCause(err))
	}
	return nil
}
