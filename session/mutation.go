package session

import (
	"fmt"

	"github.com/vinayprograms/podium/errors"
)

// Mutation is a validated change to State. apply edits s in place and
// reports whether anything changed. On error s must be left untouched.
type Mutation interface {
	Name() string
	apply(s *State) (changed bool, err error)
}

// TimerUpdate sets the remaining seconds, the running flag, or both.
type TimerUpdate struct {
	Seconds *int
	Running *bool
}

func (TimerUpdate) Name() string { return "timer_control" }

func (m TimerUpdate) apply(s *State) (bool, error) {
	if m.Seconds == nil && m.Running == nil {
		return false, errors.InvalidInput("timer_control needs seconds or running")
	}
	seconds := s.TimerSeconds
	if m.Seconds != nil {
		if *m.Seconds < 0 {
			return false, errors.InvalidInput(fmt.Sprintf("timer seconds %d must be >= 0", *m.Seconds),
				errors.WithMetadata("seconds", fmt.Sprint(*m.Seconds)))
		}
		seconds = *m.Seconds
	}
	running := s.TimerRunning
	if m.Running != nil {
		running = *m.Running
	}
	if running && seconds == 0 {
		if m.Running != nil && *m.Running {
			return false, errors.InvalidInput("cannot start timer with no time remaining")
		}
		// Setting seconds to 0 on a running timer stops it.
		running = false
	}
	s.TimerSeconds = seconds
	s.TimerRunning = running
	return true, nil
}

// PresenterUpdate replaces the presenter name, the topic, or both.
type PresenterUpdate struct {
	Presenter *string
	Topic     *string
}

func (PresenterUpdate) Name() string { return "presenter_update" }

func (m PresenterUpdate) apply(s *State) (bool, error) {
	if m.Presenter == nil && m.Topic == nil {
		return false, errors.InvalidInput("presenter_update needs name or topic")
	}
	if m.Presenter != nil {
		s.CurrentPresenter = *m.Presenter
	}
	if m.Topic != nil {
		s.CurrentTopic = *m.Topic
	}
	return true, nil
}

// SlideAction is a slide navigation verb.
type SlideAction string

const (
	SlideNext     SlideAction = "next"
	SlidePrevious SlideAction = "previous"
	SlideGoto     SlideAction = "goto"
)

// SlideMove navigates the deck. Target is only used by SlideGoto.
type SlideMove struct {
	Action SlideAction
	Target int
}

func (SlideMove) Name() string { return "slide_control" }

func (m SlideMove) apply(s *State) (bool, error) {
	switch m.Action {
	case SlideNext:
		if s.CurrentSlide >= s.TotalSlides {
			return false, nil
		}
		s.CurrentSlide++
	case SlidePrevious:
		if s.CurrentSlide <= 1 {
			return false, nil
		}
		s.CurrentSlide--
	case SlideGoto:
		if m.Target < 1 || m.Target > s.TotalSlides {
			return false, errors.InvalidInput(
				fmt.Sprintf("slide %d out of range [1, %d]", m.Target, s.TotalSlides),
				errors.WithMetadata("slide", fmt.Sprint(m.Target)))
		}
		// goto the current slide is still an accepted mutation
		s.CurrentSlide = m.Target
	default:
		return false, errors.InvalidInput(fmt.Sprintf("unknown slide command %q", m.Action))
	}
	return true, nil
}

// AnnouncementUpdate replaces the announcement text and visibility.
type AnnouncementUpdate struct {
	Message string
	Visible bool
}

func (AnnouncementUpdate) Name() string { return "announcement" }

func (m AnnouncementUpdate) apply(s *State) (bool, error) {
	s.Announcement = m.Message
	s.AnnouncementVisible = m.Visible
	return true, nil
}

// Tick is the once-per-second countdown. It only changes state while the
// timer runs, and stops the timer in the same step that reaches zero.
type Tick struct{}

func (Tick) Name() string { return "timer_tick" }

func (Tick) apply(s *State) (bool, error) {
	if !s.TimerRunning {
		return false, nil
	}
	if s.TimerSeconds > 0 {
		s.TimerSeconds--
	}
	if s.TimerSeconds == 0 {
		s.TimerRunning = false
	}
	return true, nil
}
