// Package session holds the shared presentation state and the only code
// allowed to mutate it.
package session

import (
	"fmt"
	"time"
)

// Defaults for a fresh session.
const (
	DefaultPresenter    = "No presenter"
	DefaultTopic        = "Welcome to the Conference"
	DefaultTimerSeconds = 600
	DefaultTotalSlides  = 30
)

// State is the canonical record of the talk in progress.
type State struct {
	TimerSeconds        int       `json:"timer_seconds"`
	TimerRunning        bool      `json:"timer_running"`
	CurrentPresenter    string    `json:"current_presenter"`
	CurrentTopic        string    `json:"current_topic"`
	Announcement        string    `json:"announcement"`
	AnnouncementVisible bool      `json:"announcement_visible"`
	CurrentSlide        int       `json:"current_slide"`
	TotalSlides         int       `json:"total_slides"`
	Sequence            uint64    `json:"sequence"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// New returns the initial state for a deck of totalSlides with the timer
// preset to timerSeconds. Non-positive arguments select the defaults.
func New(totalSlides, timerSeconds int) State {
	if totalSlides <= 0 {
		totalSlides = DefaultTotalSlides
	}
	if timerSeconds < 0 {
		timerSeconds = DefaultTimerSeconds
	}
	return State{
		TimerSeconds:     timerSeconds,
		CurrentPresenter: DefaultPresenter,
		CurrentTopic:     DefaultTopic,
		CurrentSlide:     1,
		TotalSlides:      totalSlides,
	}
}

// Validate checks the structural invariants. Snapshots received from peers
// are validated before adoption.
func (s State) Validate() error {
	if s.TotalSlides <= 0 {
		return fmt.Errorf("total_slides %d must be positive", s.TotalSlides)
	}
	if s.CurrentSlide < 1 || s.CurrentSlide > s.TotalSlides {
		return fmt.Errorf("current_slide %d out of range [1, %d]", s.CurrentSlide, s.TotalSlides)
	}
	if s.TimerSeconds < 0 {
		return fmt.Errorf("timer_seconds %d is negative", s.TimerSeconds)
	}
	if s.TimerRunning && s.TimerSeconds == 0 {
		return fmt.Errorf("timer running with no time left")
	}
	return nil
}
