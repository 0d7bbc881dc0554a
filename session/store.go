package session

import (
	"sync"
	"time"
)

// Outcome describes the effect of an applied mutation.
type Outcome struct {
	// State after the mutation (unchanged when Changed is false).
	State State

	// Changed is false for clamped navigation and ticks of a stopped timer.
	Changed bool
}

// Store owns one device's State. Every change goes through Apply or Adopt,
// which are serialized by the store's lock, so each accepted mutation
// advances Sequence by exactly one.
type Store struct {
	mu    sync.RWMutex
	state State
	now   func() time.Time
}

// NewStore creates a store holding initial.
func NewStore(initial State) *Store {
	return &Store{state: initial, now: time.Now}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Sequence returns the current sequence number.
func (s *Store) Sequence() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Sequence
}

// Apply validates and applies m. A rejected mutation returns an error and
// leaves the state, including Sequence, untouched. A no-op mutation returns
// Changed=false without advancing Sequence.
func (s *Store) Apply(m Mutation) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state
	changed, err := m.apply(&next)
	if err != nil {
		return Outcome{State: s.state}, err
	}
	if !changed {
		return Outcome{State: s.state}, nil
	}
	next.Sequence = s.state.Sequence + 1
	next.UpdatedAt = s.now().UTC()
	s.state = next
	return Outcome{State: next, Changed: true}, nil
}

// Adopt replaces the state with snap when snap is newer, or unconditionally
// when force is set. Invalid snapshots are never adopted. It reports whether
// the state was replaced.
func (s *Store) Adopt(snap State, force bool) bool {
	if snap.Validate() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !force && snap.Sequence <= s.state.Sequence {
		return false
	}
	s.state = snap
	return true
}
