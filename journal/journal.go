// Package journal keeps a diagnostic record of failover transitions, device
// status changes and rejected commands. Nothing in the failover path reads
// it back.
package journal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an entry.
type Kind string

const (
	KindTransition      Kind = "transition"
	KindDeviceStatus    Kind = "device_status"
	KindCommandRejected Kind = "command_rejected"
)

// DefaultLimit is used by Recent when limit <= 0.
const DefaultLimit = 50

var ErrClosed = errors.New("journal closed")

// Entry is one journaled event.
type Entry struct {
	ID       string    `json:"id"`
	DeviceID string    `json:"device_id"`
	Kind     Kind      `json:"kind"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Sequence uint64    `json:"sequence"`
	At       time.Time `json:"at"`
}

// Journal stores entries.
type Journal interface {
	Append(ctx context.Context, e Entry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// normalize fills the id and timestamp.
func normalize(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.At = e.At.UTC()
	return e
}

// MemoryJournal is a fixed-size ring.
type MemoryJournal struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	closed  bool
}

// NewMemoryJournal keeps the last capacity entries.
func NewMemoryJournal(capacity int) *MemoryJournal {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryJournal{entries: make([]Entry, capacity)}
}

func (j *MemoryJournal) Append(_ context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	j.entries[j.next] = normalize(e)
	j.next = (j.next + 1) % len(j.entries)
	if j.next == 0 {
		j.full = true
	}
	return nil
}

func (j *MemoryJournal) Recent(_ context.Context, limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	n := j.next
	if j.full {
		n = len(j.entries)
	}
	if limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (j.next - 1 - i + len(j.entries)) % len(j.entries)
		out = append(out, j.entries[idx])
	}
	return out, nil
}

func (j *MemoryJournal) Close() error {
	j.mu.Lock()
	j.closed = true
	j.mu.Unlock()
	return nil
}
