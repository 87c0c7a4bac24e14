package scheduler

import (
	"sync"
	"time"
)

// Status is the externally observed state of a cell.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Event describes one cell status transition.
type Event struct {
	CellID string    `json:"cell_id"`
	Status Status    `json:"status"`
	Error  string    `json:"error,omitempty"`
	Count  int       `json:"execution_count"`
	Time   time.Time `json:"time"`
}

// Sink receives status events. The scheduler stays agnostic of how events
// reach the presentation layer; subscribers decide (WebSocket push, test
// capture, ...).
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Publish calls the function.
func (f SinkFunc) Publish(ev Event) { f(ev) }

// MemorySink captures events in memory and exposes deterministic
// snapshots. Intended for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty capture sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Publish appends the event.
func (s *MemorySink) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a copy of all captured events in arrival order.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
