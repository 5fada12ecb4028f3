package engine

import (
	"sync"

	"benchd/pkg/types"
)

// EventSink receives every event the engine emits. The TCP server
// implements it by broadcasting to all connected sessions.
type EventSink interface {
	Broadcast(ev types.Event)
}

// noopSink swallows events; it stands in until a real sink is attached.
type noopSink struct{}

func (noopSink) Broadcast(types.Event) {}

// MemorySink collects events for inspection in tests.
type MemorySink struct {
	mu     sync.Mutex
	events []types.Event
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Broadcast(ev types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a copy of everything broadcast so far.
func (s *MemorySink) Events() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Event, len(s.events))
	copy(out, s.events)
	return out
}
