package supervisor

import "sync"

// Event is a supervisor lifecycle notification. Minimal and stable: a name
// plus optional fields. State changes use Name "state_change" with "from"
// and "to" fields so the UI status indicator can follow the server.
type Event struct {
	Name   string
	Fields map[string]any
}

// EventPublisher receives events from the supervisor. Implementations must
// be lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MemoryPublisher stores events in-memory for tests and for the /status
// last-transition view.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
