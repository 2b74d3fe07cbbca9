package analytics

import "sync"

// MemoryCollector keeps events in process; used by tests and local runs.
type MemoryCollector struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{}
}

func (m *MemoryCollector) Record(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *MemoryCollector) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Of filters recorded events by kind.
func (m *MemoryCollector) Of(kind EventKind) []Event {
	out := make([]Event, 0)
	for _, ev := range m.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (m *MemoryCollector) Close() error { return nil }
