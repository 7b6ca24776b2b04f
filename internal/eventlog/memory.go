package eventlog

import (
	"context"
	"sync"

	"github.com/basket/orchard/internal/event"
)

// Memory is an in-memory event log for tests and dry runs.
type Memory struct {
	mu  sync.Mutex
	evs []event.Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, ev event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evs = append(m.evs, ev)
	return nil
}

func (m *Memory) Replay(_ context.Context, fn func(event.Event) error) error {
	m.mu.Lock()
	evs := make([]event.Event, len(m.evs))
	copy(evs, m.evs)
	m.mu.Unlock()

	for _, ev := range evs {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

// Events returns a copy of everything appended so far.
func (m *Memory) Events() []event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]event.Event, len(m.evs))
	copy(out, m.evs)
	return out
}
