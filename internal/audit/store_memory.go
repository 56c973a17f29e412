package audit

import (
	"context"
	"sync"

	id "merenda/pkg/domain"
)

// MemoryStore keeps audit events in memory, indexed by line.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[id.LineID][]Event
	order  []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[id.LineID][]Event)}
}

func (s *MemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.LineID] = append(s.events[event.LineID], event)
	s.order = append(s.order, event)
	return nil
}

// ListByLine returns the full trail for one line, oldest first.
func (s *MemoryStore) ListByLine(_ context.Context, lineID id.LineID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events[lineID]...), nil
}

// ListAll returns every event in append order.
func (s *MemoryStore) ListAll(_ context.Context) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.order...), nil
}
