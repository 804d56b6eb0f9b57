package scorechan

import (
	"context"
	"sync"
)

// Port carries frames across one embedding boundary. Listeners of one port are
// invoked sequentially in arrival order.
type Port interface {
	Send(ctx context.Context, msg Message) error
	Listen(fn func(Message)) (stop func())
}

type listenerEntry struct {
	id int
	fn func(Message)
}

// listenerSet is the id-keyed callback registry shared by the port implementations.
type listenerSet struct {
	mu      sync.RWMutex
	entries []listenerEntry
	nextID  int
}

func (s *listenerSet) add(fn func(Message)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, listenerEntry{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { s.remove(id) }) }
}

func (s *listenerSet) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

func (s *listenerSet) deliver(msg Message) {
	s.mu.RLock()
	snapshot := make([]listenerEntry, len(s.entries))
	copy(snapshot, s.entries)
	s.mu.RUnlock()
	for _, e := range snapshot {
		if e.fn != nil {
			e.fn(msg)
		}
	}
}
