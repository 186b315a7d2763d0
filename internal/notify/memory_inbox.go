package notify

import (
	"context"
	"sync"
)

// MemoryInbox keeps up to size events per user in process.
type MemoryInbox struct {
	mu     sync.Mutex
	size   int
	events map[string][]Event // newest first
}

func NewMemoryInbox(size int) *MemoryInbox {
	if size <= 0 {
		size = 200
	}
	return &MemoryInbox{size: size, events: make(map[string][]Event)}
}

func (m *MemoryInbox) Deliver(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, userID := range event.Recipients {
		list := append([]Event{event}, m.events[userID]...)
		if len(list) > m.size {
			list = list[:m.size]
		}
		m.events[userID] = list
	}
	return nil
}

func (m *MemoryInbox) List(_ context.Context, userID string, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.events[userID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]Event, limit)
	copy(out, list[:limit])
	return out, nil
}
